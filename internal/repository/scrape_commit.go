package repository

import (
	"context"
	"fmt"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// CommitScrape applies one successful scrape atomically: binnacle
// upserts, notification inserts, the snapshot upsert, change log entries
// and the case file flags all land in a single transaction. It returns
// the binnacle row id per portal index so the attachment pipeline can
// reference them afterwards.
func (r *Repository) CommitScrape(ctx context.Context, commit monitor.ScrapeCommit) (map[int]int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin scrape commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Upsert by (case_file_id, idx). Indices missing from the new set are
	// left untouched; removals only ever appear in the change log.
	upsert := `
		INSERT INTO binnacles (
			case_file_id, idx, resolution_date, entry_date, resolution,
			acto, fojas, folios, provedio_date, sumilla, user_description,
			notification_type, entry_type, procedural_stage
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (case_file_id, idx) DO UPDATE SET
			resolution_date = EXCLUDED.resolution_date,
			entry_date = EXCLUDED.entry_date,
			resolution = EXCLUDED.resolution,
			acto = EXCLUDED.acto,
			fojas = EXCLUDED.fojas,
			folios = EXCLUDED.folios,
			provedio_date = EXCLUDED.provedio_date,
			sumilla = EXCLUDED.sumilla,
			user_description = EXCLUDED.user_description,
			notification_type = EXCLUDED.notification_type,
			entry_type = EXCLUDED.entry_type,
			procedural_stage = EXCLUDED.procedural_stage
		RETURNING id;
	`
	ids := make(map[int]int64, len(commit.Binnacles))
	for _, b := range commit.Binnacles {
		var id int64
		err := tx.QueryRow(ctx, upsert,
			commit.CaseFileID, b.Index, b.ResolutionDate, b.EntryDate, b.Resolution,
			b.Acto, b.Fojas, b.Folios, b.ProvedioDate, b.Sumilla, b.UserDescription,
			b.NotificationType, b.Type, b.ProceduralStage,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("upsert binnacle %d/%d: %w", commit.CaseFileID, b.Index, err)
		}
		ids[b.Index] = id
	}

	insertNotification := `
		INSERT INTO notifications (
			binnacle_id, code, addressee, ship_date, attachments,
			delivery_method, issued_date, sent_date, arrival_date,
			charge_date, return_date, resolved_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	for index, list := range commit.Notifications {
		binnacleID, ok := ids[index]
		if !ok {
			continue
		}
		for _, n := range list {
			_, err := tx.Exec(ctx, insertNotification,
				binnacleID, n.Code, n.Addressee, n.ShipDate, n.Attachments,
				n.DeliveryMethod, n.IssuedDate, n.SentDate, n.ArrivalDate,
				n.ChargeDate, n.ReturnDate, n.ResolvedDate,
			)
			if err != nil {
				return nil, fmt.Errorf("insert notification %s for binnacle %d: %w", n.Code, binnacleID, err)
			}
		}
	}

	// One snapshot row per case file, upserted. Counters advance in SQL
	// so concurrent committers cannot lose increments.
	upsertSnapshot := `
		INSERT INTO snapshots (
			case_file_id, content_hash, binnacle_count, canonical_payload,
			last_scraped_at, last_changed_at, scrape_count,
			consecutive_no_change, error_count, last_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, 1, 0, 0, NULL)
		ON CONFLICT (case_file_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			binnacle_count = EXCLUDED.binnacle_count,
			canonical_payload = EXCLUDED.canonical_payload,
			last_scraped_at = EXCLUDED.last_scraped_at,
			last_changed_at = CASE WHEN $7 THEN EXCLUDED.last_scraped_at
			                       ELSE snapshots.last_changed_at END,
			scrape_count = snapshots.scrape_count + 1,
			consecutive_no_change = CASE WHEN $7 THEN 0
			                             ELSE snapshots.consecutive_no_change + 1 END,
			error_count = 0,
			last_error = NULL;
	`
	snap := commit.Snapshot
	_, err = tx.Exec(ctx, upsertSnapshot,
		commit.CaseFileID, snap.ContentHash, snap.BinnacleCount, snap.CanonicalPayload,
		commit.Now, snap.LastChangedAt, commit.HasChanges,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot for case file %d: %w", commit.CaseFileID, err)
	}

	insertChange := `
		INSERT INTO change_log (
			case_file_id, tenant_id, change_type, field_name,
			old_value, new_value, detected_at, notified
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE);
	`
	for _, change := range commit.Changes {
		_, err := tx.Exec(ctx, insertChange,
			commit.CaseFileID, commit.TenantID, change.Type, change.FieldName,
			change.OldValue, change.NewValue, change.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert change log entry: %w", err)
		}
	}

	updateCaseFile := `
		UPDATE case_files
		SET last_scraped_at = $2, has_pending_changes = $3, was_scanned = TRUE
		WHERE id = $1;
	`
	if _, err := tx.Exec(ctx, updateCaseFile, commit.CaseFileID, commit.Now, commit.HasChanges); err != nil {
		return nil, fmt.Errorf("update case file %d: %w", commit.CaseFileID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit scrape for case file %d: %w", commit.CaseFileID, err)
	}
	return ids, nil
}
