package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// GetCaseFile fetches one case file by id.
func (r *Repository) GetCaseFile(ctx context.Context, id int64) (monitor.CaseFile, error) {
	query := `
		SELECT id, tenant_id, case_number, party_name,
		       scrape_enabled, scan_valid, archived, was_scanned,
		       has_pending_changes, created_at, last_scraped_at
		FROM case_files
		WHERE id = $1;
	`
	var cf monitor.CaseFile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&cf.ID,
		&cf.TenantID,
		&cf.CaseNumber,
		&cf.PartyName,
		&cf.ScrapeEnabled,
		&cf.ScanValid,
		&cf.Archived,
		&cf.WasScanned,
		&cf.HasPendingChanges,
		&cf.CreatedAt,
		&cf.LastScrapedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.CaseFile{}, ErrNotFound
		}
		return monitor.CaseFile{}, fmt.Errorf("get case file %d: %w", id, err)
	}
	return cf, nil
}

// MarkScanInvalid permanently disables scraping for a case file whose
// number the portal does not recognize.
func (r *Repository) MarkScanInvalid(ctx context.Context, caseFileID int64) error {
	query := `UPDATE case_files SET scan_valid = FALSE WHERE id = $1;`
	if _, err := r.db.Exec(ctx, query, caseFileID); err != nil {
		return fmt.Errorf("mark case file %d scan invalid: %w", caseFileID, err)
	}
	return nil
}

// GetSnapshot fetches the snapshot for a case file, or nil when the first
// scrape has not completed yet.
func (r *Repository) GetSnapshot(ctx context.Context, caseFileID int64) (*monitor.Snapshot, error) {
	query := `
		SELECT case_file_id, content_hash, binnacle_count, canonical_payload,
		       last_scraped_at, last_changed_at, scrape_count,
		       consecutive_no_change, error_count, last_error
		FROM snapshots
		WHERE case_file_id = $1;
	`
	var snap monitor.Snapshot
	if err := scanSnapshot(r.db.QueryRow(ctx, query, caseFileID), &snap); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// RecordScrapeError bumps the snapshot's error bookkeeping. A case file
// that has never completed a scrape has no snapshot row; the failure is
// then carried by the job log alone.
func (r *Repository) RecordScrapeError(ctx context.Context, caseFileID int64, kind, message string, at time.Time) error {
	query := `
		UPDATE snapshots
		SET error_count = error_count + 1, last_error = $2
		WHERE case_file_id = $1;
	`
	lastError := fmt.Sprintf("%s: %s", kind, message)
	if _, err := r.db.Exec(ctx, query, caseFileID, lastError); err != nil {
		return fmt.Errorf("record scrape error for case file %d: %w", caseFileID, err)
	}
	return nil
}

// scanner abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner, snap *monitor.Snapshot) error {
	err := row.Scan(
		&snap.CaseFileID,
		&snap.ContentHash,
		&snap.BinnacleCount,
		&snap.CanonicalPayload,
		&snap.LastScrapedAt,
		&snap.LastChangedAt,
		&snap.ScrapeCount,
		&snap.ConsecutiveNoChange,
		&snap.ErrorCount,
		&snap.LastError,
	)
	if err != nil {
		return fmt.Errorf("scan snapshot row: %w", err)
	}
	return nil
}
