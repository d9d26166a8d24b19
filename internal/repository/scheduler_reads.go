package repository

import (
	"context"
	"fmt"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// EnabledSchedules loads every enabled portal-monitoring schedule joined
// to its scrape-enabled tenant.
func (r *Repository) EnabledSchedules(ctx context.Context) ([]monitor.ScheduleTenant, error) {
	query := `
		SELECT s.id, s.tenant_id, s.logic_key, s.times, s.enabled,
		       t.id, t.name, t.scrape_enabled
		FROM notification_schedules s
		JOIN tenants t ON t.id = s.tenant_id
		WHERE s.enabled AND s.logic_key = $1 AND t.scrape_enabled
		ORDER BY s.id;
	`
	rows, err := r.db.Query(ctx, query, monitor.LogicKeyPortalMonitoring)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []monitor.ScheduleTenant
	for rows.Next() {
		var st monitor.ScheduleTenant
		err := rows.Scan(
			&st.Schedule.ID,
			&st.Schedule.TenantID,
			&st.Schedule.LogicKey,
			&st.Schedule.Times,
			&st.Schedule.Enabled,
			&st.Tenant.ID,
			&st.Tenant.Name,
			&st.Tenant.ScrapeEnabled,
		)
		if err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule rows: %w", err)
	}
	return out, nil
}

// EligibleCaseFiles loads the tenant's case files that may be scraped.
func (r *Repository) EligibleCaseFiles(ctx context.Context, tenantID int64) ([]monitor.CaseFile, error) {
	query := `
		SELECT id, tenant_id, case_number, party_name,
		       scrape_enabled, scan_valid, archived, was_scanned,
		       has_pending_changes, created_at, last_scraped_at
		FROM case_files
		WHERE tenant_id = $1 AND scrape_enabled AND scan_valid AND NOT archived
		ORDER BY id;
	`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query case files: %w", err)
	}
	defer rows.Close()

	var out []monitor.CaseFile
	for rows.Next() {
		var cf monitor.CaseFile
		err := rows.Scan(
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
			return nil, fmt.Errorf("scan case file row: %w", err)
		}
		out = append(out, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case file rows: %w", err)
	}
	return out, nil
}

// SnapshotsFor batch-loads snapshots for the given case files, keyed by
// case file id.
func (r *Repository) SnapshotsFor(ctx context.Context, caseFileIDs []int64) (map[int64]monitor.Snapshot, error) {
	if len(caseFileIDs) == 0 {
		return map[int64]monitor.Snapshot{}, nil
	}
	query := `
		SELECT case_file_id, content_hash, binnacle_count, canonical_payload,
		       last_scraped_at, last_changed_at, scrape_count,
		       consecutive_no_change, error_count, last_error
		FROM snapshots
		WHERE case_file_id = ANY($1);
	`
	rows, err := r.db.Query(ctx, query, caseFileIDs)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]monitor.Snapshot, len(caseFileIDs))
	for rows.Next() {
		var snap monitor.Snapshot
		if err := scanSnapshot(rows, &snap); err != nil {
			return nil, err
		}
		out[snap.CaseFileID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}
