package repository

import (
	"context"
	"fmt"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// InsertJobLog writes the STARTED row for one job attempt and returns
// its id.
func (r *Repository) InsertJobLog(ctx context.Context, entry monitor.JobLogEntry) (int64, error) {
	query := `
		INSERT INTO job_log (
			case_file_id, tenant_id, job_kind, status, attempt,
			worker_id, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id;
	`
	var id int64
	err := r.db.QueryRow(ctx, query,
		entry.CaseFileID, entry.TenantID, entry.Kind, entry.Status,
		entry.Attempt, entry.WorkerID, entry.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job log: %w", err)
	}
	return id, nil
}

// FinishJobLog completes the attempt row with its outcome and counters.
func (r *Repository) FinishJobLog(ctx context.Context, id int64, entry monitor.JobLogEntry) error {
	query := `
		UPDATE job_log
		SET status = $2, duration_ms = $3, binnacles_found = $4,
		    changes_detected = $5, error_kind = $6, error_message = $7,
		    completed_at = $8
		WHERE id = $1;
	`
	_, err := r.db.Exec(ctx, query,
		id, entry.Status, entry.DurationMs, entry.BinnaclesFound,
		entry.ChangesDetected, entry.ErrorKind, entry.ErrorMessage,
		entry.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("finish job log %d: %w", id, err)
	}
	return nil
}
