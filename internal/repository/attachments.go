package repository

import (
	"context"
	"fmt"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

// HasAttachment reports whether the binnacle already stores a document
// with this original name.
func (r *Repository) HasAttachment(ctx context.Context, binnacleID int64, originalName string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM file_attachments
			WHERE binnacle_id = $1 AND original_name = $2
		);
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, binnacleID, originalName).Scan(&exists); err != nil {
		return false, fmt.Errorf("check attachment %d/%s: %w", binnacleID, originalName, err)
	}
	return exists, nil
}

// InsertAttachment records an uploaded document.
func (r *Repository) InsertAttachment(ctx context.Context, att monitor.FileAttachment) error {
	query := `
		INSERT INTO file_attachments (binnacle_id, original_name, size, object_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (binnacle_id, original_name) DO NOTHING;
	`
	if _, err := r.db.Exec(ctx, query, att.BinnacleID, att.OriginalName, att.Size, att.ObjectKey); err != nil {
		return fmt.Errorf("insert attachment %s: %w", att.OriginalName, err)
	}
	return nil
}
