package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewWithDB(mock)
}

func strPtr(s string) *string { return &s }

func TestGetCaseFile(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	created := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, tenant_id, case_number`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "case_number", "party_name",
			"scrape_enabled", "scan_valid", "archived", "was_scanned",
			"has_pending_changes", "created_at", "last_scraped_at",
		}).AddRow(
			int64(42), int64(7), "00123-2024-0-1801-JR-CI-01", "ACME SAC",
			true, true, false, true, false, created, (*time.Time)(nil),
		))

	cf, err := repo.GetCaseFile(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), cf.ID)
	require.Equal(t, "ACME SAC", cf.PartyName)
	require.True(t, cf.Eligible())
	require.Nil(t, cf.LastScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCaseFile_NotFound(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery(`SELECT id, tenant_id, case_number`).
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.GetCaseFile(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshot_Missing(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery(`SELECT case_file_id, content_hash`).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"case_file_id"}))

	snap, err := repo.GetSnapshot(context.Background(), 42)
	require.NoError(t, err)
	require.Nil(t, snap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotsFor(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	scraped := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT case_file_id, content_hash`).
		WithArgs([]int64{1, 2}).
		WillReturnRows(pgxmock.NewRows([]string{
			"case_file_id", "content_hash", "binnacle_count", "canonical_payload",
			"last_scraped_at", "last_changed_at", "scrape_count",
			"consecutive_no_change", "error_count", "last_error",
		}).AddRow(
			int64(1), "ab12", 3, []byte(`[]`),
			scraped, (*time.Time)(nil), 4, 2, 0, (*string)(nil),
		))

	snaps, err := repo.SnapshotsFor(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, 4, snaps[1].ScrapeCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScanInvalid(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectExec(`UPDATE case_files SET scan_valid = FALSE`).
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.MarkScanInvalid(context.Background(), 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordScrapeError(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectExec(`UPDATE snapshots`).
		WithArgs(int64(42), "CAPTCHA_FAILED: no strategy solved the challenge").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.RecordScrapeError(context.Background(), 42,
		"CAPTCHA_FAILED", "no strategy solved the challenge", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitScrape(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	acto := strPtr("DECRETO")
	commit := monitor.ScrapeCommit{
		CaseFileID: 42,
		TenantID:   7,
		Binnacles: []monitor.Binnacle{
			{CaseFileID: 42, Index: 1, Acto: acto, Type: monitor.BinnacleWrit},
		},
		Notifications: map[int][]monitor.Notification{
			1: {{Code: "0001-2026"}},
		},
		Snapshot: monitor.Snapshot{
			ContentHash:      "feed01",
			BinnacleCount:    1,
			CanonicalPayload: []byte(`[{"index":1}]`),
			LastChangedAt:    &now,
		},
		Changes: []monitor.ChangeLogEntry{
			{Type: monitor.ChangeModifiedBinnacle, FieldName: strPtr("acto"), OldValue: strPtr("X"), NewValue: strPtr("DECRETO"), DetectedAt: now},
		},
		HasChanges: true,
		Now:        now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO binnacles`).
		WithArgs(int64(42), 1,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(int64(501), "0001-2026",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO snapshots`).
		WithArgs(int64(42), "feed01", 1, []byte(`[{"index":1}]`), now, pgxmock.AnyArg(), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO change_log`).
		WithArgs(int64(42), int64(7), monitor.ChangeModifiedBinnacle,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE case_files`).
		WithArgs(int64(42), now, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	ids, err := repo.CommitScrape(context.Background(), commit)
	require.NoError(t, err)
	require.Equal(t, int64(501), ids[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitScrape_RollsBackOnFailure(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	commit := monitor.ScrapeCommit{
		CaseFileID: 42,
		TenantID:   7,
		Binnacles:  []monitor.Binnacle{{CaseFileID: 42, Index: 1, Type: monitor.BinnacleWrit}},
		Now:        time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO binnacles`).
		WithArgs(int64(42), 1,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, err := repo.CommitScrape(context.Background(), commit)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachments(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(501), "resolucion_tres.pdf").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO file_attachments`).
		WithArgs(int64(501), "resolucion_tres.pdf", int64(20480), "tenants/7/attachments/u1.pdf").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	exists, err := repo.HasAttachment(context.Background(), 501, "resolucion_tres.pdf")
	require.NoError(t, err)
	require.False(t, exists)

	err = repo.InsertAttachment(context.Background(), monitor.FileAttachment{
		BinnacleID:   501,
		OriginalName: "resolucion_tres.pdf",
		Size:         20480,
		ObjectKey:    "tenants/7/attachments/u1.pdf",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLog(t *testing.T) {
	t.Parallel()
	mock, repo := newMock(t)

	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO job_log`).
		WithArgs(int64(42), int64(7), monitor.JobMonitor, monitor.JobLogStarted, 1, "worker-1", started).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9001)))
	mock.ExpectExec(`UPDATE job_log`).
		WithArgs(int64(9001), monitor.JobLogCompleted,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := repo.InsertJobLog(context.Background(), monitor.JobLogEntry{
		CaseFileID: 42,
		TenantID:   7,
		Kind:       monitor.JobMonitor,
		Status:     monitor.JobLogStarted,
		Attempt:    1,
		WorkerID:   "worker-1",
		StartedAt:  started,
	})
	require.NoError(t, err)
	require.Equal(t, int64(9001), id)

	completed := started.Add(30 * time.Second)
	duration := int64(30000)
	found := 2
	require.NoError(t, repo.FinishJobLog(context.Background(), id, monitor.JobLogEntry{
		Status:         monitor.JobLogCompleted,
		DurationMs:     &duration,
		BinnaclesFound: &found,
		CompletedAt:    &completed,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
