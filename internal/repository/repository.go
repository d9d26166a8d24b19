// Package repository provides Postgres-backed persistence for the scrape
// coordination engine. It owns the snapshots, change_log and job_log
// tables; the remaining entities are shared with the notification
// consumer service.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of pgxpool.Pool the repository uses; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Repository implements monitor.Repository over a pgx pool.
type Repository struct {
	db DB
}

// New connects a pool and verifies the connection.
func New(ctx context.Context, dsn string) (*Repository, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{db: pool}, pool, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db DB) *Repository {
	return &Repository{db: db}
}

// Ping reports database reachability.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
