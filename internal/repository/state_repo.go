package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type StateSQLite struct {
	db *sql.DB
}

func NewStateSQLite(db *sql.DB) *StateSQLite {
	return &StateSQLite{db: db}
}

// Single-row table, id always 1. The upsert makes the first boot and every
// later boot the same statement.
const (
	nodeStateRowID = 1

	incrementBootSQL = `
		INSERT INTO node_state (id, boot_count, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			boot_count = boot_count + 1,
			updated_at = excluded.updated_at
	`

	selectBootSQL = `SELECT boot_count FROM node_state WHERE id = ?`
)

// IncrementBoot bumps the persisted boot counter and returns the new value.
func (r *StateSQLite) IncrementBoot(ctx context.Context) (int64, error) {
	if _, err := r.db.ExecContext(ctx, incrementBootSQL, nodeStateRowID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("increment boot count: %w", err)
	}
	return r.BootCount(ctx)
}

// BootCount returns the persisted counter; 0 when the node has never booted
// with this data directory.
func (r *StateSQLite) BootCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, selectBootSQL, nodeStateRowID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load boot count: %w", err)
	}
	return count, nil
}
