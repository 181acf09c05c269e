package repository

import (
	"context"
	"database/sql"
	"time"

	"watertank_node/internal/models"
)

// StateRepo persists the little node state that must survive power cycles.
type StateRepo interface {
	// IncrementBoot bumps and returns the boot counter. Called exactly once
	// per process start, before the first presence announcement.
	IncrementBoot(ctx context.Context) (int64, error)
	BootCount(ctx context.Context) (int64, error)
}

// EventRepo is the local diagnostic journal. Append-only from the node's
// perspective; List exists for on-box inspection. The journal never feeds
// the broker.
type EventRepo interface {
	Append(ctx context.Context, e models.NodeEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.NodeEvent, error)
}

type Repository struct {
	State  StateRepo
	Events EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		State:  NewStateSQLite(db),
		Events: NewEventSQLite(db),
	}
}
