package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"watertank_node/internal/models"
	"watertank_node/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestEventSQLite_Append_FillsIDAndTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer db.Close()

	repo := repository.NewEventSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO node_events")).
		WithArgs(
			sqlmock.AnyArg(), // generated uuid
			sqlmock.AnyArg(), // generated timestamp
			"SENSOR_FAILURE", // type normalized to upper-case
			"10 consecutive sampling failures",
			sqlmock.AnyArg(), // marshaled metadata
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ev := models.NodeEvent{
		Type:        "sensor_failure",
		Description: "10 consecutive sampling failures",
		Metadata:    map[string]any{"consecutive": 10},
	}
	if err := repo.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEventSQLite_List_FiltersByTypeAndRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer db.Close()

	repo := repository.NewEventSQLite(db)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	occurred := from.Add(6 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, occurred_at, type, message, meta FROM node_events")).
		WithArgs(from, to, "NET_DOWN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "type", "message", "meta"}).
			AddRow("ev-1", occurred, "NET_DOWN", "network association lost", nil))

	got, err := repo.List(context.Background(), from, to, "net_down")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d events, want 1", len(got))
	}
	if got[0].Type != "NET_DOWN" || got[0].EventID != "ev-1" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
	if !got[0].OccurredAt.Equal(occurred) {
		t.Fatalf("occurred_at = %v, want %v", got[0].OccurredAt, occurred)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
