package eventstore

import (
	"context"
	"errors"
	"time"

	"newsfan/internal/event"
)

var ErrNotFound = errors.New("event not found")

// Config configures durable event persistence.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via pgx
type Config struct {
	Driver      string
	Path        string        // sqlite file path
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only
}

// Store persists accepted events.
//
// Persist is idempotent on fingerprint: inserting an already-stored
// fingerprint returns the existing row's id with isNew=false instead of
// erroring. This is the second dedup line behind the gate's TTL check; the
// uniqueness constraint is the concurrency guard, no app-level locking.
type Store interface {
	Persist(ctx context.Context, ev event.Event) (id int64, isNew bool, err error)
	Get(ctx context.Context, id int64) (event.Event, error)
	Recent(ctx context.Context, limit int) ([]event.Event, error)
	Close() error
}
