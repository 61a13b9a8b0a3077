package accounting

import (
	"context"
	"time"
)

// Config configures the accounting store.
//
// Driver values:
//   - "memory": in-process maps (single-instance deployments, tests)
//   - "sqlite": SQLite database file
//
// An empty driver defaults to "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the shared atomic key-value surface backing dedup, quotas, and
// recent-title history. Every mutation is a single atomic operation against
// the backend; callers never do read-modify-write across two round trips.
type Store interface {
	// SetNX marks key as seen for ttl and reports whether this call won
	// (true) or the key was already live (false).
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IncrDay atomically increments a subscriber's counter for the given
	// day and returns the new value.
	IncrDay(ctx context.Context, subscriberID int64, day string) (int, error)

	// CountsForDay batch-reads day counters for a candidate set in one
	// round trip. Missing subscribers read as zero.
	CountsForDay(ctx context.Context, subscriberIDs []int64, day string) (map[int64]int, error)

	// AppendRecent appends a delivered title to a subscriber's bounded
	// recent-title list, evicting the oldest beyond max.
	AppendRecent(ctx context.Context, subscriberID int64, title string, max int) error

	// RecentTitles batch-reads recent-title lists (newest first) for a
	// candidate set in one round trip.
	RecentTitles(ctx context.Context, subscriberIDs []int64) (map[int64][]string, error)

	// Prune drops expired dedup keys, stale counters, and old titles.
	Prune(ctx context.Context) error

	Close() error
}

// CounterTTL bounds day counters: 25h so a rolling-day read near midnight
// never resurrects a pruned counter.
const CounterTTL = 25 * time.Hour

// Day formats the quota-day bucket for a timestamp. UTC, so two processes
// never disagree on the boundary.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
