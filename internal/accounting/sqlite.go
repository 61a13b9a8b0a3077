package accounting

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"newsfan/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetNX wins when the key is absent or its previous window expired. The
// conditional upsert keeps check-and-set a single statement, so two
// concurrent ingestions of the same fingerprint cannot both pass.
func (s *sqliteStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, nil
	}
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO seen(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until WHERE seen.until < ?`,
		key, now+ttl.Milliseconds(), now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	s.maybePrune()
	return n > 0, nil
}

func (s *sqliteStore) IncrDay(ctx context.Context, subscriberID int64, day string) (int, error) {
	until := time.Now().Add(CounterTTL).UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO day_counters(sub, day, n, until) VALUES(?,?,1,?)
		 ON CONFLICT(sub, day) DO UPDATE SET n = day_counters.n + 1
		 RETURNING n`,
		subscriberID, day, until,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) CountsForDay(ctx context.Context, subscriberIDs []int64, day string) (map[int64]int, error) {
	out := make(map[int64]int, len(subscriberIDs))
	if len(subscriberIDs) == 0 {
		return out, nil
	}
	query, args := inClause(
		`SELECT sub, n FROM day_counters WHERE day = ? AND until >= ? AND sub IN `,
		subscriberIDs, day, time.Now().UnixMilli(),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRecent(ctx context.Context, subscriberID int64, title string, max int) error {
	if max <= 0 {
		max = 20
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO recent_titles(sub, at, title) VALUES(?,?,?)`,
		subscriberID, time.Now().UnixMilli(), title,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recent_titles WHERE sub = ? AND rowid NOT IN (
		   SELECT rowid FROM recent_titles WHERE sub = ? ORDER BY at DESC, rowid DESC LIMIT ?
		 )`,
		subscriberID, subscriberID, max,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) RecentTitles(ctx context.Context, subscriberIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(subscriberIDs))
	if len(subscriberIDs) == 0 {
		return out, nil
	}
	query, args := inClause(
		`SELECT sub, title FROM recent_titles WHERE sub IN `, subscriberIDs,
	)
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY sub, at DESC, rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		out[id] = append(out[id], title)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context) error {
	now := time.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen WHERE until < ?`, now); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM day_counters WHERE until < ?`, now); err != nil {
		return err
	}
	cutoff := time.Now().Add(-48 * time.Hour).UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM recent_titles WHERE at < ?`, cutoff)
	return err
}

func (s *sqliteStore) maybePrune() {
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Prune(ctx); err != nil {
		s.log.Debug("opportunistic prune failed", logx.Err(err))
	}
}

// inClause expands `prefix (?,?,...)` with leading args followed by ids.
func inClause(prefix string, ids []int64, leading ...any) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, 0, len(leading)+len(ids))
	args = append(args, leading...)
	for i, id := range ids {
		ph[i] = "?"
		args = append(args, id)
	}
	return prefix + "(" + strings.Join(ph, ",") + ")", args
}
