package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"newsfan/internal/event"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (Store, error) {
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
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db}
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

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Persist(ctx context.Context, ev event.Event) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(fingerprint, title, body, summary, sentiment, impact_score,
		                    source_id, category, published_at, importance, urgent, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		ev.Fingerprint, ev.Title, ev.Body, ev.Summary, ev.Sentiment, ev.ImpactScore,
		ev.SourceID, ev.Category, ev.PublishedAt.UnixMilli(), ev.Importance, boolInt(ev.Urgent),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n > 0 {
		id, err := res.LastInsertId()
		return id, true, err
	}
	// Lost the race (or a backfill already stored it): hand back the winner.
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM events WHERE fingerprint = ?`, ev.Fingerprint).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, title, body, summary, sentiment, impact_score,
		        source_id, category, published_at, importance, urgent
		 FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, title, body, summary, sentiment, impact_score,
		        source_id, category, published_at, importance, urgent
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (event.Event, error) {
	var ev event.Event
	var publishedAt int64
	var urgent int
	err := r.Scan(&ev.ID, &ev.Fingerprint, &ev.Title, &ev.Body, &ev.Summary, &ev.Sentiment,
		&ev.ImpactScore, &ev.SourceID, &ev.Category, &publishedAt, &ev.Importance, &urgent)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, err
	}
	ev.PublishedAt = time.UnixMilli(publishedAt)
	ev.Urgent = urgent != 0
	return ev, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
