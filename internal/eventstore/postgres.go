package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"newsfan/internal/event"
)

// postgresStore backs multi-instance deployments where sqlite's single
// writer would serialize ingestion.
type postgresStore struct {
	db *sql.DB
}

func openPostgres(cfg Config) (Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	st := &postgresStore{db: db}
	if err := st.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS events (
            id           BIGSERIAL PRIMARY KEY,
            fingerprint  TEXT NOT NULL UNIQUE,
            title        TEXT NOT NULL,
            body         TEXT NOT NULL DEFAULT '',
            summary      TEXT NOT NULL DEFAULT '',
            sentiment    TEXT NOT NULL DEFAULT '',
            impact_score DOUBLE PRECISION NOT NULL DEFAULT 0,
            source_id    TEXT NOT NULL,
            category     TEXT NOT NULL DEFAULT '',
            published_at BIGINT NOT NULL,
            importance   INTEGER NOT NULL,
            urgent       BOOLEAN NOT NULL DEFAULT FALSE,
            created_at   BIGINT NOT NULL
        )`)
	return err
}

func (s *postgresStore) Close() error { return s.db.Close() }

func (s *postgresStore) Persist(ctx context.Context, ev event.Event) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO events (fingerprint, title, body, summary, sentiment, impact_score,
                            source_id, category, published_at, importance, urgent, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (fingerprint) DO NOTHING
        RETURNING id`,
		ev.Fingerprint, ev.Title, ev.Body, ev.Summary, ev.Sentiment, ev.ImpactScore,
		ev.SourceID, ev.Category, ev.PublishedAt.UnixMilli(), ev.Importance, ev.Urgent,
		time.Now().UnixMilli(),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT id FROM events WHERE fingerprint = $1`, ev.Fingerprint).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (s *postgresStore) Get(ctx context.Context, id int64) (event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, fingerprint, title, body, summary, sentiment, impact_score,
               source_id, category, published_at, importance, urgent
        FROM events WHERE id = $1`, id)
	return scanPostgresEvent(row)
}

func (s *postgresStore) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, fingerprint, title, body, summary, sentiment, impact_score,
               source_id, category, published_at, importance, urgent
        FROM events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []event.Event
	for rows.Next() {
		ev, err := scanPostgresEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanPostgresEvent(r rowScanner) (event.Event, error) {
	var ev event.Event
	var publishedAt int64
	err := r.Scan(&ev.ID, &ev.Fingerprint, &ev.Title, &ev.Body, &ev.Summary, &ev.Sentiment,
		&ev.ImpactScore, &ev.SourceID, &ev.Category, &publishedAt, &ev.Importance, &ev.Urgent)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, err
	}
	ev.PublishedAt = time.UnixMilli(publishedAt)
	return ev, nil
}
