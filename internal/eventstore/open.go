package eventstore

import (
	"errors"
	"strings"
)

// Open initializes the configured event store.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg)
	case "postgres", "pgx":
		return openPostgres(cfg)
	default:
		return nil, errors.New("unknown eventstore driver: " + cfg.Driver)
	}
}
