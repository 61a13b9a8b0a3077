package accounting

import (
	"errors"
	"strings"

	"newsfan/pkg/logx"
)

// Open initializes the configured accounting backend.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return newMemStore(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown accounting driver: " + cfg.Driver)
	}
}
