package config

import (
	"fmt"
	"strings"
)

// Config is the full on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Accounting AccountingConfig `json:"accounting"`
	EventStore EventStoreConfig `json:"event_store"`
	Enrich     EnrichConfig     `json:"enrich,omitempty"`
	Filter     FilterConfig     `json:"filter,omitempty"`
	Dispatch   DispatchConfig   `json:"dispatch,omitempty"`
	Pipeline   PipelineConfig   `json:"pipeline,omitempty"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
	Janitor    JanitorConfig    `json:"janitor,omitempty"`
	Telegram   TelegramConfig   `json:"telegram"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AccountingConfig controls the delivery accounting store (dedup claims,
// quota counters, recent-title history).
type AccountingConfig struct {
	Driver      string `json:"driver"` // "memory" or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// EventStoreConfig controls durable event persistence.
type EventStoreConfig struct {
	Driver      string `json:"driver"` // "sqlite" or "postgres"
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// EnrichConfig controls the optional enrichment backend. An empty provider
// disables enrichment.
type EnrichConfig struct {
	Provider string `json:"provider,omitempty"`
	Token    string `json:"token,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type FilterConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	DefaultDailyQuota   int     `json:"default_daily_quota,omitempty"`
	RecentTitleCap      int     `json:"recent_title_cap,omitempty"`
}

type DispatchConfig struct {
	Workers          int    `json:"workers,omitempty"`
	RatePerSec       int    `json:"rate_per_sec,omitempty"`
	RetryMax         int    `json:"retry_max,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	RecipientTimeout string `json:"recipient_timeout,omitempty"`
	ChannelTimeout   string `json:"channel_timeout,omitempty"`
	JoinTimeout      string `json:"join_timeout,omitempty"`
}

type PipelineConfig struct {
	QueueSize    int    `json:"queue_size,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	DrainTimeout string `json:"drain_timeout,omitempty"`
	DedupWindow  string `json:"dedup_window,omitempty"` // default 24h
}

// MetricsConfig controls the /metrics + /healthz HTTP server.
// An empty addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"`
}

// JanitorConfig holds cron expressions for background maintenance.
type JanitorConfig struct {
	PruneSchedule    string `json:"prune_schedule,omitempty"`    // default "0 * * * *"
	RolloverSchedule string `json:"rollover_schedule,omitempty"` // default "0 0 * * *"
	Timezone         string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	Offline bool   `json:"offline,omitempty"` // no network, for local runs
}

// Validate performs static checks that don't need any runtime state.
// Used both at startup and as the hot-reload gate.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Accounting.Driver) {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("accounting.driver: unknown driver %q", c.Accounting.Driver)
	}
	switch strings.TrimSpace(c.EventStore.Driver) {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.EventStore.DSN) == "" {
			return fmt.Errorf("event_store.dsn: required for postgres")
		}
	default:
		return fmt.Errorf("event_store.driver: unknown driver %q", c.EventStore.Driver)
	}
	switch strings.TrimSpace(c.Enrich.Provider) {
	case "", "openai":
	default:
		return fmt.Errorf("enrich.provider: unknown provider %q", c.Enrich.Provider)
	}
	if t := c.Filter.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("filter.similarity_threshold: must be in [0, 1], got %v", t)
	}

	for _, d := range []struct{ path, raw string }{
		{"accounting.busy_timeout", c.Accounting.BusyTimeout},
		{"event_store.busy_timeout", c.EventStore.BusyTimeout},
		{"enrich.timeout", c.Enrich.Timeout},
		{"dispatch.retry_base", c.Dispatch.RetryBase},
		{"dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay},
		{"dispatch.recipient_timeout", c.Dispatch.RecipientTimeout},
		{"dispatch.channel_timeout", c.Dispatch.ChannelTimeout},
		{"dispatch.join_timeout", c.Dispatch.JoinTimeout},
		{"pipeline.drain_timeout", c.Pipeline.DrainTimeout},
		{"pipeline.dedup_window", c.Pipeline.DedupWindow},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}
