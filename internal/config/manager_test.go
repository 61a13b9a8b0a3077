package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
accounting:
  driver: memory
event_store:
  driver: sqlite
  path: ./events.db
filter:
  similarity_threshold: 0.8
  default_daily_quota: 5
dispatch:
  workers: 4
  rate_per_sec: 20
  retry_base: 500ms
telegram:
  token: ""
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Filter.SimilarityThreshold != 0.8 || cfg.Filter.DefaultDailyQuota != 5 {
		t.Fatalf("filter = %+v", cfg.Filter)
	}
	if cfg.Dispatch.RetryBase != "500ms" {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  verbosity: high
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{name: "bad driver", body: "accounting:\n  driver: redis\n"},
		{name: "bad duration", body: "dispatch:\n  retry_base: soon\n"},
		{name: "bad dedup window", body: "pipeline:\n  dedup_window: daily\n"},
		{name: "negative duration", body: "pipeline:\n  dedup_window: -1h\n"},
		{name: "threshold out of range", body: "filter:\n  similarity_threshold: 1.5\n"},
		{name: "postgres without dsn", body: "event_store:\n  driver: postgres\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, "config.yaml", tt.body)
			if _, err := NewManager(path).Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Two publishes against a buffer of one: the subscriber must see the
	// newest version, the intermediate one may be dropped.
	first := &Config{Logging: LoggingConfig{Level: "warn"}}
	second := &Config{Logging: LoggingConfig{Level: "error"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Logging.Level != "error" {
		t.Fatalf("received level %q, want the latest (error)", got.Logging.Level)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Filter:  FilterConfig{SimilarityThreshold: 0.9},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "filter": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for _, section := range changed {
		if !want[section] {
			t.Fatalf("unexpected section %q in %v", section, changed)
		}
	}

	if changed, _ := SummarizeChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
