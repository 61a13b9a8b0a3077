package config

import (
	"reflect"
	"sort"
	"strings"

	"newsfan/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. Secrets (tokens, DSNs) are never included; only whether
// they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Accounting, newCfg.Accounting) {
		changed = append(changed, "accounting")
		attrs = append(attrs, logx.String("accounting.driver", newCfg.Accounting.Driver))
	}
	if !reflect.DeepEqual(oldCfg.EventStore, newCfg.EventStore) {
		changed = append(changed, "event_store")
		attrs = append(attrs,
			logx.String("event_store.driver", newCfg.EventStore.Driver),
			logx.Bool("event_store.dsn_set", strings.TrimSpace(newCfg.EventStore.DSN) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Enrich, newCfg.Enrich) {
		changed = append(changed, "enrich")
		attrs = append(attrs,
			logx.String("enrich.provider", newCfg.Enrich.Provider),
			logx.Bool("enrich.token_set", strings.TrimSpace(newCfg.Enrich.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Filter, newCfg.Filter) {
		changed = append(changed, "filter")
		attrs = append(attrs,
			logx.Float64("filter.similarity_threshold", newCfg.Filter.SimilarityThreshold),
			logx.Int("filter.default_daily_quota", newCfg.Filter.DefaultDailyQuota),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}
	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, "pipeline")
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
	}
	if !reflect.DeepEqual(oldCfg.Janitor, newCfg.Janitor) {
		changed = append(changed, "janitor")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.offline", newCfg.Telegram.Offline),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
