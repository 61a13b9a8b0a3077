package app

import (
	"time"

	"newsfan/internal/accounting"
	"newsfan/internal/config"
	"newsfan/internal/dispatch"
	"newsfan/internal/eventstore"
	"newsfan/internal/filter"
	"newsfan/internal/pipeline"
	"newsfan/internal/transport"
	"newsfan/internal/transport/telegram"
	"newsfan/pkg/logx"
)

// Mapping from the on-disk config (duration strings, omittable sections) to
// each package's runtime config.

func openAccounting(cfg *config.Config, root logx.Logger) (accounting.Store, error) {
	busy, err := config.ParseDurationField("accounting.busy_timeout", cfg.Accounting.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return accounting.Open(accounting.Config{
		Driver:      cfg.Accounting.Driver,
		Path:        cfg.Accounting.Path,
		BusyTimeout: busy,
	}, root.With(logx.String("comp", "accounting")))
}

func openEventStore(cfg *config.Config, root logx.Logger) (eventstore.Store, error) {
	busy, err := config.ParseDurationField("event_store.busy_timeout", cfg.EventStore.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return eventstore.Open(eventstore.Config{
		Driver:      cfg.EventStore.Driver,
		Path:        cfg.EventStore.Path,
		DSN:         cfg.EventStore.DSN,
		BusyTimeout: busy,
	})
}

func mapFilterConfig(cfg *config.Config) filter.Config {
	return filter.Config{
		SimilarityThreshold: cfg.Filter.SimilarityThreshold,
		DefaultDailyQuota:   cfg.Filter.DefaultDailyQuota,
		RecentTitleCap:      cfg.Filter.RecentTitleCap,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		RatePerSec: cfg.Dispatch.RatePerSec,
		RetryMax:   cfg.Dispatch.RetryMax,
	}
	var err error
	if d.RetryBase, err = config.ParseDurationField("dispatch.retry_base", cfg.Dispatch.RetryBase); err != nil {
		return d, err
	}
	if d.RetryMaxDelay, err = config.ParseDurationField("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay); err != nil {
		return d, err
	}
	if d.RecipientTimeout, err = config.ParseDurationField("dispatch.recipient_timeout", cfg.Dispatch.RecipientTimeout); err != nil {
		return d, err
	}
	if d.ChannelTimeout, err = config.ParseDurationField("dispatch.channel_timeout", cfg.Dispatch.ChannelTimeout); err != nil {
		return d, err
	}
	if d.JoinTimeout, err = config.ParseDurationField("dispatch.join_timeout", cfg.Dispatch.JoinTimeout); err != nil {
		return d, err
	}
	return d, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	p := pipeline.Config{
		QueueSize: cfg.Pipeline.QueueSize,
		Workers:   cfg.Pipeline.Workers,
	}
	var err error
	if p.DrainTimeout, err = config.ParseDurationField("pipeline.drain_timeout", cfg.Pipeline.DrainTimeout); err != nil {
		return p, err
	}
	if p.DedupWindow, err = config.ParseDurationField("pipeline.dedup_window", cfg.Pipeline.DedupWindow); err != nil {
		return p, err
	}
	if p.EnrichTimeout, err = config.ParseDurationOrDefault("enrich.timeout", cfg.Enrich.Timeout, 8*time.Second); err != nil {
		return p, err
	}
	return p, nil
}

// senderOrNil avoids wrapping a nil *telegram.Sender in a non-nil interface.
func senderOrNil(s *telegram.Sender) transport.DirectSender {
	if s == nil {
		return nil
	}
	return s
}
