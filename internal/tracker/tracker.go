package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"newsfan/internal/accounting"
	"newsfan/internal/bus"
	"newsfan/internal/event"
	"newsfan/internal/transport"
	"newsfan/pkg/logx"
)

type Config struct {
	// Addr serves /metrics and /healthz; empty disables the HTTP server.
	Addr string
	// RecentTitleCap bounds per-subscriber recent-title history.
	RecentTitleCap int
}

// Stats is the read-only operational snapshot. Observability output only;
// filtering decisions never read it.
type Stats struct {
	StartedAt  time.Time                    `json:"started_at"`
	Accepted   uint64                       `json:"events_accepted"`
	Deduped    uint64                       `json:"events_deduped"`
	Degraded   uint64                       `json:"enrichment_degraded"`
	Delivered  map[transport.Channel]uint64 `json:"delivered"`
	Failed     map[transport.Channel]uint64 `json:"failed"`
	ByCategory map[string]uint64            `json:"delivered_by_category"`
	Skips      map[string]uint64            `json:"filter_skips"`
}

// Tracker records delivery outcomes back into accounting (closing the loop
// for future quota decisions) and keeps rolling statistics.
type Tracker struct {
	cfg  Config
	acct accounting.Store
	log  logx.Logger

	deliveries *prometheus.CounterVec
	byCategory *prometheus.CounterVec
	skips      *prometheus.CounterVec
	accepted   prometheus.Counter
	deduped    prometheus.Counter
	degraded   prometheus.Counter

	mu    sync.Mutex
	stats Stats

	now func() time.Time
}

func New(cfg Config, acct accounting.Store, reg prometheus.Registerer, log logx.Logger) *Tracker {
	if cfg.RecentTitleCap <= 0 {
		cfg.RecentTitleCap = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{
		cfg:  cfg,
		acct: acct,
		log:  log,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsfan_deliveries_total",
			Help: "Delivery outcomes by channel.",
		}, []string{"channel", "outcome"}),
		byCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsfan_delivered_by_category_total",
			Help: "Successful deliveries by event category.",
		}, []string{"category", "channel"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsfan_filter_skips_total",
			Help: "Subscribers excluded by the filter engine, by gate.",
		}, []string{"reason"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsfan_events_accepted_total",
			Help: "Events admitted past the dedup gate.",
		}),
		deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsfan_events_deduped_total",
			Help: "Events dropped as exact duplicates.",
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsfan_enrichment_degraded_total",
			Help: "Events that proceeded unenriched after an enrichment timeout or error.",
		}),
		stats: Stats{
			StartedAt:  time.Now(),
			Delivered:  map[transport.Channel]uint64{},
			Failed:     map[transport.Channel]uint64{},
			ByCategory: map[string]uint64{},
			Skips:      map[string]uint64{},
		},
		now: time.Now,
	}
	if reg != nil {
		reg.MustRegister(t.deliveries, t.byCategory, t.skips, t.accepted, t.deduped, t.degraded)
	}
	return t
}

// RecordOutcome implements dispatch.Recorder.
//
// Successful non-urgent direct deliveries feed quota accounting: the day
// counter increments and the title joins the recent-title history. Failed
// deliveries never touch quota; a subscriber isn't penalized for a send the
// system failed to make.
func (t *Tracker) RecordOutcome(ctx context.Context, ev event.Event, ch transport.Channel, subscriberID int64, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	t.deliveries.WithLabelValues(string(ch), outcome).Inc()

	t.mu.Lock()
	if ok {
		t.stats.Delivered[ch]++
		if ev.Category != "" {
			t.stats.ByCategory[ev.Category]++
		}
	} else {
		t.stats.Failed[ch]++
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	if ev.Category != "" {
		t.byCategory.WithLabelValues(ev.Category, string(ch)).Inc()
	}
	if ch != transport.ChannelDirect || ev.Urgent {
		return
	}

	day := accounting.Day(t.now())
	if _, err := t.acct.IncrDay(ctx, subscriberID, day); err != nil {
		t.log.Warn("quota increment failed", logx.Int64("subscriber", subscriberID), logx.Err(err))
	}
	if err := t.acct.AppendRecent(ctx, subscriberID, ev.Title, t.cfg.RecentTitleCap); err != nil {
		t.log.Warn("recent-title append failed", logx.Int64("subscriber", subscriberID), logx.Err(err))
	}
}

// Snapshot returns a copy of the rolling statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.stats
	out.Delivered = copyMap(t.stats.Delivered)
	out.Failed = copyMap(t.stats.Failed)
	out.ByCategory = copyMap(t.stats.ByCategory)
	out.Skips = copyMap(t.stats.Skips)
	return out
}

// Run consumes pipeline telemetry off the bus until ctx is done.
func (t *Tracker) Run(ctx context.Context, b bus.Bus) {
	ch, unsub := b.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			t.consume(e)
		}
	}
}

func (t *Tracker) consume(e bus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Topic {
	case bus.TopicAccepted:
		t.accepted.Inc()
		t.stats.Accepted++
	case bus.TopicDeduped:
		t.deduped.Inc()
		t.stats.Deduped++
	case bus.TopicEnrichDegraded:
		t.degraded.Inc()
		t.stats.Degraded++
	case bus.TopicFilterSkipped:
		if skips, ok := e.Data.(map[string]int); ok {
			for reason, n := range skips {
				t.skips.WithLabelValues(reason).Add(float64(n))
				t.stats.Skips[reason] += uint64(n)
			}
		}
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
