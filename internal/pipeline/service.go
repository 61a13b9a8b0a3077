package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"newsfan/internal/accounting"
	"newsfan/internal/bus"
	"newsfan/internal/dispatch"
	"newsfan/internal/enrich"
	"newsfan/internal/event"
	"newsfan/internal/eventstore"
	"newsfan/internal/filter"
	rtsup "newsfan/internal/runtime/supervisor"
	"newsfan/internal/subscriber"
	"newsfan/pkg/logx"
)

var (
	ErrQueueFull  = errors.New("pipeline: queue full")
	ErrNotRunning = errors.New("pipeline: not running")
)

type Config struct {
	// QueueSize bounds the submission queue; Submit fails fast when full.
	QueueSize int
	// Workers is the number of concurrent pipeline workers.
	Workers int
	// EnrichTimeout is the hard deadline for the enrichment call.
	EnrichTimeout time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight events.
	DrainTimeout time.Duration
	// DedupWindow is how long a fingerprint blocks re-admission.
	DedupWindow time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.EnrichTimeout <= 0 {
		c.EnrichTimeout = 8 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 24 * time.Hour
	}
}

// Service is the ingestion pipeline: dedup gate, enrichment, persistence,
// filtering, fan-out. One worker owns one event end to end; stages never
// hand an event between goroutines.
type Service struct {
	cfg Config

	acct     accounting.Store
	store    eventstore.Store
	enricher enrich.Enricher
	engine   *filter.Engine
	coord    *dispatch.Coordinator
	subs     subscriber.SnapshotProvider
	bus      bus.Bus
	log      logx.Logger

	mu      sync.Mutex
	queue   chan event.Raw
	sup     *rtsup.Supervisor
	running bool
}

func New(cfg Config, acct accounting.Store, store eventstore.Store, enricher enrich.Enricher,
	engine *filter.Engine, coord *dispatch.Coordinator, subs subscriber.SnapshotProvider,
	b bus.Bus, log logx.Logger) *Service {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if b == nil {
		b = bus.New()
	}
	return &Service{
		cfg:      cfg,
		acct:     acct,
		store:    store,
		enricher: enricher,
		engine:   engine,
		coord:    coord,
		subs:     subs,
		bus:      b,
		log:      log,
	}
}

// Start launches the worker pool. Safe to call once per Service lifetime.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("pipeline: already started")
	}
	s.queue = make(chan event.Raw, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "pipeline"))))
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.Go0(fmt.Sprintf("worker-%d", i), s.worker)
	}
	s.running = true
	s.log.Info("pipeline started",
		logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
	return nil
}

// Submit enqueues a raw event. It never blocks; a full queue is the
// caller's signal to back off upstream.
func (s *Service) Submit(raw event.Raw) error {
	s.mu.Lock()
	q, running := s.queue, s.running
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case q <- raw:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for workers to drain in-flight events,
// up to DrainTimeout.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.queue)
	sup := s.sup
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("pipeline drain timed out", logx.Err(err))
	}
	sup.Cancel()
	s.log.Info("pipeline stopped")
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-s.queue:
			if !ok {
				return
			}
			s.process(ctx, raw)
		}
	}
}

// process runs one event through the full chain. Failures after admission
// are logged and counted, never re-queued; the dedup claim stands, so a
// retry of the same story from upstream is dropped as a duplicate. That
// trade keeps the gate simple and the pipeline at-most-once past it.
func (s *Service) process(ctx context.Context, raw event.Raw) {
	ev := event.FromRaw(raw)
	log := s.log.With(logx.String("fingerprint", ev.Fingerprint))

	if !s.admit(ctx, ev) {
		return
	}

	ev = s.enrichEvent(ctx, ev)

	id, isNew, err := s.store.Persist(ctx, ev)
	if err != nil {
		log.Error("event persistence failed", logx.Err(err))
		return
	}
	ev.ID = id
	if !isNew {
		// Another instance (or a pre-restart run) already owns this story.
		log.Debug("fingerprint already persisted, skipping delivery")
		s.bus.Publish(bus.Event{Topic: bus.TopicPersistedStale, Data: ev.Fingerprint})
		return
	}

	snap, err := s.subs.ActiveSubscribers(ctx)
	if err != nil {
		log.Error("subscriber snapshot failed", logx.Err(err))
		return
	}

	sel, err := s.engine.SelectRecipients(ctx, ev, snap)
	if err != nil {
		log.Error("recipient selection failed", logx.Err(err))
		return
	}
	if len(sel.Skipped) > 0 {
		skips := make(map[string]int, len(sel.Skipped))
		for reason, n := range sel.Skipped {
			skips[string(reason)] = n
		}
		s.bus.Publish(bus.Event{Topic: bus.TopicFilterSkipped, Data: skips})
	}
	if sel.Empty() {
		log.Debug("no recipients selected")
		return
	}

	res := s.coord.Dispatch(ctx, ev, sel)
	log.Info("event processed",
		logx.Bool("urgent", ev.Urgent),
		logx.Int("broadcast_delivered", res.Broadcast.Delivered),
		logx.Int("direct_delivered", res.Direct.Delivered),
		logx.Int("direct_failed", res.Direct.Failed))
}
