package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newsfan/internal/bus"
	"newsfan/internal/event"
	"newsfan/internal/filter"
	rtsup "newsfan/internal/runtime/supervisor"
	"newsfan/internal/transport"
	"newsfan/pkg/logx"
)

// Recorder receives per-recipient outcomes. Implemented by the delivery
// tracker; the coordinator never interprets outcomes itself.
type Recorder interface {
	RecordOutcome(ctx context.Context, ev event.Event, ch transport.Channel, subscriberID int64, ok bool)
}

// Coordinator fans one event out to both delivery channels concurrently.
//
// The two channels run as independently supervised tasks joined with a
// bounded wait: a hard failure or stall in one can neither delay nor cancel
// the other. Within the direct channel, recipient failures are isolated and
// collected, never thrown.
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	broadcast transport.BroadcastSender
	direct    transport.DirectSender
	recorder  Recorder
	bus       bus.Bus
	log       logx.Logger
}

func NewCoordinator(cfg Config, bc transport.BroadcastSender, direct transport.DirectSender, rec Recorder, b bus.Bus, log logx.Logger) *Coordinator {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		broadcast: bc,
		direct:    direct,
		recorder:  rec,
		bus:       b,
		log:       log,
	}
}

// Apply swaps fan-out tunables at runtime (config hot reload).
func (c *Coordinator) Apply(cfg Config) {
	cfg.setDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
}

func (c *Coordinator) snapshot() (Config, *rate.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.limiter
}

// Dispatch delivers the event to the selected recipients on both channels.
// It always returns a Result; a retried Dispatch for the same event is
// tolerated (channel delivery is at-least-once, best-effort).
func (c *Coordinator) Dispatch(ctx context.Context, ev event.Event, sel filter.Selection) Result {
	cfg, lim := c.snapshot()
	start := time.Now()

	res := Result{
		Broadcast: ChannelResult{Channel: transport.ChannelBroadcast, Attempted: len(sel.Broadcast)},
		Direct:    ChannelResult{Channel: transport.ChannelDirect, Attempted: len(sel.Direct)},
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(c.log.With(logx.String("comp", "dispatch"))),
		// One channel's error must never cancel the other.
		rtsup.WithCancelOnError(false),
	)

	var resMu sync.Mutex
	if len(sel.Broadcast) > 0 && c.broadcast != nil {
		sup.Go0("channel.broadcast", func(sctx context.Context) {
			cr := c.runBroadcast(sctx, cfg, ev, sel.Broadcast)
			resMu.Lock()
			cr.Attempted = res.Broadcast.Attempted
			res.Broadcast = cr
			resMu.Unlock()
		})
	}
	if len(sel.Direct) > 0 && c.direct != nil {
		sup.Go0("channel.direct", func(sctx context.Context) {
			cr := c.runDirect(sctx, cfg, lim, ev, sel.Direct)
			resMu.Lock()
			cr.Attempted = res.Direct.Attempted
			res.Direct = cr
			resMu.Unlock()
		})
	}

	// Bounded join: give up waiting rather than stall the pipeline worker.
	wctx, cancel := context.WithTimeout(context.Background(), cfg.JoinTimeout)
	if err := sup.Wait(wctx); err != nil {
		c.log.Warn("dispatch join timed out", logx.String("fingerprint", ev.Fingerprint), logx.Err(err))
	}
	cancel()

	// A timed-out join leaves channel tasks still writing res; the returned
	// value is a copy taken under the same lock those writes hold.
	resMu.Lock()
	out := res
	resMu.Unlock()
	out.Took = time.Since(start)
	c.report(ev, out)
	return out
}

func (c *Coordinator) runBroadcast(ctx context.Context, cfg Config, ev event.Event, recs []filter.Recipient) ChannelResult {
	cr := ChannelResult{Channel: transport.ChannelBroadcast}

	cctx, cancel := context.WithTimeout(ctx, cfg.ChannelTimeout)
	defer cancel()

	sessionIDs := make([]string, len(recs))
	for i, r := range recs {
		sessionIDs[i] = r.SessionID
	}
	delivered, err := c.broadcast.Publish(cctx, ev, sessionIDs)
	if err != nil {
		cr.Error = err.Error()
		cr.Failed = len(recs)
		c.recordAll(ctx, ev, transport.ChannelBroadcast, recs, false)
		if c.bus != nil {
			c.bus.Publish(bus.Event{Topic: bus.TopicChannelDegraded, Data: string(transport.ChannelBroadcast)})
		}
		return cr
	}
	cr.Delivered = delivered
	c.recordAll(ctx, ev, transport.ChannelBroadcast, recs, true)
	return cr
}

func (c *Coordinator) recordAll(ctx context.Context, ev event.Event, ch transport.Channel, recs []filter.Recipient, ok bool) {
	if c.recorder == nil {
		return
	}
	for _, r := range recs {
		c.recorder.RecordOutcome(ctx, ev, ch, r.SubscriberID, ok)
	}
}

func (c *Coordinator) report(ev event.Event, res Result) {
	fields := []logx.Field{
		logx.String("fingerprint", ev.Fingerprint),
		logx.Bool("urgent", ev.Urgent),
		logx.Int("broadcast_delivered", res.Broadcast.Delivered),
		logx.Int("direct_delivered", res.Direct.Delivered),
		logx.Int("direct_failed", res.Direct.Failed),
		logx.Duration("took", res.Took),
	}
	if res.Broadcast.Error != "" || res.Direct.Failed > 0 {
		c.log.Warn("dispatch finished with failures", fields...)
	} else {
		c.log.Info("dispatch finished", fields...)
	}
	if c.bus != nil {
		c.bus.Publish(bus.Event{Topic: bus.TopicDispatchDone, Data: res})
	}
}
