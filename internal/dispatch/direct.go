package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newsfan/internal/event"
	"newsfan/internal/filter"
	"newsfan/internal/transport"
	"newsfan/pkg/logx"
)

// runDirect fans out to direct-message recipients through a bounded worker
// pool. Every recipient gets its own timeout and retry budget; one bad
// address or slow recipient never aborts the batch.
func (c *Coordinator) runDirect(ctx context.Context, cfg Config, lim *rate.Limiter, ev event.Event, recs []filter.Recipient) ChannelResult {
	cr := ChannelResult{Channel: transport.ChannelDirect}

	cctx, cancel := context.WithTimeout(ctx, cfg.ChannelTimeout)
	defer cancel()

	text := RenderMessage(ev)
	opt := &transport.SendOptions{DisablePreview: true}

	workers := cfg.Workers
	if workers > len(recs) {
		workers = len(recs)
	}
	jobs := make(chan filter.Recipient)

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for r := range jobs {
				err := c.sendOne(cctx, cfg, lim, ev, r, text, opt)
				ok := err == nil
				if c.recorder != nil {
					c.recorder.RecordOutcome(cctx, ev, transport.ChannelDirect, r.SubscriberID, ok)
				}
				mu.Lock()
				if ok {
					cr.Delivered++
				} else {
					cr.Failed++
					if len(cr.Failures) < maxReportedFailures {
						cr.Failures = append(cr.Failures, RecipientFailure{
							SubscriberID: r.SubscriberID, ChatID: r.ChatID, Error: err.Error(),
						})
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, r := range recs {
		select {
		case jobs <- r:
		case <-cctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	// Recipients never handed to a worker count as failed, not silently lost.
	if undone := len(recs) - cr.Delivered - cr.Failed; undone > 0 {
		mu.Lock()
		cr.Failed += undone
		mu.Unlock()
	}
	return cr
}

func (c *Coordinator) sendOne(ctx context.Context, cfg Config, lim *rate.Limiter, ev event.Event, r filter.Recipient, text string, opt *transport.SendOptions) error {
	// Urgent events go out with no artificial pacing; regular events wait
	// for the token bucket that smooths throughput.
	if lim != nil && !ev.Urgent {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	var last error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.RecipientTimeout)
		err := c.direct.SendDirect(callCtx, transport.DirectTarget{ChatID: r.ChatID}, text, opt)
		cancel()
		if err == nil {
			return nil
		}
		last = err
		if attempt == cfg.RetryMax {
			break
		}
		delay := retryDelay(cfg, attempt+1)
		c.log.Debug("direct send retry scheduled",
			logx.Int64("chat_id", r.ChatID), logx.Int("attempt", attempt+2),
			logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
	}
	c.log.Warn("direct send failed",
		logx.Int64("subscriber", r.SubscriberID), logx.Int64("chat_id", r.ChatID), logx.Err(last))
	return last
}

// retryDelay is exponential backoff with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
