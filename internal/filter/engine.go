package filter

import (
	"context"
	"sync"
	"time"

	"newsfan/internal/accounting"
	"newsfan/internal/bus"
	"newsfan/internal/event"
	"newsfan/internal/subscriber"
	"newsfan/pkg/logx"
)

// Reason tags why a subscriber was excluded from direct delivery.
type Reason string

const (
	ReasonCategory     Reason = "category"
	ReasonImportance   Reason = "importance"
	ReasonQuota        Reason = "quota"
	ReasonQuotaUnknown Reason = "quota_unknown"
	ReasonSoftDup      Reason = "soft_duplicate"
	ReasonNoAddress    Reason = "no_address"
)

// Recipient pairs a subscriber with their channel address for dispatch.
type Recipient struct {
	SubscriberID int64
	SessionID    string // broadcast channel
	ChatID       int64  // direct channel
	Urgent       bool
}

// Selection is the per-channel delivery set for one event.
type Selection struct {
	Broadcast []Recipient
	Direct    []Recipient
	Skipped   map[Reason]int
}

func (s Selection) Empty() bool { return len(s.Broadcast) == 0 && len(s.Direct) == 0 }

type Config struct {
	// SimilarityThreshold is the token-Jaccard score at or above which a
	// title counts as a soft duplicate of a recently delivered one.
	SimilarityThreshold float64
	// DefaultDailyQuota applies to subscribers whose own quota is unset.
	DefaultDailyQuota int
	// RecentTitleCap bounds each subscriber's recent-title history.
	RecentTitleCap int
}

func (c *Config) setDefaults() {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = 0.70
	}
	if c.DefaultDailyQuota <= 0 {
		c.DefaultDailyQuota = 10
	}
	if c.RecentTitleCap <= 0 {
		c.RecentTitleCap = 20
	}
}

// Engine computes the delivery sets for one event against a subscriber
// snapshot. Given the same event, snapshot, and accounting state it is
// deterministic: no randomness, no time branching beyond the explicit
// quota-day boundary.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	acct accounting.Store
	bus  bus.Bus
	log  logx.Logger

	now func() time.Time
}

func NewEngine(cfg Config, acct accounting.Store, b bus.Bus, log logx.Logger) *Engine {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, acct: acct, bus: b, log: log, now: time.Now}
}

// Apply swaps tunables at runtime (config hot reload).
func (e *Engine) Apply(cfg Config) {
	cfg.setDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SelectRecipients runs the gate chain for every subscriber in the
// snapshot.
//
// Broadcast recipients pass gates 1-3 (subscription, category, importance)
// and must be connected; quota and soft-duplicate suppression apply only to
// the direct channel, since pushing to an already-open session is not
// notification fatigue. Urgent events additionally bypass the importance
// and quota gates. Soft-duplicate suppression still applies to them when
// the recent-title read succeeds; when accounting is unreadable, urgent
// events go out anyway while non-urgent ones are held back.
func (e *Engine) SelectRecipients(ctx context.Context, ev event.Event, subs []subscriber.Subscriber) (Selection, error) {
	cfg := e.config()
	sel := Selection{Skipped: map[Reason]int{}}

	idx := BuildIndex(subs)
	candidates := idx.Candidates(ev, sel.Skipped)

	directCands := make([]subscriber.Subscriber, 0, len(candidates))
	for _, s := range candidates {
		if s.Connected() {
			sel.Broadcast = append(sel.Broadcast, Recipient{
				SubscriberID: s.ID, SessionID: s.SessionID, Urgent: ev.Urgent,
			})
		}
		if s.DirectAddressable() {
			directCands = append(directCands, s)
		} else {
			sel.Skipped[ReasonNoAddress]++
		}
	}
	if len(directCands) == 0 {
		return sel, nil
	}

	ids := make([]int64, len(directCands))
	for i, s := range directCands {
		ids[i] = s.ID
	}

	// Urgent events skip the quota gate, so their counters are never read.
	var counts map[int64]int
	var countsErr error
	if !ev.Urgent {
		counts, countsErr = e.acct.CountsForDay(ctx, ids, accounting.Day(e.now()))
	}
	recents, recentsErr := e.acct.RecentTitles(ctx, ids)
	if countsErr != nil || recentsErr != nil {
		err := countsErr
		if err == nil {
			err = recentsErr
		}
		e.log.Warn("accounting batch read failed",
			logx.Err(err), logx.Bool("urgent", ev.Urgent), logx.Int("candidates", len(directCands)))
		if e.bus != nil {
			e.bus.Publish(bus.Event{Topic: bus.TopicAccountingFailed, Data: err.Error()})
		}
		if ev.Urgent {
			// A read outage can never mute an urgent alert.
			for _, s := range directCands {
				sel.Direct = append(sel.Direct, Recipient{SubscriberID: s.ID, ChatID: s.DirectChatID, Urgent: true})
			}
			return sel, nil
		}
		// Quota unknown: under-deliver rather than blow quotas silently.
		sel.Skipped[ReasonQuotaUnknown] += len(directCands)
		return sel, nil
	}

	for _, s := range directCands {
		if !ev.Urgent {
			quota := s.DailyQuota
			if quota <= 0 {
				quota = cfg.DefaultDailyQuota
			}
			if counts[s.ID] >= quota {
				sel.Skipped[ReasonQuota]++
				continue
			}
		}
		if isSoftDuplicate(ev.Title, recents[s.ID], cfg.SimilarityThreshold) {
			sel.Skipped[ReasonSoftDup]++
			continue
		}
		sel.Direct = append(sel.Direct, Recipient{SubscriberID: s.ID, ChatID: s.DirectChatID, Urgent: ev.Urgent})
	}
	return sel, nil
}

// isSoftDuplicate reports whether the title is too similar to anything the
// subscriber recently received. Catches the same story arriving from a
// different source, which fingerprint dedup cannot (different source means
// a different fingerprint).
func isSoftDuplicate(title string, recent []string, threshold float64) bool {
	for _, prev := range recent {
		if event.Similarity(title, prev) >= threshold {
			return true
		}
	}
	return false
}
