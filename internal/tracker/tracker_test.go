package tracker

import (
	"context"
	"testing"
	"time"

	"newsfan/internal/accounting"
	"newsfan/internal/bus"
	"newsfan/internal/event"
	"newsfan/internal/transport"
	"newsfan/pkg/logx"
)

func newTestTracker(t *testing.T) (*Tracker, accounting.Store) {
	t.Helper()
	acct, err := accounting.Open(accounting.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("accounting open: %v", err)
	}
	t.Cleanup(func() { _ = acct.Close() })
	// nil registerer keeps tests independent of the global registry.
	return New(Config{}, acct, nil, logx.Nop()), acct
}

func dayCount(t *testing.T, acct accounting.Store, id int64) int {
	t.Helper()
	counts, err := acct.CountsForDay(context.Background(), []int64{id}, accounting.Day(time.Now()))
	if err != nil {
		t.Fatalf("CountsForDay error: %v", err)
	}
	return counts[id]
}

func TestRecordOutcomeQuotaAccounting(t *testing.T) {
	t.Parallel()
	trk, acct := newTestTracker(t)
	ctx := context.Background()
	ev := event.Event{Fingerprint: "f", Title: "fed raises rates", Category: "finance"}

	// Successful non-urgent direct send: quota and history advance.
	trk.RecordOutcome(ctx, ev, transport.ChannelDirect, 1, true)
	if got := dayCount(t, acct, 1); got != 1 {
		t.Fatalf("day count = %d, want 1", got)
	}
	recents, err := acct.RecentTitles(ctx, []int64{1})
	if err != nil {
		t.Fatalf("RecentTitles error: %v", err)
	}
	if len(recents[1]) != 1 || recents[1][0] != "fed raises rates" {
		t.Fatalf("recent titles = %v, want the delivered title", recents[1])
	}

	// Failed send: no quota charge.
	trk.RecordOutcome(ctx, ev, transport.ChannelDirect, 1, false)
	if got := dayCount(t, acct, 1); got != 1 {
		t.Fatalf("day count = %d after failure, want still 1", got)
	}

	// Broadcast delivery never counts against the direct quota.
	trk.RecordOutcome(ctx, ev, transport.ChannelBroadcast, 1, true)
	if got := dayCount(t, acct, 1); got != 1 {
		t.Fatalf("day count = %d after broadcast, want still 1", got)
	}

	// Urgent direct delivery is exempt too.
	urgent := ev
	urgent.Urgent = true
	trk.RecordOutcome(ctx, urgent, transport.ChannelDirect, 1, true)
	if got := dayCount(t, acct, 1); got != 1 {
		t.Fatalf("day count = %d after urgent, want still 1", got)
	}
}

func TestSnapshotCounts(t *testing.T) {
	t.Parallel()
	trk, _ := newTestTracker(t)
	ctx := context.Background()
	ev := event.Event{Fingerprint: "f", Title: "t", Category: "tech"}

	trk.RecordOutcome(ctx, ev, transport.ChannelDirect, 1, true)
	trk.RecordOutcome(ctx, ev, transport.ChannelDirect, 2, false)
	trk.RecordOutcome(ctx, ev, transport.ChannelBroadcast, 1, true)

	st := trk.Snapshot()
	if st.Delivered[transport.ChannelDirect] != 1 || st.Delivered[transport.ChannelBroadcast] != 1 {
		t.Fatalf("delivered = %v, want one per channel", st.Delivered)
	}
	if st.Failed[transport.ChannelDirect] != 1 {
		t.Fatalf("failed = %v, want one direct failure", st.Failed)
	}
	if st.ByCategory["tech"] != 2 {
		t.Fatalf("by category = %v, want 2 tech deliveries", st.ByCategory)
	}

	// Snapshot is a copy; mutating it must not leak back.
	st.Delivered[transport.ChannelDirect] = 99
	if trk.Snapshot().Delivered[transport.ChannelDirect] != 1 {
		t.Fatal("snapshot mutation leaked into the tracker")
	}
}

func TestRunConsumesBusTopics(t *testing.T) {
	t.Parallel()
	trk, _ := newTestTracker(t)
	b := bus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		trk.Run(ctx, b)
		close(done)
	}()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(20 * time.Millisecond)
	b.Publish(bus.Event{Topic: bus.TopicAccepted, Data: "f1"})
	b.Publish(bus.Event{Topic: bus.TopicDeduped, Data: "f2"})
	b.Publish(bus.Event{Topic: bus.TopicEnrichDegraded, Data: "f1"})
	b.Publish(bus.Event{Topic: bus.TopicFilterSkipped, Data: map[string]int{"quota": 3}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := trk.Snapshot()
		if st.Accepted == 1 && st.Deduped == 1 && st.Degraded == 1 && st.Skips["quota"] == 3 {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot never converged: %+v", trk.Snapshot())
}
