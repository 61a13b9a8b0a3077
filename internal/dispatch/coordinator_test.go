package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"newsfan/internal/event"
	"newsfan/internal/filter"
	"newsfan/internal/transport"
	"newsfan/pkg/logx"
)

type fakeBroadcast struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (f *fakeBroadcast) Publish(ctx context.Context, ev event.Event, sessionIDs []string) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return 0, f.err
	}
	return len(sessionIDs), nil
}

type fakeDirect struct {
	mu       sync.Mutex
	attempts map[int64]int
	// failFor makes sends to these chat ids fail permanently.
	failFor map[int64]bool
	// failFirst makes the first attempt per chat fail, the retry succeed.
	failFirst bool
}

func (f *fakeDirect) SendDirect(ctx context.Context, to transport.DirectTarget, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[int64]int{}
	}
	f.attempts[to.ChatID]++
	if f.failFor[to.ChatID] {
		return errors.New("chat unreachable")
	}
	if f.failFirst && f.attempts[to.ChatID] == 1 {
		return errors.New("transient")
	}
	return nil
}

type recordedOutcome struct {
	channel      transport.Channel
	subscriberID int64
	ok           bool
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (f *fakeRecorder) RecordOutcome(ctx context.Context, ev event.Event, ch transport.Channel, subscriberID int64, ok bool) {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, recordedOutcome{channel: ch, subscriberID: subscriberID, ok: ok})
	f.mu.Unlock()
}

func (f *fakeRecorder) byChannel(ch transport.Channel) (success, failure int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.outcomes {
		if o.channel != ch {
			continue
		}
		if o.ok {
			success++
		} else {
			failure++
		}
	}
	return success, failure
}

func testConfig() Config {
	return Config{
		Workers:          2,
		RatePerSec:       1000,
		RetryMax:         1,
		RetryBase:        time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		RecipientTimeout: time.Second,
		ChannelTimeout:   2 * time.Second,
		JoinTimeout:      5 * time.Second,
	}
}

func testSelection() filter.Selection {
	return filter.Selection{
		Broadcast: []filter.Recipient{
			{SubscriberID: 1, SessionID: "sess-1"},
			{SubscriberID: 2, SessionID: "sess-2"},
		},
		Direct: []filter.Recipient{
			{SubscriberID: 1, ChatID: 101},
			{SubscriberID: 2, ChatID: 102},
		},
	}
}

func TestDispatchBothChannels(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{}
	dm := &fakeDirect{}
	rec := &fakeRecorder{}
	c := NewCoordinator(testConfig(), bc, dm, rec, nil, logx.Nop())

	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f1", Title: "t"}, testSelection())

	if res.Broadcast.Delivered != 2 || res.Broadcast.Failed != 0 {
		t.Fatalf("broadcast = %+v, want 2 delivered", res.Broadcast)
	}
	if res.Direct.Delivered != 2 || res.Direct.Failed != 0 {
		t.Fatalf("direct = %+v, want 2 delivered", res.Direct)
	}
	if s, f := rec.byChannel(transport.ChannelDirect); s != 2 || f != 0 {
		t.Fatalf("direct outcomes = %d ok / %d failed, want 2/0", s, f)
	}
}

func TestDispatchDirectFailureDoesNotAffectBroadcast(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{}
	dm := &fakeDirect{failFor: map[int64]bool{101: true, 102: true}}
	rec := &fakeRecorder{}
	c := NewCoordinator(testConfig(), bc, dm, rec, nil, logx.Nop())

	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f2"}, testSelection())

	if res.Broadcast.Delivered != 2 {
		t.Fatalf("broadcast = %+v, want unaffected by direct failures", res.Broadcast)
	}
	if res.Direct.Failed != 2 || res.Direct.Delivered != 0 {
		t.Fatalf("direct = %+v, want both failed", res.Direct)
	}
	if len(res.Direct.Failures) != 2 {
		t.Fatalf("failures = %+v, want per-recipient detail", res.Direct.Failures)
	}
	if s, f := rec.byChannel(transport.ChannelDirect); s != 0 || f != 2 {
		t.Fatalf("direct outcomes = %d ok / %d failed, want 0/2", s, f)
	}
}

func TestDispatchBroadcastErrorDoesNotAffectDirect(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{err: errors.New("hub down")}
	dm := &fakeDirect{}
	rec := &fakeRecorder{}
	c := NewCoordinator(testConfig(), bc, dm, rec, nil, logx.Nop())

	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f3"}, testSelection())

	if res.Broadcast.Error == "" || res.Broadcast.Failed != 2 {
		t.Fatalf("broadcast = %+v, want recorded error", res.Broadcast)
	}
	if res.Direct.Delivered != 2 {
		t.Fatalf("direct = %+v, want unaffected by broadcast error", res.Direct)
	}
	if s, f := rec.byChannel(transport.ChannelBroadcast); s != 0 || f != 2 {
		t.Fatalf("broadcast outcomes = %d ok / %d failed, want 0/2", s, f)
	}
}

func TestDispatchPerRecipientIsolation(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{}
	dm := &fakeDirect{failFor: map[int64]bool{101: true}}
	c := NewCoordinator(testConfig(), bc, dm, nil, nil, logx.Nop())

	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f4"}, testSelection())

	if res.Direct.Delivered != 1 || res.Direct.Failed != 1 {
		t.Fatalf("direct = %+v, want one failure isolated from the other send", res.Direct)
	}
	if len(res.Direct.Failures) != 1 || res.Direct.Failures[0].ChatID != 101 {
		t.Fatalf("failures = %+v, want chat 101 reported", res.Direct.Failures)
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{}
	dm := &fakeDirect{failFirst: true}
	c := NewCoordinator(testConfig(), bc, dm, nil, nil, logx.Nop())

	sel := filter.Selection{Direct: []filter.Recipient{{SubscriberID: 1, ChatID: 101}}}
	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f5"}, sel)

	if res.Direct.Delivered != 1 {
		t.Fatalf("direct = %+v, want retry to succeed", res.Direct)
	}
	dm.mu.Lock()
	attempts := dm.attempts[101]
	dm.mu.Unlock()
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestDispatchJoinTimeoutReturnsConsistentResult(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{delay: 150 * time.Millisecond}
	dm := &fakeDirect{}
	rec := &fakeRecorder{}
	cfg := testConfig()
	cfg.JoinTimeout = 10 * time.Millisecond
	c := NewCoordinator(cfg, bc, dm, rec, nil, logx.Nop())

	start := time.Now()
	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f7"}, testSelection())

	if time.Since(start) >= 150*time.Millisecond {
		t.Fatal("Dispatch waited for the slow channel past the join timeout")
	}
	// The slow broadcast task hadn't finished when the join gave up.
	if res.Broadcast.Attempted != 2 || res.Broadcast.Delivered != 0 {
		t.Fatalf("broadcast = %+v, want attempted but not yet delivered", res.Broadcast)
	}
	if res.Direct.Delivered != 2 {
		t.Fatalf("direct = %+v, want the fast channel completed", res.Direct)
	}

	// Let the straggler run to completion while holding the returned copy;
	// its late writes must not reach res.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if s, _ := rec.byChannel(transport.ChannelBroadcast); s == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slow broadcast task never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if res.Broadcast.Delivered != 0 {
		t.Fatalf("broadcast = %+v, returned result mutated after Dispatch", res.Broadcast)
	}
}

func TestDispatchEmptySelection(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcast{}
	dm := &fakeDirect{}
	c := NewCoordinator(testConfig(), bc, dm, nil, nil, logx.Nop())

	res := c.Dispatch(context.Background(), event.Event{Fingerprint: "f6"}, filter.Selection{})

	if res.Broadcast.Attempted != 0 || res.Direct.Attempted != 0 {
		t.Fatalf("result = %+v, want nothing attempted", res)
	}
	bc.mu.Lock()
	calls := bc.calls
	bc.mu.Unlock()
	if calls != 0 {
		t.Fatal("no channel should be invoked for an empty selection")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v, out of [0, 1s]", attempt, d)
		}
	}
	// Later attempts never shrink below the jittered base.
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond {
		t.Fatalf("first delay = %v, below jitter floor", d)
	}
}
