package stream

import (
	"context"
	"testing"

	"newsfan/internal/event"
	"newsfan/pkg/logx"
)

func TestHubPublishToAttachedSessions(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop())

	ch1, detach1 := h.Attach("sess-1", 1, 4)
	defer detach1()
	_, detach2 := h.Attach("sess-2", 2, 4)
	defer detach2()

	ev := event.Event{Fingerprint: "f", Title: "t"}
	delivered, err := h.Publish(context.Background(), ev, []string{"sess-1", "sess-gone"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1 (unknown sessions skipped)", delivered)
	}

	select {
	case got := <-ch1:
		if got.Fingerprint != "f" {
			t.Fatalf("received %+v, want fingerprint f", got)
		}
	default:
		t.Fatal("sess-1 received nothing")
	}
}

func TestHubSlowSessionDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop())

	_, detach := h.Attach("slow", 1, 1)
	defer detach()

	ev := event.Event{Fingerprint: "f"}
	// First fill the buffer, then overflow it.
	if n, _ := h.Publish(context.Background(), ev, []string{"slow"}); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if n, _ := h.Publish(context.Background(), ev, []string{"slow"}); n != 0 {
		t.Fatalf("delivered = %d, want 0 when the session buffer is full", n)
	}
}

func TestHubDetachAndReattach(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop())

	_, detach := h.Attach("sess-1", 1, 4)
	detach()
	if h.Sessions() != 0 {
		t.Fatalf("sessions = %d after detach, want 0", h.Sessions())
	}

	// Publishing to a detached session is a no-op, not a panic.
	if n, err := h.Publish(context.Background(), event.Event{}, []string{"sess-1"}); err != nil || n != 0 {
		t.Fatalf("Publish = (%d, %v), want (0, nil)", n, err)
	}

	// Re-attach replaces the old feed; the replacement channel is closed.
	old, _ := h.Attach("sess-1", 1, 4)
	fresh, detach2 := h.Attach("sess-1", 1, 4)
	defer detach2()
	if _, open := <-old; open {
		t.Fatal("replaced session channel must be closed")
	}
	if n, _ := h.Publish(context.Background(), event.Event{Fingerprint: "f"}, []string{"sess-1"}); n != 1 {
		t.Fatal("replacement session must receive")
	}
	if got := <-fresh; got.Fingerprint != "f" {
		t.Fatalf("received %+v on replacement feed", got)
	}
}

func TestHubCanceledContext(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Publish(ctx, event.Event{}, nil); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
