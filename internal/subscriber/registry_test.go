package subscriber

import (
	"context"
	"testing"
)

func TestRegistrySnapshot(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Upsert(Subscriber{ID: 1, Active: true, MinImportance: 2})
	r.Upsert(Subscriber{ID: 2, Active: false})

	subs, err := r.ActiveSubscribers(context.Background())
	if err != nil {
		t.Fatalf("ActiveSubscribers error: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != 1 {
		t.Fatalf("snapshot = %+v, want only active subscriber 1", subs)
	}
}

func TestRegistrySessionAndDirectUpdates(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Upsert(Subscriber{ID: 1, Active: true})

	r.SetSession(1, "sess-1")
	r.SetDirect(1, 101, true)

	subs, _ := r.ActiveSubscribers(context.Background())
	if len(subs) != 1 {
		t.Fatalf("snapshot = %+v", subs)
	}
	s := subs[0]
	if !s.Connected() || s.SessionID != "sess-1" {
		t.Fatalf("session not applied: %+v", s)
	}
	if !s.DirectAddressable() || s.DirectChatID != 101 {
		t.Fatalf("direct address not applied: %+v", s)
	}

	r.SetSession(1, "")
	r.Deactivate(1)
	subs, _ = r.ActiveSubscribers(context.Background())
	if len(subs) != 0 {
		t.Fatalf("snapshot = %+v, want empty after deactivation", subs)
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Upsert(Subscriber{
		ID:     1,
		Active: true,
		Categories: map[string]CategoryPref{
			"finance": {Subscribed: true},
		},
	})

	subs, _ := r.ActiveSubscribers(context.Background())
	subs[0].Categories["finance"] = CategoryPref{Subscribed: false}

	again, _ := r.ActiveSubscribers(context.Background())
	if !again[0].Categories["finance"].Subscribed {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestEffectiveMinImportance(t *testing.T) {
	t.Parallel()
	s := Subscriber{
		MinImportance: 3,
		Categories: map[string]CategoryPref{
			"crypto": {Subscribed: true, MinImportance: 5},
			"macro":  {Subscribed: true}, // no override, inherits global
		},
	}
	tests := []struct {
		name     string
		category string
		want     int
	}{
		{name: "override", category: "crypto", want: 5},
		{name: "inherit", category: "macro", want: 3},
		{name: "unknown category", category: "sports", want: 3},
		{name: "uncategorized", category: "", want: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := s.EffectiveMinImportance(tt.category); got != tt.want {
				t.Fatalf("EffectiveMinImportance(%q) = %d, want %d", tt.category, got, tt.want)
			}
		})
	}
}
