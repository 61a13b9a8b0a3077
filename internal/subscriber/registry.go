package subscriber

import (
	"context"
	"sync"
)

// Registry is an in-memory subscriber table implementing SnapshotProvider.
// User management writes through it; the pipeline only ever reads snapshots.
type Registry struct {
	mu   sync.RWMutex
	subs map[int64]Subscriber
}

func NewRegistry() *Registry {
	return &Registry{subs: map[int64]Subscriber{}}
}

// Upsert inserts or replaces a subscriber record.
func (r *Registry) Upsert(s Subscriber) {
	r.mu.Lock()
	r.subs[s.ID] = s
	r.mu.Unlock()
}

// SetSession records the subscriber's broadcast session; empty clears it.
func (r *Registry) SetSession(id int64, sessionID string) {
	r.mu.Lock()
	if s, ok := r.subs[id]; ok {
		s.SessionID = sessionID
		r.subs[id] = s
	}
	r.mu.Unlock()
}

// SetDirect registers or updates the direct-message address.
func (r *Registry) SetDirect(id, chatID int64, enabled bool) {
	r.mu.Lock()
	if s, ok := r.subs[id]; ok {
		s.DirectChatID = chatID
		s.DirectEnabled = enabled
		r.subs[id] = s
	}
	r.mu.Unlock()
}

// Deactivate keeps the record but removes the subscriber from every
// snapshot until reactivated.
func (r *Registry) Deactivate(id int64) {
	r.mu.Lock()
	if s, ok := r.subs[id]; ok {
		s.Active = false
		r.subs[id] = s
	}
	r.mu.Unlock()
}

// ActiveSubscribers returns a point-in-time copy of all active records.
// Category maps are copied too; callers may hold the snapshot across a full
// pipeline pass.
func (r *Registry) ActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		if !s.Active {
			continue
		}
		if s.Categories != nil {
			cats := make(map[string]CategoryPref, len(s.Categories))
			for k, v := range s.Categories {
				cats[k] = v
			}
			s.Categories = cats
		}
		out = append(out, s)
	}
	return out, nil
}
