package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"newsfan/internal/event"
	"newsfan/pkg/logx"
)

// Hub is the in-process broadcast channel: a registry of connected
// subscriber sessions, each consuming events off its own buffered channel.
//
// Publish is topic-style and never blocks: a session that can't keep up
// drops events and the drop is counted, it does not stall the publisher or
// other sessions.
type Hub struct {
	log logx.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	dropped atomic.Uint64
}

type session struct {
	id           string
	subscriberID int64
	ch           chan event.Event
	closeOnce    sync.Once
}

func NewHub(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{log: log, sessions: map[string]*session{}}
}

// Attach registers a connected session and returns its event feed plus a
// detach func. Re-attaching an existing session id replaces the old feed.
func (h *Hub) Attach(sessionID string, subscriberID int64, buffer int) (<-chan event.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &session{id: sessionID, subscriberID: subscriberID, ch: make(chan event.Event, buffer)}

	h.mu.Lock()
	if old := h.sessions[sessionID]; old != nil {
		old.close()
	}
	h.sessions[sessionID] = s
	h.mu.Unlock()

	detach := func() {
		h.mu.Lock()
		if h.sessions[sessionID] == s {
			delete(h.sessions, sessionID)
		}
		h.mu.Unlock()
		s.close()
	}
	return s.ch, detach
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Publish pushes the event to every listed session. Unknown session ids are
// skipped: the subscriber disconnected between snapshot and dispatch, which
// is routine churn, not an error.
func (h *Hub) Publish(ctx context.Context, ev event.Event, sessionIDs []string) (delivered int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if s := h.sessions[id]; s != nil {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- ev:
				delivered++
			default:
				h.dropped.Add(1)
			}
		}()
	}

	if n := h.dropped.Swap(0); n > 0 {
		h.log.Warn("broadcast events dropped (slow sessions)", logx.Uint64("count", n))
	}
	return delivered, nil
}

// Sessions returns the number of currently connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
