package accounting

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memStore is the in-process backend. Suited to single-instance deployments
// and tests; state does not survive a restart.
type memStore struct {
	mu sync.Mutex

	seen     map[string]time.Time   // key -> live until
	counters map[string]*dayCounter // day:sub -> counter
	recent   map[int64][]titleEntry // sub -> newest first
}

type dayCounter struct {
	n     int
	until time.Time
}

type titleEntry struct {
	title string
	at    time.Time
}

func newMemStore() *memStore {
	return &memStore{
		seen:     map[string]time.Time{},
		counters: map[string]*dayCounter{},
		recent:   map[int64][]titleEntry{},
	}
}

func (s *memStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	_ = ctx
	if key == "" {
		return false, nil
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

func counterKey(subscriberID int64, day string) string {
	return day + ":" + formatID(subscriberID)
}

func (s *memStore) IncrDay(ctx context.Context, subscriberID int64, day string) (int, error) {
	_ = ctx
	now := time.Now()
	k := counterKey(subscriberID, day)
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[k]
	if c == nil || now.After(c.until) {
		c = &dayCounter{until: now.Add(CounterTTL)}
		s.counters[k] = c
	}
	c.n++
	return c.n, nil
}

func (s *memStore) CountsForDay(ctx context.Context, subscriberIDs []int64, day string) (map[int64]int, error) {
	_ = ctx
	now := time.Now()
	out := make(map[int64]int, len(subscriberIDs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range subscriberIDs {
		if c := s.counters[counterKey(id, day)]; c != nil && now.Before(c.until) {
			out[id] = c.n
		}
	}
	return out, nil
}

func (s *memStore) AppendRecent(ctx context.Context, subscriberID int64, title string, max int) error {
	_ = ctx
	if max <= 0 {
		max = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]titleEntry{{title: title, at: time.Now()}}, s.recent[subscriberID]...)
	if len(list) > max {
		list = list[:max]
	}
	s.recent[subscriberID] = list
	return nil
}

func (s *memStore) RecentTitles(ctx context.Context, subscriberIDs []int64) (map[int64][]string, error) {
	_ = ctx
	out := make(map[int64][]string, len(subscriberIDs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range subscriberIDs {
		entries := s.recent[id]
		if len(entries) == 0 {
			continue
		}
		titles := make([]string, len(entries))
		for i, e := range entries {
			titles[i] = e.title
		}
		out[id] = titles
	}
	return out, nil
}

func (s *memStore) Prune(ctx context.Context) error {
	_ = ctx
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, until := range s.seen {
		if !now.Before(until) {
			delete(s.seen, k)
		}
	}
	for k, c := range s.counters {
		if now.After(c.until) {
			delete(s.counters, k)
		}
	}
	cutoff := now.Add(-48 * time.Hour)
	for id, list := range s.recent {
		trimmed := list[:0]
		for _, e := range list {
			if e.at.After(cutoff) {
				trimmed = append(trimmed, e)
			}
		}
		if len(trimmed) == 0 {
			delete(s.recent, id)
			continue
		}
		s.recent[id] = trimmed
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
