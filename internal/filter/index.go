package filter

import (
	"newsfan/internal/event"
	"newsfan/internal/subscriber"
)

// Index buckets an active-subscriber snapshot by the lowest importance
// threshold each subscriber could possibly apply. For an event of
// importance k, buckets 1..k get the exact per-category threshold check;
// higher buckets fail the importance gate by construction and are only
// tallied.
type Index struct {
	byMinImportance [6][]subscriber.Subscriber // 1..5 used
	total           int
}

// BuildIndex drops inactive subscribers (gate 1) and buckets the rest.
func BuildIndex(subs []subscriber.Subscriber) *Index {
	idx := &Index{}
	for _, s := range subs {
		if !s.Active {
			continue
		}
		min := clampImportance(s.MinImportance)
		for _, p := range s.Categories {
			if p.MinImportance > 0 && p.MinImportance < min {
				min = clampImportance(p.MinImportance)
			}
		}
		idx.byMinImportance[min] = append(idx.byMinImportance[min], s)
		idx.total++
	}
	return idx
}

// Candidates returns the subscribers passing the category and importance
// gates for the event, tallying exclusions into skipped. Urgent events
// bypass the importance gate but not the category gate. Buckets above the
// event's importance resolve to an importance skip without re-checking the
// per-category threshold; their lowest possible threshold already exceeds
// the event.
func (idx *Index) Candidates(ev event.Event, skipped map[Reason]int) []subscriber.Subscriber {
	maxBucket := clampImportance(ev.Importance)
	if ev.Urgent {
		maxBucket = 5
	}
	out := make([]subscriber.Subscriber, 0, idx.total)
	for bucket := 1; bucket <= 5; bucket++ {
		for _, s := range idx.byMinImportance[bucket] {
			if !passesCategory(s, ev) {
				skipped[ReasonCategory]++
				continue
			}
			if bucket > maxBucket || (!ev.Urgent && ev.Importance < s.EffectiveMinImportance(ev.Category)) {
				skipped[ReasonImportance]++
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

// passesCategory applies gate 2: an explicit category opt-out wins; absent
// preferences and uncategorized events pass through.
func passesCategory(s subscriber.Subscriber, ev event.Event) bool {
	if ev.Category == "" {
		return true
	}
	p, ok := s.Categories[ev.Category]
	if !ok {
		return true
	}
	return p.Subscribed
}

func clampImportance(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}
