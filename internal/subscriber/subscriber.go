package subscriber

import "context"

// CategoryPref is one subscriber's explicit stance on a category.
//
// MinImportance overrides the subscriber's global threshold for this
// category when > 0.
type CategoryPref struct {
	Subscribed    bool
	MinImportance int // 0 = inherit global MinImportance
}

// Subscriber is a delivery target, addressable on zero, one, or two
// channels. The pipeline only reads these; user management owns mutation.
type Subscriber struct {
	ID int64

	// SessionID is the broadcast-channel session, empty when not connected.
	SessionID string
	// DirectChatID is the direct-message address (telegram chat id),
	// zero when the subscriber never registered the direct channel.
	DirectChatID int64
	// DirectEnabled gates direct-message delivery independently of the
	// address being registered.
	DirectEnabled bool

	Active        bool
	MinImportance int // 1..5
	Categories    map[string]CategoryPref
	DailyQuota    int // max non-urgent direct deliveries per rolling day
}

// Connected reports whether the subscriber currently holds an open
// broadcast-channel session.
func (s Subscriber) Connected() bool { return s.SessionID != "" }

// DirectAddressable reports whether direct-message delivery is possible and
// wanted.
func (s Subscriber) DirectAddressable() bool { return s.DirectChatID != 0 && s.DirectEnabled }

// EffectiveMinImportance resolves the importance threshold for a category,
// honoring a per-category override when present.
func (s Subscriber) EffectiveMinImportance(category string) int {
	if category != "" {
		if p, ok := s.Categories[category]; ok && p.MinImportance > 0 {
			return p.MinImportance
		}
	}
	return s.MinImportance
}

// SnapshotProvider hands the filter engine a consistent subscriber snapshot.
// Implementations live outside this core (user management).
type SnapshotProvider interface {
	ActiveSubscribers(ctx context.Context) ([]Subscriber, error)
}
