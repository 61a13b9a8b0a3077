package pipeline

import (
	"context"

	"newsfan/internal/bus"
	"newsfan/internal/event"
	"newsfan/pkg/logx"
)

// admit runs the exact-duplicate gate. The first claim on a fingerprint
// within the configured window wins; concurrent submissions of the same
// fingerprint resolve to exactly one admission because the claim is a
// single atomic store operation.
//
// A store error fails open: delivering a duplicate is recoverable noise,
// silently dropping a fresh event is not.
func (s *Service) admit(ctx context.Context, ev event.Event) bool {
	fresh, err := s.acct.SetNX(ctx, "fp:"+ev.Fingerprint, s.cfg.DedupWindow)
	if err != nil {
		s.log.Warn("dedup gate degraded, admitting event",
			logx.String("fingerprint", ev.Fingerprint), logx.Err(err))
		s.bus.Publish(bus.Event{Topic: bus.TopicAccountingFailed, Data: err.Error()})
		return true
	}
	if !fresh {
		s.log.Debug("duplicate event dropped", logx.String("fingerprint", ev.Fingerprint))
		s.bus.Publish(bus.Event{Topic: bus.TopicDeduped, Data: ev.Fingerprint})
		return false
	}
	s.bus.Publish(bus.Event{Topic: bus.TopicAccepted, Data: ev.Fingerprint})
	return true
}
