package pipeline

import (
	"context"

	"newsfan/internal/bus"
	"newsfan/internal/event"
	"newsfan/pkg/logx"
)

// enrichEvent asks the external capability for summary/sentiment/impact
// under a hard deadline. On timeout or error the event proceeds unenriched;
// enrichment is additive and must never delay or drop delivery.
func (s *Service) enrichEvent(ctx context.Context, ev event.Event) event.Event {
	if s.enricher == nil {
		return ev
	}
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EnrichTimeout)
	defer cancel()

	enr, err := s.enricher.Enrich(ectx, ev.Title, ev.Body)
	if err != nil {
		s.log.Warn("enrichment degraded",
			logx.String("fingerprint", ev.Fingerprint), logx.Err(err))
		s.bus.Publish(bus.Event{Topic: bus.TopicEnrichDegraded, Data: ev.Fingerprint})
		return ev
	}
	if enr.Summary != "" {
		ev.Summary = enr.Summary
	}
	if enr.Sentiment != "" {
		ev.Sentiment = enr.Sentiment
	}
	if enr.ImpactScore != 0 {
		ev.ImpactScore = enr.ImpactScore
	}
	return ev
}
