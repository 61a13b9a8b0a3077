package event

import "time"

// Raw is an event record as handed over by feed ingestion: already parsed,
// scored, and flagged, but not yet fingerprinted or persisted.
type Raw struct {
	Title       string
	Body        string
	SourceID    string
	Category    string // optional
	PublishedAt time.Time
	Importance  int // 1..5, assigned upstream
	Urgent      bool
}

// Event is a news item flowing through the pipeline.
//
// ID is assigned at persistence time and stays zero before that.
// Fingerprint is derived from the normalized title + source and is immutable.
// Enrichment fields (Summary, Sentiment, ImpactScore) are best-effort.
type Event struct {
	ID          int64
	Fingerprint string
	Title       string
	Body        string
	Summary     string
	Sentiment   string
	ImpactScore float64
	SourceID    string
	Category    string
	PublishedAt time.Time
	Importance  int
	Urgent      bool
}

// FromRaw builds a pipeline event from an ingested record and stamps its
// fingerprint. Importance is clamped into 1..5 so a misbehaving upstream
// scorer can't open or close every importance gate at once.
func FromRaw(r Raw) Event {
	imp := r.Importance
	if imp < 1 {
		imp = 1
	}
	if imp > 5 {
		imp = 5
	}
	return Event{
		Fingerprint: Fingerprint(r.Title, r.SourceID),
		Title:       r.Title,
		Body:        r.Body,
		SourceID:    r.SourceID,
		Category:    r.Category,
		PublishedAt: r.PublishedAt,
		Importance:  imp,
		Urgent:      r.Urgent,
	}
}
