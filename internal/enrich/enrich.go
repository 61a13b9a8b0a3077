package enrich

import "context"

// Enrichment carries the optional fields an external capability can add to
// an event. Zero values mean "nothing produced".
type Enrichment struct {
	Summary     string  `json:"summary"`
	Sentiment   string  `json:"sentiment"`
	ImpactScore float64 `json:"impact_score"`
}

// Enricher is the external enrichment capability. Callers impose the
// timeout via ctx; implementations must respect cancellation.
type Enricher interface {
	Enrich(ctx context.Context, title, body string) (Enrichment, error)
}

// Config selects and configures the enrichment backend.
// An empty provider disables enrichment.
type Config struct {
	Provider string // "" (disabled) or "openai"
	Token    string
	Model    string
	BaseURL  string
}

// New returns the configured enricher, or nil when enrichment is disabled.
// A nil enricher and a failing enricher are indistinguishable to the
// pipeline's decision logic; only the configuration layer knows which is
// which.
func New(cfg Config) Enricher {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil
	}
}
