package readiness

import (
	"context"

	"github.com/MrWong99/questweaver/internal/entity"
)

// Input is what every [Provider] receives.
type Input struct {
	Campaign entity.Campaign
	Items    []Item
}

// Signal is one provider's contribution.
type Signal struct {
	// Coverage holds the items this provider considers covered. Items it
	// could not judge are absent; a false value never overrides another
	// provider's true.
	Coverage map[string]bool

	// Stats is set by the structural provider only.
	Stats *EntityStats

	// Notes maps item keys to observations supporting them.
	Notes map[string][]string

	// Recommendations beyond the per-item ones.
	Recommendations []string

	// Degraded names sub-sources that failed without failing the provider.
	Degraded []string
}

// Provider produces coverage signals for a campaign.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in logs and source errors.
	Name() string

	// Signal evaluates the campaign. A returned error drops the whole
	// contribution and is reported as a source error.
	Signal(ctx context.Context, in Input) (Signal, error)
}

func (s *Signal) cover(key string) {
	if s.Coverage == nil {
		s.Coverage = make(map[string]bool)
	}
	s.Coverage[key] = true
}

func (s *Signal) note(key, text string) {
	if s.Notes == nil {
		s.Notes = make(map[string][]string)
	}
	s.Notes[key] = append(s.Notes[key], text)
}
