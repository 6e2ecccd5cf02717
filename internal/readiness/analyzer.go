package readiness

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
)

const defaultProviderTimeout = 30 * time.Second

// ItemStatus is the merged verdict for one checklist item.
type ItemStatus struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Covered     bool     `json:"covered"`
	Sources     []string `json:"sources,omitempty"`
	Notes       []string `json:"notes,omitempty"`

	// Recommendation is set for uncovered items.
	Recommendation string `json:"recommendation,omitempty"`
}

// ChecklistStatus is the item-level view of a [Report].
type ChecklistStatus struct {
	CampaignID   string       `json:"campaignId"`
	Items        []ItemStatus `json:"items"`
	CoveredItems int          `json:"coveredItems"`
	TotalItems   int          `json:"totalItems"`
	SourceErrors []string     `json:"sourceErrors"`
}

// Report is the full readiness assessment of a campaign.
type Report struct {
	CampaignID      string          `json:"campaignId"`
	Items           []ItemStatus    `json:"items"`
	Coverage        map[string]bool `json:"coverage"`
	CoveredItems    int             `json:"coveredItems"`
	TotalItems      int             `json:"totalItems"`
	EntityStats     EntityStats     `json:"entityStats"`
	CommunityNotes  []string        `json:"communityNotes"`
	Recommendations []string        `json:"recommendations"`
	Score           int             `json:"score"`
	CampaignState   string          `json:"campaignState"`

	// SourceErrors names the providers (or sub-sources) whose signal was
	// dropped.
	SourceErrors []string `json:"sourceErrors"`
}

// Checklist returns the item-level view of r.
func (r Report) Checklist() ChecklistStatus {
	return ChecklistStatus{
		CampaignID:   r.CampaignID,
		Items:        r.Items,
		CoveredItems: r.CoveredItems,
		TotalItems:   r.TotalItems,
		SourceErrors: r.SourceErrors,
	}
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMetrics records scores and degraded providers.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// Analyzer merges provider signals into a [Report].
type Analyzer struct {
	store     entity.Store
	providers []Provider
	timeout   time.Duration
	metrics   *observe.Metrics
}

// NewAnalyzer returns an analyzer folding providers in the given order.
func NewAnalyzer(store entity.Store, providers []Provider, opts ...Option) *Analyzer {
	a := &Analyzer{store: store, providers: providers, timeout: defaultProviderTimeout}
	for _, o := range opts {
		o(a)
	}
	return a
}

type outcome struct {
	sig Signal
	err error
}

// Analyze assesses the campaign. Provider failures degrade the report and
// are listed in [Report.SourceErrors]; only a missing campaign or a failing
// campaign lookup is an error.
func (a *Analyzer) Analyze(ctx context.Context, campaignID string) (Report, error) {
	if campaignID == "" {
		return Report{}, entity.Validationf("campaign id is required")
	}
	c, err := a.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Report{}, entity.Dependency("get campaign", err)
	}
	if c == nil {
		return Report{}, entity.NotFoundf("campaign %q", campaignID)
	}

	in := Input{Campaign: *c, Items: Checklist()}
	results := make([]outcome, len(a.providers))
	var g errgroup.Group
	for i, p := range a.providers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			sig, err := p.Signal(pctx, in)
			results[i] = outcome{sig: sig, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	r := a.fold(ctx, campaignID, in.Items, results)
	if a.metrics != nil {
		a.metrics.RecordReadiness(ctx, r.Score, r.CampaignState)
	}
	observe.Logger(ctx).Info("readiness: campaign assessed",
		slog.String("campaign_id", campaignID),
		slog.Int("score", r.Score),
		slog.String("state", r.CampaignState),
		slog.Int("covered", r.CoveredItems),
		slog.Int("source_errors", len(r.SourceErrors)),
	)
	return r, nil
}

// ChecklistStatus is [Analyzer.Analyze] reduced to the item view.
func (a *Analyzer) ChecklistStatus(ctx context.Context, campaignID string) (ChecklistStatus, error) {
	r, err := a.Analyze(ctx, campaignID)
	if err != nil {
		return ChecklistStatus{}, err
	}
	return r.Checklist(), nil
}

func (a *Analyzer) fold(ctx context.Context, campaignID string, items []Item, results []outcome) Report {
	r := Report{
		CampaignID:      campaignID,
		Coverage:        make(map[string]bool, len(items)),
		TotalItems:      len(items),
		EntityStats:     *newEntityStats(),
		CommunityNotes:  []string{},
		Recommendations: []string{},
		SourceErrors:    []string{},
	}
	for _, it := range items {
		r.Coverage[it.Key] = false
	}

	sources := make(map[string][]string)
	notes := make(map[string][]string)
	var extra []string
	for i, res := range results {
		name := a.providers[i].Name()
		if res.err != nil {
			observe.Logger(ctx).Warn("readiness: signal source degraded",
				slog.String("campaign_id", campaignID),
				slog.String("source", name),
				slog.Any("err", res.err),
			)
			r.SourceErrors = append(r.SourceErrors, name)
			if a.metrics != nil {
				a.metrics.RecordDegradation(ctx, "readiness", name)
			}
			continue
		}
		for _, d := range res.sig.Degraded {
			r.SourceErrors = append(r.SourceErrors, d)
			if a.metrics != nil {
				a.metrics.RecordDegradation(ctx, "readiness", d)
			}
		}
		for key, ok := range res.sig.Coverage {
			if _, known := r.Coverage[key]; !known || !ok {
				continue
			}
			r.Coverage[key] = true
			sources[key] = append(sources[key], name)
		}
		for key, ns := range res.sig.Notes {
			notes[key] = append(notes[key], ns...)
			r.CommunityNotes = append(r.CommunityNotes, ns...)
		}
		if res.sig.Stats != nil {
			r.EntityStats = *res.sig.Stats
		}
		extra = append(extra, res.sig.Recommendations...)
	}

	seen := make(map[string]bool)
	addRec := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			r.Recommendations = append(r.Recommendations, s)
		}
	}
	for _, it := range items {
		st := ItemStatus{
			Key:         it.Key,
			Description: it.Description,
			Covered:     r.Coverage[it.Key],
			Sources:     sources[it.Key],
			Notes:       notes[it.Key],
		}
		if st.Covered {
			r.CoveredItems++
		} else {
			st.Recommendation = it.Recommendation
			addRec(it.Recommendation)
		}
		r.Items = append(r.Items, st)
	}
	for _, s := range extra {
		addRec(s)
	}
	slices.Sort(r.SourceErrors)
	r.SourceErrors = slices.Compact(r.SourceErrors)

	counts := make(map[entity.EntityType]int, len(r.EntityStats.EntityTypeCounts))
	for t, n := range r.EntityStats.EntityTypeCounts {
		counts[entity.EntityType(t)] = n
	}
	r.Score = Score(counts, r.CoveredItems)
	r.CampaignState = StateFor(r.Score)
	return r
}
