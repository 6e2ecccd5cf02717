// Package community clusters a campaign's relationship graph into communities
// of closely related entities.
//
// Detection runs Louvain modularity optimisation with a Leiden-style
// refinement step on the undirected graph whose edge weights are relationship
// strengths. The resolution parameter γ trades community size for count:
// lower values give fewer, larger communities and higher values more, smaller
// ones. [Detector.DetectMultiLevel] stacks coarser partitions on top of the
// finest one, each clustering the community graph of the level below.
//
// Results replace the campaign's stored communities and are deterministic for
// a given graph and options.
package community

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/questweaver/internal/entity"
	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

const (
	// DefaultResolution is the modularity resolution γ.
	DefaultResolution = 1.0

	// DefaultMinCommunitySize drops singleton communities.
	DefaultMinCommunitySize = 2

	// DefaultMaxLevels is the default depth of [Detector.DetectMultiLevel].
	DefaultMaxLevels = 3

	// MaxLevels caps [Options.MaxLevels].
	MaxLevels = 5

	// LevelResolutionDecay scales γ for each level above the finest.
	LevelResolutionDecay = 0.5
)

var communityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/MrWong99/questweaver/community"))

// Options tunes a detection run. Zero values select the defaults.
type Options struct {
	Resolution       float64
	MinCommunitySize int
	MaxLevels        int
}

func (o Options) withDefaults() (Options, error) {
	switch {
	case o.Resolution < 0:
		return o, entity.Validationf("resolution must be positive, got %v", o.Resolution)
	case o.MinCommunitySize < 0:
		return o, entity.Validationf("minCommunitySize must not be negative, got %d", o.MinCommunitySize)
	case o.MaxLevels < 0:
		return o, entity.Validationf("maxLevels must not be negative, got %d", o.MaxLevels)
	}
	if o.Resolution == 0 {
		o.Resolution = DefaultResolution
	}
	if o.MinCommunitySize == 0 {
		o.MinCommunitySize = DefaultMinCommunitySize
	}
	if o.MaxLevels == 0 {
		o.MaxLevels = DefaultMaxLevels
	}
	o.MaxLevels = min(o.MaxLevels, MaxLevels)
	return o, nil
}

// Option configures a [Detector].
type Option func(*Detector)

// WithSummarizer enables [Detector.Summarize] with p.
func WithSummarizer(p llm.Provider) Option {
	return func(d *Detector) { d.llm = p }
}

// WithSummaryTimeout bounds each community's summary call. Default: 30s.
func WithSummaryTimeout(t time.Duration) Option {
	return func(d *Detector) {
		if t > 0 {
			d.summaryTimeout = t
		}
	}
}

// WithMetrics records detection latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector runs community detection against an [entity.Store].
// It is safe for concurrent use.
type Detector struct {
	store   entity.Store
	llm     llm.Provider
	metrics *observe.Metrics
	now     func() time.Time

	summaryTimeout time.Duration
}

// NewDetector returns a [Detector] over store.
func NewDetector(store entity.Store, opts ...Option) *Detector {
	d := &Detector{
		store:          store,
		now:            func() time.Time { return time.Now().UTC() },
		summaryTimeout: defaultSummaryTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect computes the finest partition of the campaign, drops communities
// smaller than MinCommunitySize, replaces the stored communities with the
// result and returns it ordered by size (descending) then first member.
func (d *Detector) Detect(ctx context.Context, campaignID string, opts Options) ([]entity.Community, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	opts.MaxLevels = 1
	levels, err := d.run(ctx, campaignID, opts)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Community, 0)
	if len(levels) > 0 {
		out = append(out, levels[0]...)
	}
	if err := d.store.ReplaceCommunities(ctx, campaignID, out); err != nil {
		return nil, entity.Dependency("store communities", err)
	}
	return sortBySize(out), nil
}

// DetectMultiLevel computes up to MaxLevels nested partitions. Level 0 is the
// finest; level L clusters the community graph of level L-1 with resolution
// γ·0.5^L and becomes the parent of the communities it groups. Detection stops
// early once a level merges nothing. Every level replaces the stored
// communities; the returned forest is rooted at the coarsest level.
func (d *Detector) DetectMultiLevel(ctx context.Context, campaignID string, opts Options) ([]TreeNode, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	levels, err := d.run(ctx, campaignID, opts)
	if err != nil {
		return nil, err
	}
	var flat []entity.Community
	for _, lvl := range levels {
		flat = append(flat, lvl...)
	}
	tree := BuildHierarchyTree(flat)
	if err := d.store.ReplaceCommunities(ctx, campaignID, Flatten(tree)); err != nil {
		return nil, entity.Dependency("store communities", err)
	}
	return tree, nil
}

// List returns the stored communities, optionally of one level.
func (d *Detector) List(ctx context.Context, campaignID string, level *int) ([]entity.Community, error) {
	cs, err := d.store.ListCommunities(ctx, campaignID, level)
	if err != nil {
		return nil, entity.Dependency("list communities", err)
	}
	return cs, nil
}

// run returns the filtered communities of each level, finest first.
func (d *Detector) run(ctx context.Context, campaignID string, opts Options) ([][]entity.Community, error) {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.CommunityDetectionDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	ents, err := d.store.ListEntities(ctx, campaignID, entity.ListOptions{})
	if err != nil {
		return nil, entity.Dependency("list entities", err)
	}
	if len(ents) <= 1 {
		return nil, nil
	}
	rels, err := d.store.ListRelationships(ctx, campaignID, entity.RelationshipFilter{})
	if err != nil {
		return nil, entity.Dependency("list relationships", err)
	}

	ids := make([]string, len(ents))
	for i, e := range ents {
		ids[i] = e.ID
	}
	slices.Sort(ids)
	g := buildGraph(ids, rels)

	// members[c] holds the entity indexes of community c on the current level.
	members := make([][]int, len(ids))
	for i := range members {
		members[i] = []int{i}
	}
	cur := g
	gamma := opts.Resolution
	created := d.now()

	var raw [][]rawCommunity
	for level := 0; level < opts.MaxLevels; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels := louvain(cur, gamma)
		k := countLabels(labels)
		if level > 0 && k == cur.n {
			break
		}
		next := make([][]int, k)
		for c, l := range labels {
			next[l] = append(next[l], members[c]...)
		}
		lvl := make([]rawCommunity, k)
		for c := range next {
			slices.Sort(next[c])
			lvl[c] = rawCommunity{members: next[c]}
		}
		if level > 0 {
			prev := raw[level-1]
			for c, l := range labels {
				prev[c].parent = l
			}
		}
		raw = append(raw, lvl)
		observe.Logger(ctx).Debug("community: level detected",
			slog.String("campaign_id", campaignID),
			slog.Int("level", level),
			slog.Int("communities", k),
			slog.Float64("resolution", gamma),
			slog.Float64("modularity", modularity(cur, labels, gamma)),
		)

		if k <= 1 {
			break
		}
		cur = cur.aggregate(labels, k)
		members = next
		gamma *= LevelResolutionDecay
	}

	out := materialize(campaignID, ids, raw, opts.MinCommunitySize, created)
	total := 0
	for _, lvl := range out {
		total += len(lvl)
	}
	observe.Logger(ctx).Info("community: detection finished",
		slog.String("campaign_id", campaignID),
		slog.Int("entities", len(ids)),
		slog.Int("levels", len(out)),
		slog.Int("communities", total),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

type rawCommunity struct {
	members []int
	parent  int // index on the next level, -1 at the top
}

// materialize turns raw levels into stored communities with deterministic
// IDs, dropping those below minSize. A level may come out empty. A child whose
// parent was dropped keeps an empty ParentID.
func materialize(campaignID string, ids []string, raw [][]rawCommunity, minSize int, created time.Time) [][]entity.Community {
	// Top level has no parents.
	if n := len(raw); n > 0 {
		for i := range raw[n-1] {
			raw[n-1][i].parent = -1
		}
	}

	idOf := make([][]string, len(raw))
	for l, lvl := range raw {
		idOf[l] = make([]string, len(lvl))
		for c, rc := range lvl {
			if len(rc.members) < minSize {
				continue
			}
			idOf[l][c] = communityID(campaignID, l, ids, rc.members)
		}
	}

	out := make([][]entity.Community, 0, len(raw))
	for l, lvl := range raw {
		var cs []entity.Community
		for c, rc := range lvl {
			if idOf[l][c] == "" {
				continue
			}
			memberIDs := make([]string, len(rc.members))
			for i, m := range rc.members {
				memberIDs[i] = ids[m]
			}
			var parent string
			if rc.parent >= 0 && l+1 < len(raw) {
				parent = idOf[l+1][rc.parent]
			}
			cs = append(cs, entity.Community{
				ID:         idOf[l][c],
				CampaignID: campaignID,
				Level:      l,
				MemberIDs:  memberIDs,
				ParentID:   parent,
				CreatedAt:  created,
			})
		}
		out = append(out, cs)
	}
	return out
}

func communityID(campaignID string, level int, ids []string, members []int) string {
	var b strings.Builder
	b.WriteString(campaignID)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(level))
	for _, m := range members {
		b.WriteByte(0)
		b.WriteString(ids[m])
	}
	return "comm-" + uuid.NewSHA1(communityNamespace, []byte(b.String())).String()
}

// buildGraph maps relationships onto an undirected graph over ids. A
// reciprocal pair or parallel edges between two entities collapse to the
// strongest single edge.
func buildGraph(ids []string, rels []entity.Relationship) *wgraph {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	strongest := make(map[[2]int]float64)
	for _, r := range rels {
		a, okA := index[r.FromID]
		b, okB := index[r.ToID]
		if !okA || !okB || a == b {
			continue
		}
		key := [2]int{min(a, b), max(a, b)}
		strongest[key] = max(strongest[key], r.Strength)
	}
	edges := make([]wedge, 0, len(strongest))
	for k, w := range strongest {
		edges = append(edges, wedge{a: k[0], b: k[1], w: w})
	}
	return newWGraph(len(ids), edges)
}

func sortBySize(cs []entity.Community) []entity.Community {
	slices.SortFunc(cs, func(a, b entity.Community) int {
		return cmp.Or(
			cmp.Compare(b.Size(), a.Size()),
			cmp.Compare(firstMember(a), firstMember(b)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return cs
}

func firstMember(c entity.Community) string {
	if len(c.MemberIDs) == 0 {
		return ""
	}
	return c.MemberIDs[0]
}
