package dedupe

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/questweaver/internal/entity"
)

const (
	defaultFuzzyThreshold = 0.95
	defaultMaxLengthDelta = 2
)

// LexicalOption configures a [LexicalMatcher].
type LexicalOption func(*LexicalMatcher)

// WithFuzzyThreshold sets the minimum Jaro-Winkler similarity between
// normalised names for a near-exact match. Default: 0.95.
func WithFuzzyThreshold(threshold float64) LexicalOption {
	return func(m *LexicalMatcher) {
		if threshold > 0 {
			m.fuzzyThreshold.Store(threshold)
		}
	}
}

var _ Matcher = (*LexicalMatcher)(nil)

// LexicalMatcher matches candidates by name within the same campaign and type.
//
// An exact case-insensitive match wins. Otherwise names are normalised
// (lowercase, punctuation and leading articles removed) and compared; equal
// normalised names, or a Jaro-Winkler score at or above the fuzzy threshold
// with lengths differing by at most two runes, count as a match.
type LexicalMatcher struct {
	store          entity.Store
	fuzzyThreshold tunable
	maxLengthDelta int
}

// NewLexicalMatcher returns a [LexicalMatcher] reading from store.
func NewLexicalMatcher(store entity.Store, opts ...LexicalOption) *LexicalMatcher {
	m := &LexicalMatcher{
		store:          store,
		maxLengthDelta: defaultMaxLengthDelta,
	}
	m.fuzzyThreshold.Store(defaultFuzzyThreshold)
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetThreshold changes the fuzzy threshold for subsequent matches.
// Values outside (0, 1] are ignored.
func (m *LexicalMatcher) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		m.fuzzyThreshold.Store(t)
	}
}

// Name implements [Matcher].
func (m *LexicalMatcher) Name() string { return string(MethodLexical) }

// Match implements [Matcher].
func (m *LexicalMatcher) Match(ctx context.Context, c Candidate) (Match, bool, error) {
	name := strings.TrimSpace(c.Name)
	exact, err := m.store.ListEntities(ctx, c.CampaignID, entity.ListOptions{Type: c.Type, Name: name, Limit: 1})
	if err != nil {
		return Match{}, false, entity.Dependency("lexical lookup", err)
	}
	if len(exact) > 0 {
		return Match{EntityID: exact[0].ID, Method: MethodLexical, Score: 1}, true, nil
	}

	want := NormalizeName(name)
	if want == "" {
		return Match{}, false, nil
	}
	all, err := m.store.ListEntities(ctx, c.CampaignID, entity.ListOptions{Type: c.Type})
	if err != nil {
		return Match{}, false, entity.Dependency("lexical scan", err)
	}

	var (
		bestID    string
		bestScore float64
		fuzzy     = m.fuzzyThreshold.Load()
	)
	for _, e := range all {
		got := NormalizeName(e.Name)
		if got == "" {
			continue
		}
		if got == want {
			return Match{EntityID: e.ID, Method: MethodLexical, Score: 1}, true, nil
		}
		if abs(utf8.RuneCountInString(got)-utf8.RuneCountInString(want)) > m.maxLengthDelta {
			continue
		}
		if s := matchr.JaroWinkler(want, got, false); s >= fuzzy && s > bestScore {
			bestID, bestScore = e.ID, s
		}
	}
	if bestID == "" {
		return Match{}, false, nil
	}
	return Match{EntityID: bestID, Method: MethodLexical, Score: bestScore}, true, nil
}

var articles = map[string]bool{"the": true, "a": true, "an": true}

// NormalizeName lowercases s, replaces punctuation with spaces, drops leading
// articles and collapses whitespace. "The Iron-Crown!" becomes "iron crown".
func NormalizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, s)
	words := strings.Fields(s)
	for len(words) > 1 && articles[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
