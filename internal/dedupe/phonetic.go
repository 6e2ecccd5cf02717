package dedupe

import (
	"context"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/questweaver/internal/entity"
)

var _ Matcher = (*PhoneticMatcher)(nil)

// PhoneticMatcher catches misspelled names that sound alike, such as
// "Gundren Rokseeker" for "Gundren Rockseeker".
//
// Both names are normalised with [NormalizeName] and every word is encoded
// with Double Metaphone. Names whose word code sequences agree word by word
// are candidates; the candidate with the highest Jaro-Winkler score at or
// above the threshold wins. Scope is the candidate's campaign and type.
type PhoneticMatcher struct {
	store     entity.Store
	threshold tunable
}

// NewPhoneticMatcher returns a [PhoneticMatcher] accepting candidates whose
// Jaro-Winkler score reaches threshold.
func NewPhoneticMatcher(store entity.Store, threshold float64) *PhoneticMatcher {
	m := &PhoneticMatcher{store: store}
	m.threshold.Store(threshold)
	return m
}

// SetThreshold changes the threshold for subsequent matches.
// Values outside (0, 1] are ignored.
func (m *PhoneticMatcher) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		m.threshold.Store(t)
	}
}

// Name implements [Matcher].
func (m *PhoneticMatcher) Name() string { return string(MethodPhonetic) }

// Match implements [Matcher].
func (m *PhoneticMatcher) Match(ctx context.Context, c Candidate) (Match, bool, error) {
	want := NormalizeName(c.Name)
	if want == "" {
		return Match{}, false, nil
	}
	wantCodes := phoneticCodes(want)

	all, err := m.store.ListEntities(ctx, c.CampaignID, entity.ListOptions{Type: c.Type})
	if err != nil {
		return Match{}, false, entity.Dependency("phonetic scan", err)
	}

	var (
		bestID    string
		bestScore float64
		threshold = m.threshold.Load()
	)
	for _, e := range all {
		got := NormalizeName(e.Name)
		if got == "" || !soundAlike(wantCodes, phoneticCodes(got)) {
			continue
		}
		if s := matchr.JaroWinkler(want, got, false); s >= threshold && s > bestScore {
			bestID, bestScore = e.ID, s
		}
	}
	if bestID == "" {
		return Match{}, false, nil
	}
	return Match{EntityID: bestID, Method: MethodPhonetic, Score: bestScore}, true, nil
}

// phoneticCodes returns the primary and alternate Double Metaphone codes of
// each word of a normalised name. Words without consonants keep themselves
// as their code so "io" and "ia" stay distinct.
func phoneticCodes(name string) [][2]string {
	words := strings.Fields(name)
	out := make([][2]string, len(words))
	for i, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p == "" && s == "" {
			p = w
		}
		out[i] = [2]string{p, s}
	}
	return out
}

// soundAlike reports whether two names have the same number of words and
// every word pair shares a code.
func soundAlike(a, b [][2]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !slices.ContainsFunc(a[i][:], func(code string) bool {
			return code != "" && (code == b[i][0] || code == b[i][1])
		}) {
			return false
		}
	}
	return true
}
