package dedupe

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/questweaver/internal/entity"
)

// idNamespace seeds deterministic entity IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/MrWong99/questweaver/entity"))

// DeterministicID derives a stable entity ID from the campaign, type and the
// text an entity was extracted from. Whitespace and case in sourceContext do
// not change the result. An empty sourceContext yields "".
func DeterministicID(campaignID string, t entity.EntityType, sourceContext string) string {
	src := strings.Join(strings.Fields(strings.ToLower(sourceContext)), " ")
	if src == "" {
		return ""
	}
	return uuid.NewSHA1(idNamespace, []byte(campaignID+"\x00"+string(t)+"\x00"+src)).String()
}

var _ Matcher = (*ExactIDMatcher)(nil)

// ExactIDMatcher matches a candidate whose ID, or deterministic source ID,
// names an existing entity in the same campaign and of the same type.
type ExactIDMatcher struct {
	store entity.Store
}

// NewExactIDMatcher returns an [ExactIDMatcher] reading from store.
func NewExactIDMatcher(store entity.Store) *ExactIDMatcher {
	return &ExactIDMatcher{store: store}
}

// Name implements [Matcher].
func (m *ExactIDMatcher) Name() string { return string(MethodExactID) }

// Match implements [Matcher].
func (m *ExactIDMatcher) Match(ctx context.Context, c Candidate) (Match, bool, error) {
	ids := make([]string, 0, 2)
	if c.ID != "" {
		ids = append(ids, c.ID)
	}
	if id := DeterministicID(c.CampaignID, c.Type, c.Content.SourceContext); id != "" && id != c.ID {
		ids = append(ids, id)
	}
	for _, id := range ids {
		e, err := m.store.GetEntity(ctx, id)
		if err != nil {
			return Match{}, false, entity.Dependency("exact id lookup", err)
		}
		if sameScope(e, c) {
			return Match{EntityID: e.ID, Method: MethodExactID, Score: 1}, true, nil
		}
	}
	return Match{}, false, nil
}
