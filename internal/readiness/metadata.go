package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/questweaver/internal/observe"
	"github.com/MrWong99/questweaver/pkg/provider/llm"
)

// metadataKeys maps campaign metadata keys to checklist items. Keys are
// compared after lowercasing and dropping underscores, so "world_name" and
// "worldName" are the same key.
var metadataKeys = map[string]string{
	"worldname":        ItemWorldName,
	"world":            ItemWorldName,
	"settingname":      ItemWorldName,
	"tone":             ItemTone,
	"mood":             ItemTone,
	"setting":          ItemSettingOverview,
	"settingoverview":  ItemSettingOverview,
	"overview":         ItemSettingOverview,
	"startinglocation": ItemStartingLocation,
	"startingtown":     ItemStartingLocation,
	"mainvillain":      ItemMainVillain,
	"villain":          ItemMainVillain,
	"bbeg":             ItemMainVillain,
	"antagonist":       ItemMainVillain,
	"centralconflict":  ItemCentralConflict,
	"conflict":         ItemCentralConflict,
	"mainconflict":     ItemCentralConflict,
	"sessionzero":      ItemSessionZero,
	"houserules":       ItemSessionZero,
	"safetytools":      ItemSessionZero,
	"magicsystem":      ItemMagicTechnology,
	"magic":            ItemMagicTechnology,
	"technologylevel":  ItemMagicTechnology,
	"technology":       ItemMagicTechnology,
}

const (
	classifierSystemPrompt = "You review tabletop RPG campaign notes for a game master. " +
		"For each checklist key decide whether the notes already answer it. Only mark an item covered when the notes contain concrete content for it."
	classifierSchemaName     = "checklist_coverage"
	classifierSchemaDescribe = "Coverage verdict for each checklist key."
	defaultClassifierTimeout = 20 * time.Second
)

type classifierItem struct {
	Key     string `json:"key" jsonschema:"description=Checklist key exactly as given" validate:"required"`
	Covered bool   `json:"covered" jsonschema:"description=True when the notes already answer this item"`
}

type classifierResult struct {
	Items []classifierItem `json:"items" validate:"dive"`
}

// MetadataCoverage covers items from the campaign record: known metadata keys
// map directly, and an optional LLM classifier reads the free-form
// description and remaining metadata.
type MetadataCoverage struct {
	llm     llm.Provider
	timeout time.Duration
}

// MetadataOption configures a [MetadataCoverage].
type MetadataOption func(*MetadataCoverage)

// WithClassifier enables the LLM classifier.
func WithClassifier(p llm.Provider) MetadataOption {
	return func(m *MetadataCoverage) { m.llm = p }
}

// WithClassifierTimeout bounds one classifier call.
func WithClassifierTimeout(d time.Duration) MetadataOption {
	return func(m *MetadataCoverage) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewMetadataCoverage returns the metadata provider.
func NewMetadataCoverage(opts ...MetadataOption) *MetadataCoverage {
	m := &MetadataCoverage{timeout: defaultClassifierTimeout}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements [Provider].
func (m *MetadataCoverage) Name() string { return "metadata" }

// Signal implements [Provider]. A failed classifier call is logged and
// reported in [Signal.Degraded]; the key mapping still counts.
func (m *MetadataCoverage) Signal(ctx context.Context, in Input) (Signal, error) {
	var sig Signal
	for k, v := range in.Campaign.Metadata {
		item, ok := metadataKeys[strings.ReplaceAll(strings.ToLower(k), "_", "")]
		if !ok || !present(v) {
			continue
		}
		sig.cover(item)
	}

	if m.llm == nil || !hasNotes(in) {
		return sig, nil
	}
	covered, err := m.classify(ctx, in)
	if err != nil {
		observe.Logger(ctx).Warn("readiness: coverage classifier failed",
			slog.String("campaign_id", in.Campaign.ID), slog.Any("err", err))
		sig.Degraded = append(sig.Degraded, "metadata_llm")
		return sig, nil
	}
	for _, key := range covered {
		sig.cover(key)
	}
	return sig, nil
}

func (m *MetadataCoverage) classify(ctx context.Context, in Input) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("Checklist:\n")
	for _, it := range in.Items {
		fmt.Fprintf(&b, "- %s: %s\n", it.Key, it.Description)
	}
	fmt.Fprintf(&b, "\nCampaign name: %s\n", in.Campaign.Name)
	if d := strings.TrimSpace(in.Campaign.Description); d != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", d)
	}
	if len(in.Campaign.Metadata) > 0 {
		meta, err := json.Marshal(in.Campaign.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		fmt.Fprintf(&b, "Metadata: %s\n", meta)
	}

	res, err := llm.GenerateStructured[classifierResult](ctx, m.llm, llm.CompletionRequest{
		SystemPrompt: classifierSystemPrompt,
		Messages:     []llm.Message{llm.UserMessage(b.String())},
		MaxTokens:    800,
	}, classifierSchemaName, classifierSchemaDescribe)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		known[it.Key] = true
	}
	var out []string
	for _, r := range res.Items {
		key := strings.TrimSpace(r.Key)
		if r.Covered && known[key] {
			out = append(out, key)
		}
	}
	return out, nil
}

func hasNotes(in Input) bool {
	return strings.TrimSpace(in.Campaign.Description) != "" || len(in.Campaign.Metadata) > 0
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case bool:
		return x
	default:
		return true
	}
}
