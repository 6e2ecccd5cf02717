package entity

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Foundry VTT world export. Unknown fields are ignored.
type foundryWorld struct {
	Actors []struct {
		ID             string `json:"_id"`
		Name           string `json:"name"`
		Type           string `json:"type"`
		Img            string `json:"img"`
		PrototypeToken struct {
			Disposition *int `json:"disposition"`
		} `json:"prototypeToken"`
	} `json:"actors"`
	Items []struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
		Type string `json:"type"`
		Img  string `json:"img"`
	} `json:"items"`
	Journal []struct {
		ID      string `json:"_id"`
		Name    string `json:"name"`
		Content string `json:"content"`
		Pages   []struct {
			Text struct {
				Content string `json:"content"`
			} `json:"text"`
		} `json:"pages"`
	} `json:"journal"`
	Scenes []struct {
		ID      string `json:"_id"`
		Name    string `json:"name"`
		NavName string `json:"navName"`
	} `json:"scenes"`
}

// foundryHostile is the token disposition Foundry uses for enemies.
const foundryHostile = -1

// ParseFoundryVTT converts a Foundry VTT world export into entity
// definitions. Actors of type "character" become player characters, hostile
// actors monsters and the rest NPCs. Items become items, journal entries lore
// and scenes locations.
func ParseFoundryVTT(r io.Reader) ([]EntityDefinition, error) {
	var w foundryWorld
	if err := decodeExport(r, "foundry vtt", &w); err != nil {
		return nil, err
	}

	var defs []EntityDefinition
	add := func(d EntityDefinition) {
		if strings.TrimSpace(d.Name) != "" {
			d.Tags = append([]string{"foundry"}, d.Tags...)
			defs = append(defs, d)
		}
	}

	for _, a := range w.Actors {
		typ := TypeNPC
		switch {
		case a.Type == "character":
			typ = TypePC
		case a.PrototypeToken.Disposition != nil && *a.PrototypeToken.Disposition == foundryHostile:
			typ = TypeMonster
		}
		add(EntityDefinition{
			ID:          a.ID,
			Name:        a.Name,
			Type:        typ,
			Description: "Foundry VTT actor " + a.Name,
			Metadata:    compactMetadata(map[string]any{"actor_type": a.Type, "img": a.Img}),
			Tags:        []string{"actor"},
		})
	}
	for _, it := range w.Items {
		add(EntityDefinition{
			ID:          it.ID,
			Name:        it.Name,
			Type:        TypeItem,
			Description: "Foundry VTT item " + it.Name,
			Metadata:    compactMetadata(map[string]any{"item_type": it.Type, "img": it.Img}),
			Tags:        []string{"item"},
		})
	}
	for _, j := range w.Journal {
		parts := []string{plainText(j.Content)}
		for _, p := range j.Pages {
			parts = append(parts, plainText(p.Text.Content))
		}
		add(EntityDefinition{
			ID:          j.ID,
			Name:        j.Name,
			Type:        TypeLore,
			Description: joinNonEmpty(parts, "\n\n"),
			Tags:        []string{"journal"},
		})
	}
	for _, s := range w.Scenes {
		add(EntityDefinition{
			ID:          s.ID,
			Name:        s.Name,
			Type:        TypeLocation,
			Description: "Foundry VTT scene " + s.Name,
			Metadata:    compactMetadata(map[string]any{"nav_name": s.NavName}),
			Tags:        []string{"scene"},
		})
	}
	return defs, nil
}

// Roll20 campaign export. Unknown fields are ignored.
type roll20Export struct {
	Characters []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Bio          string `json:"bio"`
		GMNotes      string `json:"gmnotes"`
		ControlledBy string `json:"controlledby"`
		Attribs      []struct {
			Name    string `json:"name"`
			Current any    `json:"current"`
		} `json:"attribs"`
	} `json:"characters"`
	Handouts []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Notes   string `json:"notes"`
		GMNotes string `json:"gmnotes"`
	} `json:"handouts"`
	Pages []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"pages"`
}

// ParseRoll20 converts a Roll20 campaign export into entity definitions.
// Characters controlled by a player become player characters and the rest
// NPCs. Handouts become lore and map pages locations. Character attributes
// are kept as string metadata.
func ParseRoll20(r io.Reader) ([]EntityDefinition, error) {
	var ex roll20Export
	if err := decodeExport(r, "roll20", &ex); err != nil {
		return nil, err
	}

	var defs []EntityDefinition
	add := func(d EntityDefinition) {
		if strings.TrimSpace(d.Name) != "" {
			d.Tags = append([]string{"roll20"}, d.Tags...)
			defs = append(defs, d)
		}
	}

	for _, c := range ex.Characters {
		attrs := make(map[string]any, len(c.Attribs))
		for _, a := range c.Attribs {
			if a.Name != "" && a.Current != nil {
				attrs[a.Name] = fmt.Sprint(a.Current)
			}
		}
		typ := TypeNPC
		if strings.TrimSpace(c.ControlledBy) != "" {
			typ = TypePC
		}
		add(EntityDefinition{
			ID:          c.ID,
			Name:        c.Name,
			Type:        typ,
			Description: plainText(c.Bio),
			Backstory:   plainText(c.GMNotes),
			Metadata:    compactMetadata(attrs),
			Tags:        []string{"character"},
		})
	}
	for _, h := range ex.Handouts {
		add(EntityDefinition{
			ID:          h.ID,
			Name:        h.Name,
			Type:        TypeLore,
			Description: joinNonEmpty([]string{plainText(h.Notes), plainText(h.GMNotes)}, "\n\n"),
			Tags:        []string{"handout"},
		})
	}
	for _, p := range ex.Pages {
		add(EntityDefinition{
			ID:          p.ID,
			Name:        p.Name,
			Type:        TypeLocation,
			Description: "Roll20 map page " + p.Name,
			Tags:        []string{"page"},
		})
	}
	return defs, nil
}

func decodeExport(r io.Reader, format string, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("entity: %s: %w: parse json: %w", format, ErrValidation, err)
	}
	return nil
}

// foundryLink matches content links such as @UUID[Actor.x1]{Grimjaw}.
var foundryLink = regexp.MustCompile(`@\w+\[[^\]]*\]\{([^}]*)\}`)

// plainText renders exported rich text as plain text. Block elements end a
// line and content links collapse to their label.
func plainText(s string) string {
	s = foundryLink.ReplaceAllString(s, "$1")
	if !strings.ContainsRune(s, '<') && !strings.ContainsRune(s, '&') {
		return strings.TrimSpace(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "br":
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "tr":
				b.WriteByte('\n')
			}
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return joinNonEmpty(lines, "\n")
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// compactMetadata drops empty strings. An empty result is nil.
func compactMetadata(m map[string]any) map[string]any {
	for k, v := range m {
		if s, ok := v.(string); ok && s == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
