package vault

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the parsed YAML header of a note. Title and Tags are the
// keys the index cares about; everything else rides along in Extra and is
// written back unchanged.
type Frontmatter struct {
	Title string
	Tags  []string
	Extra map[string]any
}

// IsZero reports whether the note has no frontmatter worth serializing.
func (f Frontmatter) IsZero() bool {
	return f.Title == "" && len(f.Tags) == 0 && len(f.Extra) == 0
}

// NormalizedTags returns the tag set lowercased, whitespace-trimmed and
// deduplicated, sorted ascending. Empty tags are dropped.
func (f Frontmatter) NormalizedTags() []string {
	if len(f.Tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(f.Tags))
	for _, t := range f.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		seen[t] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParseNote splits raw note content into frontmatter and body. Content
// without a leading --- block yields a zero Frontmatter and the full text
// as body.
func ParseNote(raw []byte) (Frontmatter, string, error) {
	matter := map[string]any{}
	body, err := frontmatter.Parse(strings.NewReader(string(raw)), &matter)
	if err != nil {
		return Frontmatter{}, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	fm := Frontmatter{}
	for k, v := range matter {
		switch k {
		case "title":
			if s, ok := v.(string); ok {
				fm.Title = s
				continue
			}
		case "tags":
			if tags, ok := stringList(v); ok {
				fm.Tags = tags
				continue
			}
		}
		if fm.Extra == nil {
			fm.Extra = map[string]any{}
		}
		fm.Extra[k] = v
	}
	return fm, string(body), nil
}

// ComposeNote renders frontmatter and body back into file bytes. Notes with
// zero frontmatter are written as bare Markdown.
func ComposeNote(fm Frontmatter, body string) ([]byte, error) {
	if fm.IsZero() {
		return []byte(body), nil
	}

	doc := make(map[string]any, len(fm.Extra)+2)
	for k, v := range fm.Extra {
		doc[k] = v
	}
	if fm.Title != "" {
		doc["title"] = fm.Title
	}
	if len(fm.Tags) > 0 {
		doc["tags"] = fm.Tags
	}

	header, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serialize frontmatter: %w", err)
	}

	var b strings.Builder
	b.Grow(len(header) + len(body) + 10)
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n")
	b.WriteString(body)
	return []byte(b.String()), nil
}

// DeriveTitle picks the display title: frontmatter title if present, else
// the first #-level heading of the body, else the filename stem.
func DeriveTitle(fm Frontmatter, body, notePath string) string {
	if fm.Title != "" {
		return fm.Title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			if h := strings.TrimSpace(trimmed[2:]); h != "" {
				return h
			}
		}
	}
	return strings.TrimSuffix(path.Base(notePath), ".md")
}

func stringList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
