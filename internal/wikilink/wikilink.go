// Package wikilink extracts [[...]] references from Markdown bodies and
// normalizes link text and note paths into slugs for resolution.
package wikilink

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

var linkPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// Extract returns the link texts of every [[...]] occurrence in body, in
// document order, deduplicated case-sensitively on the raw text. Only the
// base form is supported: for [[Target|Alias]] or [[Target#Heading]] the
// substring before the first '|' or '#' is the link text.
func Extract(body string) []string {
	matches := linkPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		text := m[1]
		if i := strings.IndexAny(text, "|#"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Slug normalizes s for link resolution:
//  1. lowercase (Unicode-aware)
//  2. runs of whitespace and underscores become single hyphens
//  3. characters outside [a-z0-9/-] are dropped
//  4. repeated hyphens collapse; leading/trailing hyphens are trimmed
func Slug(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			pendingHyphen = true
			continue
		}
		keep := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '/'
		if !keep {
			continue
		}
		if pendingHyphen && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingHyphen = false
		b.WriteRune(r)
	}
	return b.String()
}

// PathSlug returns the slug of a note path's filename stem. The path's
// folders do not participate in resolution: [[auth]] can reach
// architecture/auth.md.
func PathSlug(notePath string) string {
	base := path.Base(notePath)
	stem := strings.TrimSuffix(base, ".md")
	return Slug(stem)
}

// Candidate is a note eligible to be a link target.
type Candidate struct {
	NotePath  string
	TitleSlug string
	PathSlug  string
}

// Pick selects the resolution target among candidates for a link written in
// the note at sourcePath. It assumes candidates already match the link's
// slug. Ties prefer candidates in the source's folder, then the
// byte-wise smallest note path. Returns "" when candidates is empty.
func Pick(sourcePath string, candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	srcDir := path.Dir(sourcePath)

	best := ""
	bestLocal := false
	for _, c := range candidates {
		local := path.Dir(c.NotePath) == srcDir
		switch {
		case best == "":
		case local && !bestLocal:
		case local == bestLocal && c.NotePath < best:
		default:
			continue
		}
		best = c.NotePath
		bestLocal = local
	}
	return best
}
