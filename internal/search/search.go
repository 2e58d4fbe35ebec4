// Package search turns raw user queries into safe FTS5 match expressions
// and produces ranked, snippeted results from index candidates.
package search

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sgx-labs/notevault/internal/core"
)

const (
	// DefaultLimit applies when the caller requests no limit.
	DefaultLimit = 10
	// MaxLimit caps what a caller may request.
	MaxLimit = 20

	snippetWindow = 200
	snippetLead   = 60
)

// Query is a sanitized search query.
type Query struct {
	// Match is the FTS5 match expression, every token a quoted phrase.
	Match string
	// Terms are the cleaned tokens for snippet highlighting, lowercased.
	// A trailing '*' marks a prefix term.
	Terms []string
}

// Sanitize rewrites a raw query into FTS5-safe form. Each whitespace token
// becomes a quoted phrase; a trailing '*' survives outside the quotes as a
// prefix marker. The raw string never reaches the query language.
func Sanitize(raw string) (Query, error) {
	var (
		match []string
		terms []string
	)
	for _, tok := range strings.Fields(raw) {
		prefix := strings.HasSuffix(tok, "*")
		tok = strings.NewReplacer(`"`, "", `*`, "").Replace(tok)
		if tok == "" {
			continue
		}
		quoted := `"` + tok + `"`
		term := strings.ToLower(tok)
		if prefix {
			quoted += "*"
			term += "*"
		}
		match = append(match, quoted)
		terms = append(terms, term)
	}
	if len(match) == 0 {
		return Query{}, core.Errorf(core.KindInvalidQuery, "", "query has no searchable terms")
	}
	return Query{Match: strings.Join(match, " "), Terms: terms}, nil
}

// ClampLimit normalizes a requested result limit into [1, MaxLimit],
// with 0 meaning the default.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// RecencyBonus boosts recently updated notes: +1.0 within recentDays,
// +0.5 within mediumDays, else 0.
func RecencyBonus(updated, now time.Time, recentDays, mediumDays int) float64 {
	age := now.Sub(updated)
	switch {
	case age <= time.Duration(recentDays)*24*time.Hour:
		return 1.0
	case age <= time.Duration(mediumDays)*24*time.Hour:
		return 0.5
	default:
		return 0
	}
}

// Snippet extracts roughly snippetWindow bytes of body around the first
// matched term, wrapping every match in the window with <mark> tags and
// adding ellipses at cut edges. When no term matches literally (stemming
// can do that), the head of the body is returned unmarked.
//
// Matching folds case rune by rune against body itself; lowering the whole
// body first would shift byte offsets when case mapping changes a rune's
// encoded length (Kelvin sign to 'k', dotted capital I).
func Snippet(body string, terms []string) string {
	if body == "" {
		return ""
	}

	first := -1
	for _, term := range terms {
		t := strings.TrimSuffix(term, "*")
		if t == "" {
			continue
		}
		if i, _ := foldIndex(body, t, 0); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}

	start, end := 0, len(body)
	if first >= 0 {
		start = first - snippetLead
		if start < 0 {
			start = 0
		}
	}
	if end > start+snippetWindow {
		end = start + snippetWindow
	}
	start = alignRuneStart(body, start)
	end = alignRuneStart(body, end)

	marked := markTerms(body[start:end], terms)

	var b strings.Builder
	if start > 0 {
		b.WriteString("…")
	}
	b.WriteString(marked)
	if end < len(body) {
		b.WriteString("…")
	}
	return b.String()
}

// markTerms wraps case-insensitive term occurrences in <mark> spans.
// Spans are byte offsets into window, found by the same fold scan.
func markTerms(window string, terms []string) string {
	type span struct{ from, to int }
	var spans []span
	for _, term := range terms {
		t := strings.TrimSuffix(term, "*")
		if t == "" {
			continue
		}
		for i := 0; ; {
			from, to := foldIndex(window, t, i)
			if from < 0 {
				break
			}
			spans = append(spans, span{from, to})
			i = to
		}
	}
	if len(spans) == 0 {
		return window
	}

	// Merge overlaps so nested marks never appear.
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[j].from < spans[i].from {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.from <= last.to {
			if s.to > last.to {
				last.to = s.to
			}
			continue
		}
		merged = append(merged, s)
	}

	var b strings.Builder
	prev := 0
	for _, s := range merged {
		b.WriteString(window[prev:s.from])
		b.WriteString("<mark>")
		b.WriteString(window[s.from:s.to])
		b.WriteString("</mark>")
		prev = s.to
	}
	b.WriteString(window[prev:])
	return b.String()
}

// foldIndex finds the first case-insensitive occurrence of term in s at or
// after byte offset from, returning the matched byte span in s. term must
// already be lowercase. Returns (-1, -1) when absent.
func foldIndex(s, term string, from int) (int, int) {
	if term == "" {
		return -1, -1
	}
	for i := from; i < len(s); {
		if end, ok := foldMatch(s, i, term); ok {
			return i, end
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, -1
}

// foldMatch reports whether term matches s at start, lowering s rune by
// rune. The end offset is into s, whose runes may encode wider than their
// lowercase forms.
func foldMatch(s string, start int, term string) (int, bool) {
	i := start
	for j := 0; j < len(term); {
		if i >= len(s) {
			return 0, false
		}
		sr, ssize := utf8.DecodeRuneInString(s[i:])
		tr, tsize := utf8.DecodeRuneInString(term[j:])
		if unicode.ToLower(sr) != tr {
			return 0, false
		}
		i += ssize
		j += tsize
	}
	return i, true
}

// alignRuneStart moves i back to the nearest UTF-8 rune boundary.
func alignRuneStart(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
