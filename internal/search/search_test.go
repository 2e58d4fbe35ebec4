package search

import (
	"strings"
	"testing"
	"time"

	"github.com/sgx-labs/notevault/internal/core"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantMatch string
		wantTerms []string
	}{
		{"plain", "hello world", `"hello" "world"`, []string{"hello", "world"}},
		{"apostrophe survives quoting", "don't", `"don't"`, []string{"don't"}},
		{"operator characters neutralized", `API & docs`, `"API" "&" "docs"`, []string{"api", "&", "docs"}},
		{"prefix star moves outside quotes", "foo*", `"foo"*`, []string{"foo*"}},
		{"interior star stripped", "f*o*o", `"foo"`, []string{"foo"}},
		{"embedded quotes stripped", `say "this"`, `"say" "this"`, []string{"say", "this"}},
		{"fts keywords are just phrases", "NEAR AND NOT", `"NEAR" "AND" "NOT"`, []string{"near", "and", "not"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Sanitize(tc.raw)
			if err != nil {
				t.Fatalf("Sanitize(%q): %v", tc.raw, err)
			}
			if q.Match != tc.wantMatch {
				t.Errorf("Match = %q, want %q", q.Match, tc.wantMatch)
			}
			if strings.Join(q.Terms, ",") != strings.Join(tc.wantTerms, ",") {
				t.Errorf("Terms = %v, want %v", q.Terms, tc.wantTerms)
			}
		})
	}
}

func TestSanitizeRejectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", `""`, "***", `"*" "*"`} {
		_, err := Sanitize(raw)
		if core.KindOf(err) != core.KindInvalidQuery {
			t.Errorf("Sanitize(%q) = %v, want invalid_query", raw, err)
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 10}, {-3, 10}, {1, 1}, {15, 15}, {20, 20}, {21, 20}, {1000, 20},
	}
	for _, tc := range cases {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRecencyBonus(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"fresh", 24 * time.Hour, 1.0},
		{"week boundary", 7 * 24 * time.Hour, 1.0},
		{"two weeks", 14 * 24 * time.Hour, 0.5},
		{"month boundary", 30 * 24 * time.Hour, 0.5},
		{"sixty days", 60 * 24 * time.Hour, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RecencyBonus(now.Add(-tc.age), now, 7, 30); got != tc.want {
				t.Errorf("RecencyBonus = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	t.Run("marks match", func(t *testing.T) {
		got := Snippet("The deployment pipeline runs nightly.", []string{"deployment"})
		if !strings.Contains(got, "<mark>deployment</mark>") {
			t.Errorf("snippet = %q", got)
		}
		if strings.Contains(got, "…") {
			t.Errorf("short body should not be truncated: %q", got)
		}
	})

	t.Run("case insensitive marking", func(t *testing.T) {
		got := Snippet("Kubernetes is fun", []string{"kubernetes"})
		if !strings.Contains(got, "<mark>Kubernetes</mark>") {
			t.Errorf("snippet = %q", got)
		}
	})

	t.Run("window and ellipses", func(t *testing.T) {
		body := strings.Repeat("padding ", 100) + "needle" + strings.Repeat(" more", 100)
		got := Snippet(body, []string{"needle"})
		if !strings.Contains(got, "<mark>needle</mark>") {
			t.Fatalf("snippet = %q", got)
		}
		if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") {
			t.Errorf("expected ellipses on both sides: %q", got)
		}
		if len(got) > 300 {
			t.Errorf("snippet too long: %d bytes", len(got))
		}
	})

	t.Run("prefix term marks full window occurrences", func(t *testing.T) {
		got := Snippet("deploys and deployment", []string{"deploy*"})
		if strings.Count(got, "<mark>deploy</mark>") != 2 {
			t.Errorf("snippet = %q", got)
		}
	})

	t.Run("no literal match falls back to head", func(t *testing.T) {
		got := Snippet("running fast today", []string{"sprinted"})
		if got != "running fast today" {
			t.Errorf("fallback snippet = %q", got)
		}
	})

	t.Run("overlapping terms merge marks", func(t *testing.T) {
		got := Snippet("foobar", []string{"foob", "obar"})
		if got != "<mark>foobar</mark>" {
			t.Errorf("snippet = %q", got)
		}
	})

	t.Run("multibyte safe truncation", func(t *testing.T) {
		body := strings.Repeat("日本語テキスト", 50) + " needle"
		got := Snippet(body, []string{"needle"})
		if !strings.Contains(got, "<mark>needle</mark>") {
			t.Errorf("snippet = %q", got)
		}
	})

	// Case mapping can shrink a rune's encoding (U+212A Kelvin sign is
	// three bytes, 'k' is one), so offsets must come from the original
	// body, never from a lowered copy.
	t.Run("narrowing case folds before match", func(t *testing.T) {
		got := Snippet("\u212a\u212a\u212a\u212a hello world", []string{"hello"})
		if !strings.Contains(got, "<mark>hello</mark>") {
			t.Errorf("snippet = %q", got)
		}
	})

	t.Run("dotted capital I before match", func(t *testing.T) {
		got := Snippet("\u0130\u0130\u0130\u0130 hello world", []string{"hello"})
		if !strings.Contains(got, "<mark>hello</mark>") {
			t.Errorf("snippet = %q", got)
		}
	})

	t.Run("folded rune inside matched term", func(t *testing.T) {
		got := Snippet("water boils at 373 \u212aelvin here", []string{"kelvin"})
		if !strings.Contains(got, "<mark>\u212aelvin</mark>") {
			t.Errorf("snippet = %q", got)
		}
	})
}
