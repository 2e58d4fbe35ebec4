package wikilink

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"none", "plain text without links", nil},
		{"single", "see [[API Documentation]] for details", []string{"API Documentation"}},
		{"multiple in order", "[[Alpha]] then [[Beta]] then [[Gamma]]", []string{"Alpha", "Beta", "Gamma"}},
		{"duplicates collapse", "[[Auth]] and again [[Auth]]", []string{"Auth"}},
		{"alias keeps base form", "[[Target|the alias]]", []string{"Target"}},
		{"anchor keeps base form", "[[Target#Section Two]]", []string{"Target"}},
		{"empty braces skipped", "[[ ]] and [[|alias-only]]", nil},
		{"unterminated prefix skipped", "[[not closed and [[Real]]", []string{"Real"}},
		{"multiline body", "# Head\n\n[[One]]\ntext\n[[Two]]\n", []string{"One", "Two"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Extract(tc.body)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Extract(%q) = %v, want %v", tc.body, got, tc.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"API Documentation", "api-documentation"},
		{"  Getting   Started  ", "getting-started"},
		{"snake_case_name", "snake-case-name"},
		{"Don't Panic!", "dont-panic"},
		{"already-sluggy", "already-sluggy"},
		{"--edge--hyphens--", "edge-hyphens"},
		{"Ünïcödé Tïtle", "ncd-ttle"},
		{"MiXeD Case 123", "mixed-case-123"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPathSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"architecture/auth.md", "auth"},
		{"API Documentation.md", "api-documentation"},
		{"deep/nest/My_Note.md", "my-note"},
	}
	for _, tc := range cases {
		if got := PathSlug(tc.in); got != tc.want {
			t.Errorf("PathSlug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPick(t *testing.T) {
	cands := func(paths ...string) []Candidate {
		out := make([]Candidate, len(paths))
		for i, p := range paths {
			out[i] = Candidate{NotePath: p}
		}
		return out
	}

	t.Run("empty", func(t *testing.T) {
		if got := Pick("a.md", nil); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
	t.Run("single candidate wins", func(t *testing.T) {
		if got := Pick("notes/a.md", cands("misc/auth.md")); got != "misc/auth.md" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("same folder preferred", func(t *testing.T) {
		got := Pick("architecture/jwt.md", cands("misc/auth.md", "architecture/auth.md"))
		if got != "architecture/auth.md" {
			t.Errorf("got %q, want architecture/auth.md", got)
		}
	})
	t.Run("lexicographic among same folder", func(t *testing.T) {
		got := Pick("notes/src.md", cands("notes/b-auth.md", "notes/a-auth.md"))
		if got != "notes/a-auth.md" {
			t.Errorf("got %q, want notes/a-auth.md", got)
		}
	})
	t.Run("lexicographic when nothing local", func(t *testing.T) {
		got := Pick("top.md", cands("z/auth.md", "m/auth.md"))
		if got != "m/auth.md" {
			t.Errorf("got %q, want m/auth.md", got)
		}
	})
}
