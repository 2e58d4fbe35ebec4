package core

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"kind only",
			&Error{Kind: KindNotFound},
			"not_found",
		},
		{
			"kind with path",
			&Error{Kind: KindNotFound, Path: "ideas/cache.md"},
			"not_found (path=ideas/cache.md)",
		},
		{
			"version conflict carries current version",
			&Error{Kind: KindVersionConflict, Path: "a.md", CurrentVersion: 4},
			"version_conflict (path=a.md current_version=4)",
		},
		{
			"cause appears before context",
			&Error{Kind: KindInternal, Path: "x.md", Err: fmt.Errorf("disk full")},
			"internal: disk full (path=x.md)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := fs.ErrPermission
	err := Wrap(KindInternal, "a.md", fmt.Errorf("write note: %w", cause))
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("errors.Is should find the wrapped cause")
	}
	var cErr *Error
	if !errors.As(err, &cErr) {
		t.Fatal("errors.As should extract *Error")
	}
	if cErr.Kind != KindInternal || cErr.Path != "a.md" {
		t.Errorf("got kind=%v path=%q", cErr.Kind, cErr.Path)
	}
}

func TestWrapPreservesExistingKind(t *testing.T) {
	inner := Errorf(KindVersionConflict, "", "stale write")
	inner.CurrentVersion = 9

	outer := Wrap(KindInternal, "notes/a.md", fmt.Errorf("index: %w", inner))
	e, ok := AsError(outer)
	if !ok {
		t.Fatal("expected *Error")
	}
	if e.Kind != KindVersionConflict {
		t.Errorf("kind = %v, want version_conflict", e.Kind)
	}
	if e.Path != "notes/a.md" {
		t.Errorf("path = %q, want filled in", e.Path)
	}
	if e.CurrentVersion != 9 {
		t.Errorf("current version = %d, want 9", e.CurrentVersion)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Errorf(KindTooLarge, "big.md", "1.5 MiB")); got != KindTooLarge {
		t.Errorf("KindOf = %v, want too_large", got)
	}
	if got := KindOf(fmt.Errorf("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %v, want internal", got)
	}
}
