package core

import (
	"fmt"
	"strings"
)

// Kind classifies every error the facade can return. The set is closed:
// adapters map each Kind to a transport status and never need to inspect
// the underlying cause.
type Kind int

const (
	// KindInternal covers unexpected failures (I/O, SQL) that carry no
	// caller-actionable remedy.
	KindInternal Kind = iota
	// KindPathInvalid marks a note path or user ID that fails validation.
	KindPathInvalid
	// KindTooLarge marks note content over the size limit.
	KindTooLarge
	// KindQuotaExceeded marks a create that would pass the per-user note cap.
	KindQuotaExceeded
	// KindNotFound marks operations on a note that does not exist.
	KindNotFound
	// KindConflict marks a create against a path that already exists, or a
	// move whose destination is taken.
	KindConflict
	// KindVersionConflict marks an optimistic-concurrency failure; the
	// error carries the note's current version.
	KindVersionConflict
	// KindInvalidQuery marks a search query that is empty after sanitization.
	KindInvalidQuery
	// KindIndexCorrupt marks vault/index divergence that only a rebuild fixes.
	KindIndexCorrupt
	// KindCancelled marks an operation abandoned via context before any
	// durable change was made.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindPathInvalid:
		return "path_invalid"
	case KindTooLarge:
		return "too_large"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindVersionConflict:
		return "version_conflict"
	case KindInvalidQuery:
		return "invalid_query"
	case KindIndexCorrupt:
		return "index_corrupt"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the uniform error type returned by all public facade APIs.
//
// Use [errors.As] to extract structured fields:
//
//	var cErr *core.Error
//	if errors.As(err, &cErr) && cErr.Kind == core.KindVersionConflict {
//	    retryWith(cErr.CurrentVersion)
//	}
type Error struct {
	Kind Kind

	// Path is the vault-relative note path the operation targeted, when known.
	Path string

	// CurrentVersion is set only for KindVersionConflict: the version the
	// caller must present to retry.
	CurrentVersion int64

	// Err is the underlying cause, if any.
	Err error
}

// Error formats as "<kind>: <cause> (path=X current_version=N)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	var parts []string
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	if e.Kind == KindVersionConflict {
		parts = append(parts, fmt.Sprintf("current_version=%d", e.CurrentVersion))
	}
	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindInternal otherwise. A nil err panics; check before classifying.
func KindOf(err error) Kind {
	if err == nil {
		panic("core: KindOf(nil)")
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// AsError unwraps err to a *Error if possible.
func AsError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Errorf builds a *Error with a formatted cause.
func Errorf(kind Kind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind and path context to an underlying error. If err is
// already a *Error its kind wins and only a missing path is filled in.
func Wrap(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		if e.Path == "" && path != "" {
			e.Path = path
		}
		return e
	}
	return &Error{Kind: kind, Path: path, Err: err}
}
