// Package vault owns the per-user note directories: path validation,
// atomic writes, reads, deletes, moves and listing. The filesystem is the
// source of truth for note content; everything else is derived.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/sgx-labs/notevault/internal/core"
)

// Vault is the filesystem store rooted at <root>/<user_id>/.
type Vault struct {
	root        string
	maxNoteSize int64
}

// Note is the decoded content of a single vault file.
type Note struct {
	Frontmatter Frontmatter
	Body        string
	SizeBytes   int64
	ModTime     time.Time
}

// Entry is one row of a vault listing.
type Entry struct {
	NotePath     string
	LastModified time.Time
}

// New returns a Vault over root. The root directory is created lazily on
// first write.
func New(root string, maxNoteSize int64) *Vault {
	return &Vault{root: root, maxNoteSize: maxNoteSize}
}

// Root returns the configured vault root directory.
func (v *Vault) Root() string {
	return v.root
}

// MaxNoteSize returns the encoded note size limit in bytes.
func (v *Vault) MaxNoteSize() int64 {
	return v.maxNoteSize
}

// Read loads and decodes a note.
func (v *Vault) Read(userID, notePath string) (Note, error) {
	abs, err := v.resolve(userID, notePath)
	if err != nil {
		return Note{}, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Note{}, core.Errorf(core.KindNotFound, notePath, "note does not exist")
		}
		return Note{}, core.Wrap(core.KindInternal, notePath, fmt.Errorf("stat note: %w", err))
	}
	if !info.Mode().IsRegular() {
		return Note{}, core.Errorf(core.KindPathInvalid, notePath, "not a regular file")
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return Note{}, core.Wrap(core.KindInternal, notePath, fmt.Errorf("read note: %w", err))
	}

	fm, body, err := ParseNote(raw)
	if err != nil {
		return Note{}, core.Wrap(core.KindInternal, notePath, err)
	}
	return Note{
		Frontmatter: fm,
		Body:        body,
		SizeBytes:   int64(len(raw)),
		ModTime:     info.ModTime(),
	}, nil
}

// Write encodes and atomically writes a note, creating parent folders as
// needed. Returns the encoded size. The caller is responsible for the
// per-user note quota; the size limit is enforced here.
func (v *Vault) Write(userID, notePath string, fm Frontmatter, body string) (int64, error) {
	abs, err := v.resolve(userID, notePath)
	if err != nil {
		return 0, err
	}

	raw, err := ComposeNote(fm, body)
	if err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	if int64(len(raw)) > v.maxNoteSize {
		return 0, core.Errorf(core.KindTooLarge, notePath,
			"note is %d bytes, limit %d", len(raw), v.maxNoteSize)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, fmt.Errorf("create folder: %w", err))
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(raw)); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, fmt.Errorf("write note: %w", err))
	}
	return int64(len(raw)), nil
}

// Exists reports whether a note file is present. Validation errors surface
// as errors; a clean miss is (false, nil).
func (v *Vault) Exists(userID, notePath string) (bool, error) {
	abs, err := v.resolve(userID, notePath)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, core.Wrap(core.KindInternal, notePath, fmt.Errorf("stat note: %w", err))
	}
	return true, nil
}

// Delete removes a note file.
func (v *Vault) Delete(userID, notePath string) error {
	abs, err := v.resolve(userID, notePath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Errorf(core.KindNotFound, notePath, "note does not exist")
		}
		return core.Wrap(core.KindInternal, notePath, fmt.Errorf("delete note: %w", err))
	}
	return nil
}

// Move renames a note within the user's vault.
func (v *Vault) Move(userID, oldPath, newPath string) error {
	src, err := v.resolve(userID, oldPath)
	if err != nil {
		return err
	}
	dst, err := v.resolve(userID, newPath)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Errorf(core.KindNotFound, oldPath, "note does not exist")
		}
		return core.Wrap(core.KindInternal, oldPath, fmt.Errorf("stat source: %w", err))
	}
	if _, err := os.Lstat(dst); err == nil {
		return core.Errorf(core.KindConflict, newPath, "target already exists")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return core.Wrap(core.KindInternal, newPath, fmt.Errorf("stat target: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return core.Wrap(core.KindInternal, newPath, fmt.Errorf("create folder: %w", err))
	}
	if err := os.Rename(src, dst); err != nil {
		return core.Wrap(core.KindInternal, newPath, fmt.Errorf("move note: %w", err))
	}
	return nil
}

// List returns every .md note under the user's vault, optionally scoped to
// a folder prefix, ordered by path ascending. A missing user directory is
// an empty vault, not an error.
func (v *Vault) List(userID, folder string) ([]Entry, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := ValidateFolder(folder); err != nil {
		return nil, err
	}

	userRoot := filepath.Join(v.root, userID)
	if _, err := os.Stat(userRoot); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var entries []Entry
	err := filepath.WalkDir(userRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != userRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		rel, err := filepath.Rel(userRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ValidatePath(rel) != nil {
			return nil
		}
		if folder != "" && !strings.HasPrefix(rel, folder+"/") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{NotePath: rel, LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, core.Wrap(core.KindInternal, "", fmt.Errorf("list vault: %w", err))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].NotePath < entries[j].NotePath })
	return entries, nil
}

// resolve validates inputs and maps (userID, notePath) to an absolute
// filesystem path, rejecting anything that escapes the user's directory,
// symlinks included.
func (v *Vault) resolve(userID, notePath string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	if err := ValidatePath(notePath); err != nil {
		return "", err
	}

	userRoot := filepath.Join(v.root, userID)
	abs := filepath.Join(userRoot, filepath.FromSlash(notePath))
	if !strings.HasPrefix(abs, userRoot+string(filepath.Separator)) {
		return "", core.Errorf(core.KindPathInvalid, notePath, "path escapes vault")
	}

	if err := v.checkSymlinkEscape(userRoot, abs, notePath); err != nil {
		return "", err
	}
	return abs, nil
}

// checkSymlinkEscape resolves the deepest existing ancestor of abs and
// verifies it still lives under the user's (resolved) root.
func (v *Vault) checkSymlinkEscape(userRoot, abs, notePath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(userRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // vault not created yet, nothing can escape
		}
		return core.Wrap(core.KindInternal, notePath, fmt.Errorf("resolve vault root: %w", err))
	}

	existing := filepath.Dir(abs)
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return core.Wrap(core.KindInternal, notePath, fmt.Errorf("stat ancestor: %w", err))
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return core.Wrap(core.KindInternal, notePath, fmt.Errorf("resolve path: %w", err))
	}
	if resolved != resolvedRoot &&
		!strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return core.Errorf(core.KindPathInvalid, notePath, "path escapes vault")
	}

	// The note file itself must not be a symlink.
	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return core.Errorf(core.KindPathInvalid, notePath, "note is a symlink")
	}
	return nil
}
