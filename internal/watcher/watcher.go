// Package watcher monitors the vault root for out-of-band edits and feeds
// them into the incremental indexer. Edits made through the API are indexed
// synchronously; this path exists for users who open their vault directory
// in an editor.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sgx-labs/notevault/internal/notes"
)

const debounceDelay = 2 * time.Second

// Watch blocks, watching root (and new subdirectories as they appear) and
// reindexing changed markdown files. It returns when ctx is done or the
// watcher fails unrecoverably.
func Watch(ctx context.Context, svc *notes.Service, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dirs := walkDirs(root)
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			fmt.Fprintf(os.Stderr, "  [WARN] Could not watch %s: %v\n", d, err)
		}
	}
	fmt.Fprintf(os.Stderr, "Watching %d directories in %s\n", len(dirs), root)

	// Debounce: editors fire bursts of events per save, and some write via
	// rename. Collect paths over a window, then push each one's current
	// on-disk state; ReindexFile handles files that vanished in between.
	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
	)

	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]bool)
		mu.Unlock()

		for _, p := range paths {
			reindex(ctx, svc, root, p)
		}
	}

	enqueue := func(absPath string) {
		mu.Lock()
		pending[absPath] = true
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, flush)
		mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}

			if !strings.HasSuffix(event.Name, ".md") {
				// Watch directories as they are created so notes written
				// into new folders are picked up.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !hidden(event.Name) {
						if err := w.Add(event.Name); err != nil {
							fmt.Fprintf(os.Stderr, "  [WARN] Could not watch %s: %v\n", event.Name, err)
						}
					}
				}
				continue
			}

			// Rename events name the old path; Remove names the deleted
			// one. Both funnel through the same reindex: a missing file
			// unindexes.
			enqueue(event.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "  [WARN] Watch error: %v\n", err)
		}
	}
}

func reindex(ctx context.Context, svc *notes.Service, root, absPath string) {
	user, notePath, ok := splitRel(root, absPath)
	if !ok {
		return
	}
	if err := svc.ReindexFile(ctx, user, notePath); err != nil {
		fmt.Fprintf(os.Stderr, "  [ERROR] %s/%s: %v\n", user, notePath, err)
		return
	}
	fmt.Fprintf(os.Stderr, "  Reindexed: %s/%s\n", user, notePath)
}

// splitRel resolves an absolute event path to (userID, notePath). Paths
// outside root, at the top level, or under hidden directories are ignored.
func splitRel(root, absPath string) (string, string, bool) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	rel = filepath.ToSlash(rel)

	user, notePath, found := strings.Cut(rel, "/")
	if !found || notePath == "" {
		return "", "", false
	}
	for _, seg := range strings.Split(notePath, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", "", false
		}
	}
	return user, notePath, true
}

func walkDirs(root string) []string {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && hidden(path) {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
