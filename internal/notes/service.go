// Package notes is the core facade: typed vault + index operations exposed
// to the REST and tool-call adapters. Every operation takes an upstream-
// resolved user ID; no cross-user access exists below this line.
package notes

import (
	"context"
	"sort"
	"time"

	"github.com/sgx-labs/notevault/internal/config"
	"github.com/sgx-labs/notevault/internal/core"
	"github.com/sgx-labs/notevault/internal/indexer"
	"github.com/sgx-labs/notevault/internal/search"
	"github.com/sgx-labs/notevault/internal/store"
	"github.com/sgx-labs/notevault/internal/vault"
)

// Service wires the vault, index and indexer behind the write protocol.
type Service struct {
	cfg     config.Config
	db      *store.DB
	vault   *vault.Vault
	ix      *indexer.Indexer
	locks   *noteLocks
	rebuild *rebuildLocks
	now     func() time.Time
}

// NewService builds the facade over an open index database and vault root.
func NewService(cfg config.Config, db *store.DB, v *vault.Vault) *Service {
	return &Service{
		cfg:     cfg,
		db:      db,
		vault:   v,
		ix:      indexer.New(db, v),
		locks:   newNoteLocks(),
		rebuild: newRebuildLocks(),
		now:     time.Now,
	}
}

// ListEntry is one row of a note listing.
type ListEntry struct {
	NotePath string    `json:"note_path"`
	Title    string    `json:"title"`
	Updated  time.Time `json:"updated"`
}

// Note is a full read result. Frontmatter carries keys beyond title and
// tags verbatim, so a read-modify-write client can echo them back instead
// of silently dropping them.
type Note struct {
	NotePath    string         `json:"note_path"`
	Title       string         `json:"title"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags"`
	Body        string         `json:"body"`
	Version     int64          `json:"version"`
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`
	SizeBytes   int64          `json:"size_bytes"`
}

// WriteResult reports a committed write.
type WriteResult struct {
	Version int64     `json:"version"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// MoveResult reports a committed move.
type MoveResult struct {
	Version int64 `json:"version"`
}

// SearchResult is one ranked search hit.
type SearchResult struct {
	NotePath string    `json:"note_path"`
	Title    string    `json:"title"`
	Snippet  string    `json:"snippet"`
	Score    float64   `json:"score"`
	Updated  time.Time `json:"updated"`
}

// TagCount is one tag with its note count.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// RebuildResult reports a completed full rebuild.
type RebuildResult struct {
	NoteCount  int64 `json:"note_count"`
	DurationMS int64 `json:"duration_ms"`
}

// HealthInfo is the per-user index health view. Zero times mean never.
type HealthInfo struct {
	NoteCount             int64     `json:"note_count"`
	LastFullRebuild       time.Time `json:"last_full_rebuild"`
	LastIncrementalUpdate time.Time `json:"last_incremental_update"`
}

// ListNotes lists the user's indexed notes, optionally scoped to a folder.
func (s *Service) ListNotes(ctx context.Context, userID, folder string) ([]ListEntry, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := vault.ValidateFolder(folder); err != nil {
		return nil, err
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.ListNotes(userID, folder)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, "", err)
	}
	out := make([]ListEntry, len(rows))
	for i, r := range rows {
		out[i] = ListEntry{NotePath: r.NotePath, Title: r.Title, Updated: time.Unix(r.Updated, 0).UTC()}
	}
	return out, nil
}

// ReadNote returns a note's content plus its index metadata. A file
// present in the vault but absent from the index reports IndexCorrupt.
func (s *Service) ReadNote(ctx context.Context, userID, notePath string) (Note, error) {
	if err := cancelled(ctx); err != nil {
		return Note{}, err
	}

	n, err := s.vault.Read(userID, notePath)
	if err != nil {
		return Note{}, err
	}
	meta, ok, err := s.db.GetNote(userID, notePath)
	if err != nil {
		return Note{}, core.Wrap(core.KindInternal, notePath, err)
	}
	if !ok {
		return Note{}, core.Errorf(core.KindIndexCorrupt, notePath,
			"note exists in vault but not in index; run rebuild")
	}

	return Note{
		NotePath:    notePath,
		Title:       meta.Title,
		Frontmatter: n.Frontmatter.Extra,
		Tags:        n.Frontmatter.NormalizedTags(),
		Body:        n.Body,
		Version:     meta.Version,
		Created:     time.Unix(meta.Created, 0).UTC(),
		Updated:     time.Unix(meta.Updated, 0).UTC(),
		SizeBytes:   n.SizeBytes,
	}, nil
}

// WriteNote creates or replaces a note. With ifVersion set, the write only
// proceeds when the stored version matches; the conflict error carries the
// current version. With ifVersion nil the write always wins.
//
// Cancellation is honored up to the moment the vault write begins; after
// that the write and its index update run to completion so vault and index
// cannot diverge through a cancelled context.
func (s *Service) WriteNote(ctx context.Context, userID, notePath string, fm vault.Frontmatter, body string, ifVersion *int64) (WriteResult, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return WriteResult{}, err
	}
	if err := vault.ValidatePath(notePath); err != nil {
		return WriteResult{}, err
	}
	if err := cancelled(ctx); err != nil {
		return WriteResult{}, err
	}

	lock := s.locks.get(userID, notePath)
	lock.Lock()
	defer lock.Unlock()

	meta, existed, err := s.db.GetNote(userID, notePath)
	if err != nil {
		return WriteResult{}, core.Wrap(core.KindInternal, notePath, err)
	}
	var current int64
	if existed {
		current = meta.Version
	}
	if ifVersion != nil && *ifVersion != current {
		return WriteResult{}, &core.Error{
			Kind: core.KindVersionConflict, Path: notePath, CurrentVersion: current,
		}
	}
	if !existed {
		count, err := s.db.CountNotes(userID)
		if err != nil {
			return WriteResult{}, core.Wrap(core.KindInternal, notePath, err)
		}
		if count >= int64(s.cfg.Limits.MaxNotesPerUser) {
			return WriteResult{}, core.Errorf(core.KindQuotaExceeded, notePath,
				"user has %d notes, limit %d", count, s.cfg.Limits.MaxNotesPerUser)
		}
	}

	// Last cancellation point before durable effects.
	if err := cancelled(ctx); err != nil {
		return WriteResult{}, err
	}

	size, err := s.vault.Write(userID, notePath, fm, body)
	if err != nil {
		return WriteResult{}, err
	}

	now := s.now()
	version, err := s.indexWithRetry(userID, func() (int64, error) {
		return s.ix.IndexNote(userID, notePath, fm, body, size, now)
	})
	if err != nil {
		return WriteResult{}, err
	}

	created := now
	if existed {
		created = time.Unix(meta.Created, 0)
	}
	return WriteResult{Version: version, Created: created.UTC(), Updated: now.UTC()}, nil
}

// DeleteNote removes a note from the vault and the index. Deleting a
// missing note reports NotFound, not success.
func (s *Service) DeleteNote(ctx context.Context, userID, notePath string) error {
	if err := vault.ValidateUserID(userID); err != nil {
		return err
	}
	if err := vault.ValidatePath(notePath); err != nil {
		return err
	}
	if err := cancelled(ctx); err != nil {
		return err
	}

	lock := s.locks.get(userID, notePath)
	lock.Lock()
	defer lock.Unlock()

	if err := s.vault.Delete(userID, notePath); err != nil {
		return err
	}
	now := s.now()
	_, err := s.indexWithRetry(userID, func() (int64, error) {
		return 0, s.ix.UnindexNote(userID, notePath, now)
	})
	return err
}

// MoveNote renames a note, bumping its version and rewiring the link
// graph around both paths.
func (s *Service) MoveNote(ctx context.Context, userID, oldPath, newPath string) (MoveResult, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return MoveResult{}, err
	}
	if err := vault.ValidatePath(oldPath); err != nil {
		return MoveResult{}, err
	}
	if err := vault.ValidatePath(newPath); err != nil {
		return MoveResult{}, err
	}
	if oldPath == newPath {
		return MoveResult{}, core.Errorf(core.KindConflict, newPath, "source and target are the same")
	}
	if err := cancelled(ctx); err != nil {
		return MoveResult{}, err
	}

	unlock := s.locks.lockPair(userID, oldPath, newPath)
	defer unlock()

	if err := s.vault.Move(userID, oldPath, newPath); err != nil {
		return MoveResult{}, err
	}
	now := s.now()
	version, err := s.indexWithRetry(userID, func() (int64, error) {
		return s.ix.MoveNote(userID, oldPath, newPath, now)
	})
	if err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Version: version}, nil
}

// Search ranks the user's notes against a raw query. Sanitization happens
// here; the raw string never reaches the FTS engine. Limit 0 means the
// default of 10; the maximum is 20.
func (s *Service) Search(ctx context.Context, userID, rawQuery string, limit int) ([]SearchResult, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	q, err := search.Sanitize(rawQuery)
	if err != nil {
		return nil, err
	}
	limit = search.ClampLimit(limit)

	// Overfetch: the recency bonus can promote candidates past the BM25
	// cutoff, so rank over a wider pool than the caller asked for.
	rows, err := s.db.SearchMatches(userID, q.Match,
		s.cfg.Search.TitleWeight, s.cfg.Search.BodyWeight, limit*5)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, "", err)
	}

	now := s.now()
	results := make([]SearchResult, len(rows))
	for i, r := range rows {
		updated := time.Unix(r.Updated, 0)
		results[i] = SearchResult{
			NotePath: r.NotePath,
			Title:    r.Title,
			Score: r.Score + search.RecencyBonus(updated, now,
				s.cfg.Search.RecencyRecentDays, s.cfg.Search.RecencyMediumDays),
			Updated: updated.UTC(),
		}
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	// Snippets come from the vault: the index is contentless.
	for i := range results {
		n, err := s.vault.Read(userID, results[i].NotePath)
		if err != nil {
			continue // racing delete; leave the snippet empty
		}
		results[i].Snippet = search.Snippet(n.Body, q.Terms)
	}
	return results, nil
}

// Backlink is one inbound resolved link.
type Backlink struct {
	SourcePath string `json:"source_path"`
	Title      string `json:"title"`
}

// Backlinks lists resolved inbound links for an existing note, ordered by
// source path.
func (s *Service) Backlinks(ctx context.Context, userID, notePath string) ([]Backlink, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := vault.ValidatePath(notePath); err != nil {
		return nil, err
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	if _, ok, err := s.db.GetNote(userID, notePath); err != nil {
		return nil, core.Wrap(core.KindInternal, notePath, err)
	} else if !ok {
		return nil, core.Errorf(core.KindNotFound, notePath, "note does not exist")
	}

	rows, err := s.db.Backlinks(userID, notePath)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, notePath, err)
	}
	out := make([]Backlink, len(rows))
	for i, b := range rows {
		out[i] = Backlink{SourcePath: b.SourcePath, Title: b.Title}
	}
	return out, nil
}

// Tags returns the user's tags with counts, most used first.
func (s *Service) Tags(ctx context.Context, userID string) ([]TagCount, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.TagCounts(userID)
	if err != nil {
		return nil, core.Wrap(core.KindInternal, "", err)
	}
	out := make([]TagCount, len(rows))
	for i, r := range rows {
		out[i] = TagCount{Tag: r.Tag, Count: r.Count}
	}
	return out, nil
}

// RebuildIndex recreates the user's index from the vault. Writers wait
// until it finishes; readers proceed against the old state until the final
// swap commits.
func (s *Service) RebuildIndex(ctx context.Context, userID string) (RebuildResult, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return RebuildResult{}, err
	}

	rl := s.rebuild.get(userID)
	rl.Lock()
	defer rl.Unlock()

	start := s.now()
	count, err := s.ix.RebuildAll(ctx, userID, start)
	if err != nil {
		return RebuildResult{}, err
	}
	return RebuildResult{
		NoteCount:  count,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// IndexHealth reports the user's index counters. An untouched user reads
// as all zeroes.
func (s *Service) IndexHealth(ctx context.Context, userID string) (HealthInfo, error) {
	if err := vault.ValidateUserID(userID); err != nil {
		return HealthInfo{}, err
	}
	if err := cancelled(ctx); err != nil {
		return HealthInfo{}, err
	}

	h, ok, err := s.db.Health(userID)
	if err != nil {
		return HealthInfo{}, core.Wrap(core.KindInternal, "", err)
	}
	if !ok {
		return HealthInfo{}, nil
	}
	return HealthInfo{
		NoteCount:             h.NoteCount,
		LastFullRebuild:       unixOrZero(h.LastFullRebuild),
		LastIncrementalUpdate: unixOrZero(h.LastIncrementalUpdate),
	}, nil
}

// ReindexFile pushes one vault file's current on-disk state into the
// index; missing files unindex. The filesystem watcher uses this for
// out-of-band edits.
func (s *Service) ReindexFile(ctx context.Context, userID, notePath string) error {
	if err := vault.ValidateUserID(userID); err != nil {
		return err
	}
	if err := vault.ValidatePath(notePath); err != nil {
		return err
	}
	if err := cancelled(ctx); err != nil {
		return err
	}

	lock := s.locks.get(userID, notePath)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	n, err := s.vault.Read(userID, notePath)
	if core.KindOf(err) == core.KindNotFound {
		_, err := s.indexWithRetry(userID, func() (int64, error) {
			return 0, s.ix.UnindexNote(userID, notePath, now)
		})
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.indexWithRetry(userID, func() (int64, error) {
		return s.ix.IndexNote(userID, notePath, n.Frontmatter, n.Body, n.SizeBytes, now)
	})
	return err
}

// indexWithRetry runs one indexer operation under the shared rebuild read
// lock, retrying internal failures once. A second failure means the vault
// and index have diverged: IndexCorrupt, recover with RebuildIndex.
func (s *Service) indexWithRetry(userID string, fn func() (int64, error)) (int64, error) {
	rl := s.rebuild.get(userID)
	rl.RLock()
	defer rl.RUnlock()

	v, err := fn()
	if err == nil || core.KindOf(err) != core.KindInternal {
		return v, err
	}
	if v, err = fn(); err == nil {
		return v, nil
	}
	return 0, core.Wrap(core.KindIndexCorrupt, "", err)
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return core.Errorf(core.KindCancelled, "", "operation cancelled")
	}
	return nil
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// sortResults orders by score desc, then updated desc, then path asc.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		return resultLess(results[i], results[j])
	})
}

func resultLess(a, b SearchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Updated.Equal(b.Updated) {
		return a.Updated.After(b.Updated)
	}
	return a.NotePath < b.NotePath
}
