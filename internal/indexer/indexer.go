// Package indexer keeps the SQLite index an accurate projection of the
// vault. Every entry point runs its mutations in a single transaction:
// metadata, FTS, tags, links and health commit together or not at all.
package indexer

import (
	"context"
	"time"

	"github.com/sgx-labs/notevault/internal/core"
	"github.com/sgx-labs/notevault/internal/store"
	"github.com/sgx-labs/notevault/internal/vault"
	"github.com/sgx-labs/notevault/internal/wikilink"
)

// Indexer projects vault content into the index.
type Indexer struct {
	db    *store.DB
	vault *vault.Vault
}

// New returns an Indexer over db and v.
func New(db *store.DB, v *vault.Vault) *Indexer {
	return &Indexer{db: db, vault: v}
}

// IndexNote inserts or updates every index row for one note and returns
// the note's new version. Inbound links whose slug matches the note's
// slugs are re-resolved; resolved inbound links that no longer match are
// re-evaluated.
func (ix *Indexer) IndexNote(userID, notePath string, fm vault.Frontmatter, body string, sizeBytes int64, now time.Time) (int64, error) {
	tx, err := ix.db.Begin()
	if err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	defer tx.Rollback()

	title := vault.DeriveTitle(fm, body, notePath)
	titleSlug := wikilink.Slug(title)
	pathSlug := wikilink.PathSlug(notePath)
	ts := now.Unix()

	meta, existed, err := tx.GetNote(userID, notePath)
	if err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	if existed {
		meta.Version++
		meta.Title = title
		meta.TitleSlug = titleSlug
		meta.SizeBytes = sizeBytes
		meta.Updated = ts
		if err := tx.UpdateNote(meta); err != nil {
			return 0, core.Wrap(core.KindInternal, notePath, err)
		}
	} else {
		meta = store.NoteMeta{
			UserID: userID, NotePath: notePath, Version: 1,
			Title: title, SizeBytes: sizeBytes,
			Created: ts, Updated: ts,
			TitleSlug: titleSlug, PathSlug: pathSlug,
		}
		if err := tx.InsertNote(&meta); err != nil {
			return 0, core.Wrap(core.KindInternal, notePath, err)
		}
	}

	if err := tx.SetFTS(meta.ID, title, body); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	if err := tx.ReplaceTags(userID, notePath, fm.NormalizedTags()); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}

	if err := rewriteOutboundLinks(tx, userID, notePath, body); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	if err := reresolveInbound(tx, userID, notePath, titleSlug, pathSlug); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}

	delta := int64(0)
	if !existed {
		delta = 1
	}
	if err := tx.BumpHealth(userID, delta, ts); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, core.Wrap(core.KindInternal, notePath, err)
	}
	return meta.Version, nil
}

// UnindexNote removes every index row for one note. Inbound resolved links
// become broken rather than deleted, so a recreated note re-resolves them.
func (ix *Indexer) UnindexNote(userID, notePath string, now time.Time) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}
	defer tx.Rollback()

	id, existed, err := tx.DeleteNote(userID, notePath)
	if err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}
	if existed {
		if err := tx.DeleteFTS(id); err != nil {
			return core.Wrap(core.KindInternal, notePath, err)
		}
	}
	if err := tx.ReplaceTags(userID, notePath, nil); err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}
	if err := tx.ReplaceLinks(userID, notePath, nil); err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}
	if err := tx.BreakLinksTo(userID, notePath); err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}

	delta := int64(0)
	if existed {
		delta = -1
	}
	if err := tx.BumpHealth(userID, delta, now.Unix()); err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Wrap(core.KindInternal, notePath, err)
	}
	return nil
}

// MoveNote repoints every index row from oldPath to newPath, bumps the
// version, and re-resolves the link graph around both paths. FTS rows stay
// untouched: content did not change and the rowid travels with the
// metadata row. Returns the new version.
func (ix *Indexer) MoveNote(userID, oldPath, newPath string, now time.Time) (int64, error) {
	tx, err := ix.db.Begin()
	if err != nil {
		return 0, core.Wrap(core.KindInternal, oldPath, err)
	}
	defer tx.Rollback()

	meta, ok, err := tx.GetNote(userID, oldPath)
	if err != nil {
		return 0, core.Wrap(core.KindInternal, oldPath, err)
	}
	if !ok {
		return 0, core.Errorf(core.KindIndexCorrupt, oldPath, "note missing from index; run rebuild")
	}

	ts := now.Unix()
	newPathSlug := wikilink.PathSlug(newPath)
	if err := tx.RenameNote(userID, oldPath, newPath, newPathSlug, ts); err != nil {
		return 0, core.Wrap(core.KindInternal, newPath, err)
	}
	if err := tx.MoveTags(userID, oldPath, newPath); err != nil {
		return 0, core.Wrap(core.KindInternal, newPath, err)
	}
	if err := tx.MoveLinkSources(userID, oldPath, newPath); err != nil {
		return 0, core.Wrap(core.KindInternal, newPath, err)
	}

	// Inbound links resolved to the old path either follow the note or,
	// when their slug stops matching anything here, re-resolve elsewhere.
	inbound, err := tx.ResolvedLinksTo(userID, oldPath)
	if err != nil {
		return 0, core.Wrap(core.KindInternal, oldPath, err)
	}
	for _, l := range inbound {
		if err := resolveOne(tx, userID, l.SourcePath, l.LinkText, l.LinkSlug); err != nil {
			return 0, core.Wrap(core.KindInternal, oldPath, err)
		}
	}

	if err := reresolveInbound(tx, userID, newPath, meta.TitleSlug, newPathSlug); err != nil {
		return 0, core.Wrap(core.KindInternal, newPath, err)
	}

	if err := tx.BumpHealth(userID, 0, ts); err != nil {
		return 0, core.Wrap(core.KindInternal, newPath, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, core.Wrap(core.KindInternal, newPath, err)
	}
	return meta.Version + 1, nil
}

// rewriteOutboundLinks replaces the note's note_links rows from the body's
// wikilinks, resolving each against current metadata.
func rewriteOutboundLinks(tx *store.Tx, userID, sourcePath, body string) error {
	texts := wikilink.Extract(body)
	links := make([]store.Link, 0, len(texts))
	for _, text := range texts {
		slug := wikilink.Slug(text)
		link := store.Link{SourcePath: sourcePath, LinkText: text, LinkSlug: slug}
		if slug != "" {
			cands, err := tx.Candidates(userID, slug)
			if err != nil {
				return err
			}
			if target := wikilink.Pick(sourcePath, cands); target != "" {
				link.TargetPath = target
				link.Resolved = true
			}
		}
		links = append(links, link)
	}
	return tx.ReplaceLinks(userID, sourcePath, links)
}

// reresolveInbound re-evaluates links elsewhere in the vault that could now
// point at the note living at notePath: broken links whose slug matches the
// note's slugs, and resolved links to this path whose slug no longer does.
func reresolveInbound(tx *store.Tx, userID, notePath, titleSlug, pathSlug string) error {
	slugs := slugSet(titleSlug, pathSlug)

	broken, err := tx.BrokenLinksBySlug(userID, slugs)
	if err != nil {
		return err
	}
	for _, l := range broken {
		if l.SourcePath == notePath {
			continue // own outbound rows were just rewritten
		}
		if err := resolveOne(tx, userID, l.SourcePath, l.LinkText, l.LinkSlug); err != nil {
			return err
		}
	}

	// A title change can invalidate links that resolved here under the old
	// slug; they re-resolve against the rest of the vault or break.
	inbound, err := tx.ResolvedLinksTo(userID, notePath)
	if err != nil {
		return err
	}
	for _, l := range inbound {
		if matchesAny(l.LinkSlug, slugs) {
			continue
		}
		if err := resolveOne(tx, userID, l.SourcePath, l.LinkText, l.LinkSlug); err != nil {
			return err
		}
	}
	return nil
}

// resolveOne recomputes one link row's resolution from current metadata.
func resolveOne(tx *store.Tx, userID, sourcePath, linkText, linkSlug string) error {
	var target string
	if linkSlug != "" {
		cands, err := tx.Candidates(userID, linkSlug)
		if err != nil {
			return err
		}
		target = wikilink.Pick(sourcePath, cands)
	}
	return tx.SetLinkTarget(userID, sourcePath, linkText, target, target != "")
}

func slugSet(slugs ...string) []string {
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if s == "" || matchesAny(s, out) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matchesAny(s string, set []string) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

// rebuildRecord is one note's parsed state gathered during the scan phase
// of RebuildAll, before anything touches the database.
type rebuildRecord struct {
	path      string
	title     string
	titleSlug string
	pathSlug  string
	size      int64
	mtime     int64
	body      string
	tags      []string
	linkTexts []string
}

// RebuildAll recreates the user's entire index from the vault files.
// Scanning and parsing happen outside any transaction with cancellation
// checks between notes; the destructive swap is one transaction at the
// end. Notes already indexed keep their version and created timestamps, so
// rebuilding twice yields the same index state. Returns the note count.
func (ix *Indexer) RebuildAll(ctx context.Context, userID string, now time.Time) (int64, error) {
	entries, err := ix.vault.List(userID, "")
	if err != nil {
		return 0, err
	}

	records := make([]rebuildRecord, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return 0, core.Errorf(core.KindCancelled, "", "rebuild cancelled")
		}
		note, err := ix.vault.Read(userID, e.NotePath)
		if err != nil {
			if core.KindOf(err) == core.KindNotFound {
				continue // deleted between list and read
			}
			return 0, err
		}
		title := vault.DeriveTitle(note.Frontmatter, note.Body, e.NotePath)
		records = append(records, rebuildRecord{
			path:      e.NotePath,
			title:     title,
			titleSlug: wikilink.Slug(title),
			pathSlug:  wikilink.PathSlug(e.NotePath),
			size:      note.SizeBytes,
			mtime:     note.ModTime.Unix(),
			body:      note.Body,
			tags:      note.Frontmatter.NormalizedTags(),
			linkTexts: wikilink.Extract(note.Body),
		})
	}

	// Resolve the whole link graph in memory. The record list is sorted by
	// path, so resolution is deterministic.
	bySlug := map[string][]wikilink.Candidate{}
	for _, r := range records {
		c := wikilink.Candidate{NotePath: r.path, TitleSlug: r.titleSlug, PathSlug: r.pathSlug}
		for _, s := range slugSet(r.titleSlug, r.pathSlug) {
			bySlug[s] = append(bySlug[s], c)
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, core.Errorf(core.KindCancelled, "", "rebuild cancelled")
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return 0, core.Wrap(core.KindInternal, "", err)
	}
	defer tx.Rollback()

	prior, err := tx.PriorVersions(userID)
	if err != nil {
		return 0, core.Wrap(core.KindInternal, "", err)
	}
	if err := tx.PurgeUser(userID); err != nil {
		return 0, core.Wrap(core.KindInternal, "", err)
	}

	for _, r := range records {
		meta := store.NoteMeta{
			UserID: userID, NotePath: r.path, Version: 1,
			Title: r.title, SizeBytes: r.size,
			Created: r.mtime, Updated: r.mtime,
			TitleSlug: r.titleSlug, PathSlug: r.pathSlug,
		}
		if p, ok := prior[r.path]; ok {
			meta.Version = p.Version
			meta.Created = p.Created
		}
		if err := tx.InsertNote(&meta); err != nil {
			return 0, core.Wrap(core.KindInternal, r.path, err)
		}
		if err := tx.SetFTS(meta.ID, r.title, r.body); err != nil {
			return 0, core.Wrap(core.KindInternal, r.path, err)
		}
		if err := tx.ReplaceTags(userID, r.path, r.tags); err != nil {
			return 0, core.Wrap(core.KindInternal, r.path, err)
		}

		links := make([]store.Link, 0, len(r.linkTexts))
		for _, text := range r.linkTexts {
			slug := wikilink.Slug(text)
			link := store.Link{SourcePath: r.path, LinkText: text, LinkSlug: slug}
			if target := wikilink.Pick(r.path, bySlug[slug]); target != "" {
				link.TargetPath = target
				link.Resolved = true
			}
			links = append(links, link)
		}
		if err := tx.ReplaceLinks(userID, r.path, links); err != nil {
			return 0, core.Wrap(core.KindInternal, r.path, err)
		}
	}

	if err := tx.SetRebuildHealth(userID, int64(len(records)), now.Unix()); err != nil {
		return 0, core.Wrap(core.KindInternal, "", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, core.Wrap(core.KindInternal, "", err)
	}
	return int64(len(records)), nil
}
