package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sgx-labs/notevault/internal/wikilink"
)

// NoteMeta is one row of note_meta. Timestamps are unix seconds.
type NoteMeta struct {
	ID        int64
	UserID    string
	NotePath  string
	Version   int64
	Title     string
	SizeBytes int64
	Created   int64
	Updated   int64
	TitleSlug string
	PathSlug  string
}

// Listing is one row of a metadata listing.
type Listing struct {
	NotePath string
	Title    string
	Updated  int64
}

// Link is one row of note_links.
type Link struct {
	SourcePath string
	LinkText   string
	LinkSlug   string
	TargetPath string // empty when unresolved
	Resolved   bool
}

// Backlink is one inbound resolved link, joined with the source's title.
type Backlink struct {
	SourcePath string
	Title      string
}

// TagCount is one tag with its note count.
type TagCount struct {
	Tag   string
	Count int64
}

// Health is one row of index_health. Timestamps are unix seconds, 0 when
// the event has never happened.
type Health struct {
	NoteCount             int64
	LastFullRebuild       int64
	LastIncrementalUpdate int64
}

// SearchRow is one FTS candidate before ranking adjustments.
type SearchRow struct {
	NotePath string
	Title    string
	Updated  int64
	Score    float64 // -bm25, higher is better
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func getNote(q querier, userID, notePath string) (NoteMeta, bool, error) {
	var m NoteMeta
	err := q.QueryRow(
		`SELECT id, user_id, note_path, version, title, size_bytes, created, updated, title_slug, path_slug
		 FROM note_meta WHERE user_id = ? AND note_path = ?`,
		userID, notePath,
	).Scan(&m.ID, &m.UserID, &m.NotePath, &m.Version, &m.Title, &m.SizeBytes,
		&m.Created, &m.Updated, &m.TitleSlug, &m.PathSlug)
	if err == sql.ErrNoRows {
		return NoteMeta{}, false, nil
	}
	if err != nil {
		return NoteMeta{}, false, fmt.Errorf("get note meta: %w", err)
	}
	return m, true, nil
}

// GetNote returns the metadata row for (userID, notePath).
func (db *DB) GetNote(userID, notePath string) (NoteMeta, bool, error) {
	return getNote(db.conn, userID, notePath)
}

// GetNote returns the metadata row within the transaction.
func (t *Tx) GetNote(userID, notePath string) (NoteMeta, bool, error) {
	return getNote(t.tx, userID, notePath)
}

// CountNotes returns how many notes the user has indexed. The quota check
// counts metadata rows, not files.
func (db *DB) CountNotes(userID string) (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM note_meta WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// ListNotes returns the user's notes ordered by path, optionally scoped to
// a folder prefix.
func (db *DB) ListNotes(userID, folder string) ([]Listing, error) {
	query := `SELECT note_path, title, updated FROM note_meta WHERE user_id = ?`
	args := []any{userID}
	if folder != "" {
		query += ` AND note_path LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(folder+"/"))
	}
	query += ` ORDER BY note_path ASC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.NotePath, &l.Title, &l.Updated); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Backlinks returns resolved inbound links to target, ordered by source
// path ascending.
func (db *DB) Backlinks(userID, targetPath string) ([]Backlink, error) {
	rows, err := db.conn.Query(
		`SELECT l.source_path, m.title
		 FROM note_links l
		 JOIN note_meta m ON m.user_id = l.user_id AND m.note_path = l.source_path
		 WHERE l.user_id = ? AND l.target_path = ? AND l.is_resolved = 1
		 ORDER BY l.source_path ASC`,
		userID, targetPath,
	)
	if err != nil {
		return nil, fmt.Errorf("backlinks: %w", err)
	}
	defer rows.Close()

	var out []Backlink
	for rows.Next() {
		var b Backlink
		if err := rows.Scan(&b.SourcePath, &b.Title); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TagCounts returns the user's tags with note counts, most used first,
// ties by tag ascending.
func (db *DB) TagCounts(userID string) ([]TagCount, error) {
	rows, err := db.conn.Query(
		`SELECT tag, COUNT(*) FROM note_tags WHERE user_id = ?
		 GROUP BY tag ORDER BY COUNT(*) DESC, tag ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// Health returns the user's health counters.
func (db *DB) Health(userID string) (Health, bool, error) {
	var h Health
	err := db.conn.QueryRow(
		`SELECT note_count, last_full_rebuild, last_incremental_update
		 FROM index_health WHERE user_id = ?`,
		userID,
	).Scan(&h.NoteCount, &h.LastFullRebuild, &h.LastIncrementalUpdate)
	if err == sql.ErrNoRows {
		return Health{}, false, nil
	}
	if err != nil {
		return Health{}, false, fmt.Errorf("health: %w", err)
	}
	return h, true, nil
}

// SearchMatches runs the sanitized FTS query and returns up to limit
// candidates ordered by weighted BM25. bm25() returns lower-is-better;
// the sign is flipped here so callers rank descending.
func (db *DB) SearchMatches(userID, match string, titleWeight, bodyWeight float64, limit int) ([]SearchRow, error) {
	rows, err := db.conn.Query(
		`SELECT m.note_path, m.title, m.updated, -bm25(note_fts, ?, ?) AS score
		 FROM note_fts
		 JOIN note_meta m ON m.id = note_fts.rowid
		 WHERE note_fts MATCH ? AND m.user_id = ?
		 ORDER BY score DESC
		 LIMIT ?`,
		titleWeight, bodyWeight, match, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.NotePath, &r.Title, &r.Updated, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertNote inserts a fresh metadata row and fills in its rowid.
func (t *Tx) InsertNote(m *NoteMeta) error {
	res, err := t.tx.Exec(
		`INSERT INTO note_meta (user_id, note_path, version, title, size_bytes, created, updated, title_slug, path_slug)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.NotePath, m.Version, m.Title, m.SizeBytes, m.Created, m.Updated, m.TitleSlug, m.PathSlug,
	)
	if err != nil {
		return fmt.Errorf("insert note meta: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert note meta id: %w", err)
	}
	return nil
}

// UpdateNote rewrites the mutable fields of an existing metadata row.
func (t *Tx) UpdateNote(m NoteMeta) error {
	_, err := t.tx.Exec(
		`UPDATE note_meta SET version = ?, title = ?, size_bytes = ?, updated = ?, title_slug = ?
		 WHERE id = ?`,
		m.Version, m.Title, m.SizeBytes, m.Updated, m.TitleSlug, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update note meta: %w", err)
	}
	return nil
}

// RenameNote moves a metadata row to a new path, bumping its version.
func (t *Tx) RenameNote(userID, oldPath, newPath, newPathSlug string, updated int64) error {
	_, err := t.tx.Exec(
		`UPDATE note_meta SET note_path = ?, path_slug = ?, version = version + 1, updated = ?
		 WHERE user_id = ? AND note_path = ?`,
		newPath, newPathSlug, updated, userID, oldPath,
	)
	if err != nil {
		return fmt.Errorf("rename note meta: %w", err)
	}
	return nil
}

// DeleteNote removes the metadata row, returning its rowid for FTS cleanup.
func (t *Tx) DeleteNote(userID, notePath string) (int64, bool, error) {
	m, ok, err := t.GetNote(userID, notePath)
	if err != nil || !ok {
		return 0, false, err
	}
	if _, err := t.tx.Exec(`DELETE FROM note_meta WHERE id = ?`, m.ID); err != nil {
		return 0, false, fmt.Errorf("delete note meta: %w", err)
	}
	return m.ID, true, nil
}

// SetFTS replaces the FTS row for a note. The table is contentless, so an
// update is an explicit delete + insert against the shared rowid.
func (t *Tx) SetFTS(id int64, title, body string) error {
	if _, err := t.tx.Exec(`DELETE FROM note_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("delete fts row: %w", err)
	}
	if _, err := t.tx.Exec(
		`INSERT INTO note_fts (rowid, title, body) VALUES (?, ?, ?)`,
		id, title, body,
	); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}
	return nil
}

// DeleteFTS removes the FTS row for a note rowid.
func (t *Tx) DeleteFTS(id int64) error {
	if _, err := t.tx.Exec(`DELETE FROM note_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("delete fts row: %w", err)
	}
	return nil
}

// ReplaceTags rewrites the note's tag set.
func (t *Tx) ReplaceTags(userID, notePath string, tags []string) error {
	if _, err := t.tx.Exec(
		`DELETE FROM note_tags WHERE user_id = ? AND note_path = ?`,
		userID, notePath,
	); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if len(tags) == 0 {
		return nil
	}

	stmt, err := t.tx.Prepare(`INSERT INTO note_tags (user_id, note_path, tag) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tag insert: %w", err)
	}
	defer stmt.Close()
	for _, tag := range tags {
		if _, err := stmt.Exec(userID, notePath, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}
	return nil
}

// MoveTags repoints tag rows at a renamed note.
func (t *Tx) MoveTags(userID, oldPath, newPath string) error {
	_, err := t.tx.Exec(
		`UPDATE note_tags SET note_path = ? WHERE user_id = ? AND note_path = ?`,
		newPath, userID, oldPath,
	)
	if err != nil {
		return fmt.Errorf("move tags: %w", err)
	}
	return nil
}

// ReplaceLinks rewrites the note's outbound link rows.
func (t *Tx) ReplaceLinks(userID, sourcePath string, links []Link) error {
	if _, err := t.tx.Exec(
		`DELETE FROM note_links WHERE user_id = ? AND source_path = ?`,
		userID, sourcePath,
	); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	if len(links) == 0 {
		return nil
	}

	stmt, err := t.tx.Prepare(
		`INSERT INTO note_links (user_id, source_path, link_text, link_slug, target_path, is_resolved)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer stmt.Close()
	for _, l := range links {
		target := sql.NullString{String: l.TargetPath, Valid: l.Resolved}
		if _, err := stmt.Exec(userID, sourcePath, l.LinkText, l.LinkSlug, target, boolInt(l.Resolved)); err != nil {
			return fmt.Errorf("insert link %q: %w", l.LinkText, err)
		}
	}
	return nil
}

// MoveLinkSources repoints outbound link rows at a renamed note.
func (t *Tx) MoveLinkSources(userID, oldPath, newPath string) error {
	_, err := t.tx.Exec(
		`UPDATE note_links SET source_path = ? WHERE user_id = ? AND source_path = ?`,
		newPath, userID, oldPath,
	)
	if err != nil {
		return fmt.Errorf("move link sources: %w", err)
	}
	return nil
}

// SetLinkTarget updates a single link row's resolution.
func (t *Tx) SetLinkTarget(userID, sourcePath, linkText, targetPath string, resolved bool) error {
	target := sql.NullString{String: targetPath, Valid: resolved}
	_, err := t.tx.Exec(
		`UPDATE note_links SET target_path = ?, is_resolved = ?
		 WHERE user_id = ? AND source_path = ? AND link_text = ?`,
		target, boolInt(resolved), userID, sourcePath, linkText,
	)
	if err != nil {
		return fmt.Errorf("set link target: %w", err)
	}
	return nil
}

// BreakLinksTo marks every resolved link pointing at target as broken.
func (t *Tx) BreakLinksTo(userID, targetPath string) error {
	_, err := t.tx.Exec(
		`UPDATE note_links SET target_path = NULL, is_resolved = 0
		 WHERE user_id = ? AND target_path = ?`,
		userID, targetPath,
	)
	if err != nil {
		return fmt.Errorf("break links: %w", err)
	}
	return nil
}

// BrokenLinksBySlug returns unresolved links whose slug is one of slugs.
// This is the bounded inbound re-resolution query used when a note appears
// or changes slugs.
func (t *Tx) BrokenLinksBySlug(userID string, slugs []string) ([]Link, error) {
	return t.linksBySlug(userID, slugs, false)
}

func (t *Tx) linksBySlug(userID string, slugs []string, resolved bool) ([]Link, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(slugs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(slugs)+2)
	args = append(args, userID, boolInt(resolved))
	for _, s := range slugs {
		args = append(args, s)
	}

	rows, err := t.tx.Query(
		`SELECT source_path, link_text, link_slug, COALESCE(target_path, ''), is_resolved
		 FROM note_links
		 WHERE user_id = ? AND is_resolved = ? AND link_slug IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("links by slug: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// ResolvedLinksTo returns every resolved link pointing at target.
func (t *Tx) ResolvedLinksTo(userID, targetPath string) ([]Link, error) {
	rows, err := t.tx.Query(
		`SELECT source_path, link_text, link_slug, COALESCE(target_path, ''), is_resolved
		 FROM note_links
		 WHERE user_id = ? AND target_path = ? AND is_resolved = 1`,
		userID, targetPath,
	)
	if err != nil {
		return nil, fmt.Errorf("links to target: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// Candidates returns the notes whose title or path slug equals slug,
// eligible as wikilink targets.
func (t *Tx) Candidates(userID, slug string) ([]wikilink.Candidate, error) {
	rows, err := t.tx.Query(
		`SELECT note_path, title_slug, path_slug FROM note_meta
		 WHERE user_id = ? AND (title_slug = ? OR path_slug = ?)`,
		userID, slug, slug,
	)
	if err != nil {
		return nil, fmt.Errorf("link candidates: %w", err)
	}
	defer rows.Close()

	var out []wikilink.Candidate
	for rows.Next() {
		var c wikilink.Candidate
		if err := rows.Scan(&c.NotePath, &c.TitleSlug, &c.PathSlug); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BumpHealth adjusts the user's note count and stamps the incremental
// update time, creating the row on first touch.
func (t *Tx) BumpHealth(userID string, countDelta int64, now int64) error {
	_, err := t.tx.Exec(
		`INSERT INTO index_health (user_id, note_count, last_incremental_update)
		 VALUES (?, MAX(0, ?), ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   note_count = MAX(0, note_count + excluded.note_count),
		   last_incremental_update = excluded.last_incremental_update`,
		userID, countDelta, now,
	)
	if err != nil {
		return fmt.Errorf("bump health: %w", err)
	}
	return nil
}

// SetRebuildHealth records a completed full rebuild.
func (t *Tx) SetRebuildHealth(userID string, noteCount int64, now int64) error {
	_, err := t.tx.Exec(
		`INSERT INTO index_health (user_id, note_count, last_full_rebuild, last_incremental_update)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   note_count = excluded.note_count,
		   last_full_rebuild = excluded.last_full_rebuild`,
		userID, noteCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("set rebuild health: %w", err)
	}
	return nil
}

// PriorVersions snapshots (version, created) per path before a rebuild
// wipes the user's rows, so rebuild preserves the version lineage.
func (t *Tx) PriorVersions(userID string) (map[string]NoteMeta, error) {
	rows, err := t.tx.Query(
		`SELECT note_path, version, created FROM note_meta WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("prior versions: %w", err)
	}
	defer rows.Close()

	out := map[string]NoteMeta{}
	for rows.Next() {
		var m NoteMeta
		if err := rows.Scan(&m.NotePath, &m.Version, &m.Created); err != nil {
			return nil, err
		}
		out[m.NotePath] = m
	}
	return out, rows.Err()
}

// PurgeUser removes every index row the user owns, FTS included. The
// health row survives so rebuild markers keep their history.
func (t *Tx) PurgeUser(userID string) error {
	for _, q := range []string{
		`DELETE FROM note_meta WHERE user_id = ?`,
		`DELETE FROM note_tags WHERE user_id = ?`,
		`DELETE FROM note_links WHERE user_id = ?`,
	} {
		if _, err := t.tx.Exec(q, userID); err != nil {
			return fmt.Errorf("purge index: %w", err)
		}
	}
	// The FTS table has no user column. With the user's metadata gone,
	// their FTS rows are exactly the unowned ones; an orphan left behind
	// by earlier drift belongs to nobody and goes with them.
	if _, err := t.tx.Exec(
		`DELETE FROM note_fts WHERE rowid NOT IN (SELECT id FROM note_meta)`,
	); err != nil {
		return fmt.Errorf("purge fts: %w", err)
	}
	return nil
}

func scanLinks(rows *sql.Rows) ([]Link, error) {
	var out []Link
	for rows.Next() {
		var l Link
		var resolved int
		if err := rows.Scan(&l.SourcePath, &l.LinkText, &l.LinkSlug, &l.TargetPath, &resolved); err != nil {
			return nil, err
		}
		l.Resolved = resolved != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// likePrefix escapes LIKE metacharacters in prefix and appends the
// wildcard, for use with ESCAPE '\'.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
