package store

import (
	"testing"
	"time"

	"github.com/sgx-labs/notevault/internal/wikilink"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustBegin(t *testing.T, db *DB) *Tx {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func insertTestNote(t *testing.T, db *DB, user, path, title, body string, updated int64) NoteMeta {
	t.Helper()
	tx := mustBegin(t, db)
	defer tx.Rollback()

	m := NoteMeta{
		UserID: user, NotePath: path, Version: 1,
		Title: title, SizeBytes: int64(len(body)),
		Created: updated, Updated: updated,
		TitleSlug: wikilink.Slug(title), PathSlug: wikilink.PathSlug(path),
	}
	if err := tx.InsertNote(&m); err != nil {
		t.Fatalf("InsertNote: %v", err)
	}
	if err := tx.SetFTS(m.ID, title, body); err != nil {
		t.Fatalf("SetFTS: %v", err)
	}
	if err := tx.BumpHealth(user, 1, updated); err != nil {
		t.Fatalf("BumpHealth: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return m
}

func TestMigrateIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v := db.SchemaVersion(); v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}
	if err := db.IntegrityCheck(); err != nil {
		t.Errorf("IntegrityCheck: %v", err)
	}
}

func TestNoteMetaRoundtrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	m := insertTestNote(t, db, "u1", "docs/auth.md", "Auth Guide", "jwt basics", now)

	got, ok, err := db.GetNote("u1", "docs/auth.md")
	if err != nil || !ok {
		t.Fatalf("GetNote: ok=%v err=%v", ok, err)
	}
	if got.ID != m.ID || got.Version != 1 || got.Title != "Auth Guide" {
		t.Errorf("got %+v", got)
	}
	if got.TitleSlug != "auth-guide" || got.PathSlug != "auth" {
		t.Errorf("slugs = %q/%q", got.TitleSlug, got.PathSlug)
	}

	if _, ok, _ := db.GetNote("u2", "docs/auth.md"); ok {
		t.Error("cross-user GetNote must miss")
	}

	n, err := db.CountNotes("u1")
	if err != nil || n != 1 {
		t.Errorf("CountNotes = %d, %v", n, err)
	}
}

func TestSearchMatchesWeightsTitle(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "a.md", "Kubernetes Deployment", "filler text here", now)
	insertTestNote(t, db, "u1", "b.md", "Unrelated", "kubernetes mentioned once in the body", now)
	insertTestNote(t, db, "u2", "c.md", "Kubernetes", "other tenant", now)

	rows, err := db.SearchMatches("u1", `"kubernetes"`, 3.0, 1.0, 50)
	if err != nil {
		t.Fatalf("SearchMatches: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (user scoped)", len(rows))
	}
	if rows[0].NotePath != "a.md" {
		t.Errorf("title match should outrank body match, got %q first", rows[0].NotePath)
	}
	if rows[0].Score <= rows[1].Score {
		t.Errorf("scores not descending: %v, %v", rows[0].Score, rows[1].Score)
	}
}

func TestSearchPrefixQuery(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "a.md", "Deployment", "rollout strategy", now)

	rows, err := db.SearchMatches("u1", `"deplo"*`, 3.0, 1.0, 10)
	if err != nil {
		t.Fatalf("prefix query: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("prefix match rows = %d, want 1", len(rows))
	}
}

func TestFTSUpdateReplacesTokens(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	m := insertTestNote(t, db, "u1", "a.md", "First", "alpha content", now)

	tx := mustBegin(t, db)
	if err := tx.SetFTS(m.ID, "First", "bravo content"); err != nil {
		t.Fatalf("SetFTS update: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if rows, _ := db.SearchMatches("u1", `"alpha"`, 3.0, 1.0, 10); len(rows) != 0 {
		t.Errorf("old tokens still match: %v", rows)
	}
	if rows, _ := db.SearchMatches("u1", `"bravo"`, 3.0, 1.0, 10); len(rows) != 1 {
		t.Errorf("new tokens missing")
	}
}

func TestTags(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "a.md", "A", "x", now)
	insertTestNote(t, db, "u1", "b.md", "B", "x", now)

	tx := mustBegin(t, db)
	if err := tx.ReplaceTags("u1", "a.md", []string{"guide", "api"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.ReplaceTags("u1", "b.md", []string{"guide"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	counts, err := db.TagCounts("u1")
	if err != nil {
		t.Fatalf("TagCounts: %v", err)
	}
	if len(counts) != 2 || counts[0].Tag != "guide" || counts[0].Count != 2 || counts[1].Tag != "api" {
		t.Errorf("TagCounts = %+v", counts)
	}

	// Full rewrite drops stale tags.
	tx = mustBegin(t, db)
	if err := tx.ReplaceTags("u1", "a.md", []string{"fresh"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	counts, _ = db.TagCounts("u1")
	for _, c := range counts {
		if c.Tag == "api" {
			t.Error("stale tag survived rewrite")
		}
	}
}

func TestLinksAndBacklinks(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "src.md", "Source", "[[Auth]]", now)
	insertTestNote(t, db, "u1", "auth.md", "Auth", "x", now)

	tx := mustBegin(t, db)
	err := tx.ReplaceLinks("u1", "src.md", []Link{
		{LinkText: "Auth", LinkSlug: "auth", TargetPath: "auth.md", Resolved: true},
		{LinkText: "Ghost", LinkSlug: "ghost"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	back, err := db.Backlinks("u1", "auth.md")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(back) != 1 || back[0].SourcePath != "src.md" || back[0].Title != "Source" {
		t.Errorf("Backlinks = %+v", back)
	}

	tx = mustBegin(t, db)
	broken, err := tx.BrokenLinksBySlug("u1", []string{"ghost", "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 1 || broken[0].LinkText != "Ghost" {
		t.Errorf("BrokenLinksBySlug = %+v", broken)
	}

	if err := tx.BreakLinksTo("u1", "auth.md"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if back, _ := db.Backlinks("u1", "auth.md"); len(back) != 0 {
		t.Errorf("links not broken: %+v", back)
	}
}

func TestCandidates(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "architecture/auth.md", "Auth", "x", now)
	insertTestNote(t, db, "u1", "misc/auth.md", "Auth", "x", now)
	insertTestNote(t, db, "u2", "auth.md", "Auth", "x", now)

	tx := mustBegin(t, db)
	defer tx.Rollback()
	cands, err := tx.Candidates("u1", "auth")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("candidates = %+v, want 2 user-scoped rows", cands)
	}
}

func TestHealthCounters(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "a.md", "A", "x", now)

	h, ok, err := db.Health("u1")
	if err != nil || !ok {
		t.Fatalf("Health: ok=%v err=%v", ok, err)
	}
	if h.NoteCount != 1 || h.LastIncrementalUpdate != now {
		t.Errorf("health = %+v", h)
	}

	tx := mustBegin(t, db)
	if err := tx.SetRebuildHealth("u1", 5, now+10); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	h, _, _ = db.Health("u1")
	if h.NoteCount != 5 || h.LastFullRebuild != now+10 {
		t.Errorf("post-rebuild health = %+v", h)
	}

	if _, ok, _ := db.Health("nobody"); ok {
		t.Error("unknown user should have no health row")
	}
}

func TestPurgeUserScopesToUser(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "a.md", "A", "mine", now)
	insertTestNote(t, db, "u2", "b.md", "B", "theirs", now)

	tx := mustBegin(t, db)
	prior, err := tx.PriorVersions("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(prior) != 1 || prior["a.md"].Version != 1 {
		t.Errorf("PriorVersions = %+v", prior)
	}
	if err := tx.PurgeUser("u1"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := db.GetNote("u1", "a.md"); ok {
		t.Error("purged note still present")
	}
	if _, ok, _ := db.GetNote("u2", "b.md"); !ok {
		t.Error("purge leaked into another user")
	}
	if rows, _ := db.SearchMatches("u2", `"theirs"`, 3.0, 1.0, 10); len(rows) != 1 {
		t.Error("other user's FTS row lost")
	}
}

func TestListNotesFolderScope(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Unix()
	insertTestNote(t, db, "u1", "docs/a.md", "A", "x", now)
	insertTestNote(t, db, "u1", "docs/deep/b.md", "B", "x", now)
	insertTestNote(t, db, "u1", "docsother/c.md", "C", "x", now)

	all, err := db.ListNotes("u1", "")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListNotes all = %v, %v", all, err)
	}
	scoped, err := db.ListNotes("u1", "docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 2 {
		t.Errorf("folder scope matched %d, want 2 (prefix must not catch docsother)", len(scoped))
	}
}
