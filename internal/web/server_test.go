package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sgx-labs/notevault/internal/config"
	"github.com/sgx-labs/notevault/internal/notes"
	"github.com/sgx-labs/notevault/internal/store"
	"github.com/sgx-labs/notevault/internal/vault"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Vault.Root = t.TempDir()
	svc := notes.NewService(cfg, db, vault.New(cfg.Vault.Root, cfg.Limits.MaxNoteSizeBytes))
	return (&server{svc: svc, version: "test"}).Handler()
}

func do(t *testing.T, h http.Handler, method, target, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Host = "localhost"
	if user != "" {
		r.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestWriteReadDeleteRoundtrip(t *testing.T) {
	h := newTestHandler(t)

	w := do(t, h, http.MethodPut, "/api/notes/docs/guide.md", "u1",
		`{"title":"Guide","tags":["howto"],"body":"# Guide\ncontent"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", w.Code, w.Body.String())
	}
	var wr notes.WriteResult
	decode(t, w, &wr)
	if wr.Version != 1 {
		t.Errorf("version = %d", wr.Version)
	}

	w = do(t, h, http.MethodGet, "/api/notes/docs/guide.md", "u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET = %d", w.Code)
	}
	var n notes.Note
	decode(t, w, &n)
	if n.Version != 1 || !strings.HasPrefix(n.Body, "# Guide") {
		t.Errorf("note = %+v", n)
	}

	w = do(t, h, http.MethodDelete, "/api/notes/docs/guide.md", "u1", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d", w.Code)
	}
	w = do(t, h, http.MethodDelete, "/api/notes/docs/guide.md", "u1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", w.Code)
	}
}

// A client that reads a note and PUTs it back must not lose frontmatter
// keys beyond title and tags; the read payload exposes them and the write
// accepts them.
func TestFrontmatterExtrasSurviveRoundtrip(t *testing.T) {
	h := newTestHandler(t)

	w := do(t, h, http.MethodPut, "/api/notes/task.md", "u1",
		`{"title":"Task","tags":["work"],"frontmatter":{"priority":"high","due":"2026-09-01"},"body":"do it"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/notes/task.md", "u1", "")
	var n notes.Note
	decode(t, w, &n)
	if n.Frontmatter["priority"] != "high" || n.Frontmatter["due"] != "2026-09-01" {
		t.Fatalf("frontmatter = %+v", n.Frontmatter)
	}

	// Echo the read payload back with a changed body, then re-read.
	echo, err := json.Marshal(map[string]any{
		"title":       n.Title,
		"tags":        n.Tags,
		"frontmatter": n.Frontmatter,
		"body":        "updated",
		"if_version":  n.Version,
	})
	if err != nil {
		t.Fatal(err)
	}
	if w = do(t, h, http.MethodPut, "/api/notes/task.md", "u1", string(echo)); w.Code != http.StatusOK {
		t.Fatalf("echo PUT = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/notes/task.md", "u1", "")
	decode(t, w, &n)
	if n.Body != "updated" || n.Frontmatter["priority"] != "high" {
		t.Errorf("after roundtrip: body = %q, frontmatter = %+v", n.Body, n.Frontmatter)
	}

	// A write that omits the map drops the extra keys, same as editing
	// the file directly.
	do(t, h, http.MethodPut, "/api/notes/task.md", "u1", `{"title":"Task","body":"bare"}`)
	w = do(t, h, http.MethodGet, "/api/notes/task.md", "u1", "")
	decode(t, w, &n)
	if len(n.Frontmatter) != 0 {
		t.Errorf("bare write kept extras: %+v", n.Frontmatter)
	}
}

func TestVersionConflictStatus(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/api/notes/a.md", "u1", `{"body":"one"}`)
	do(t, h, http.MethodPut, "/api/notes/a.md", "u1", `{"body":"two"}`)

	w := do(t, h, http.MethodPut, "/api/notes/a.md", "u1", `{"body":"three","if_version":1}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale write = %d, want 409", w.Code)
	}
	var body struct {
		Error          string `json:"error"`
		CurrentVersion int64  `json:"current_version"`
	}
	decode(t, w, &body)
	if body.Error != "version_conflict" || body.CurrentVersion != 2 {
		t.Errorf("conflict body = %+v", body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/api/notes/real.md", "u1", `{"body":"x"}`)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"backslash path", http.MethodGet, "/api/notes/a%5Cb.md", "", http.StatusBadRequest},
		{"wrong extension", http.MethodPut, "/api/notes/evil.sh", `{"body":"x"}`, http.StatusBadRequest},
		{"missing note", http.MethodGet, "/api/notes/ghost.md", "", http.StatusNotFound},
		{"empty query", http.MethodGet, "/api/search?q=", "", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/search?q=x&limit=abc", "", http.StatusBadRequest},
		{"move onto existing", http.MethodPost, "/api/move", `{"old_path":"real.md","new_path":"real.md"}`, http.StatusConflict},
		{"missing user header", http.MethodGet, "/api/notes", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user := "u1"
			if tc.name == "missing user header" {
				user = ""
			}
			w := do(t, h, tc.method, tc.target, user, tc.body)
			if w.Code != tc.want {
				t.Errorf("%s %s = %d, want %d (%s)", tc.method, tc.target, w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/api/notes/a.md", "u1", `{"title":"Deploy Guide","body":"rollout steps"}`)

	w := do(t, h, http.MethodGet, "/api/search?q=rollout", "u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var results []notes.SearchResult
	decode(t, w, &results)
	if len(results) != 1 || results[0].NotePath != "a.md" {
		t.Errorf("results = %+v", results)
	}
	if !strings.Contains(results[0].Snippet, "<mark>rollout</mark>") {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
}

func TestBacklinksAndTagsEndpoints(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/api/notes/target.md", "u1", `{"title":"Target","tags":["core"],"body":"x"}`)
	do(t, h, http.MethodPut, "/api/notes/src.md", "u1", `{"title":"Src","tags":["core"],"body":"[[Target]]"}`)

	w := do(t, h, http.MethodGet, "/api/backlinks/target.md", "u1", "")
	var back []notes.Backlink
	decode(t, w, &back)
	if len(back) != 1 || back[0].SourcePath != "src.md" {
		t.Errorf("backlinks = %+v", back)
	}

	w = do(t, h, http.MethodGet, "/api/tags", "u1", "")
	var tags []notes.TagCount
	decode(t, w, &tags)
	if len(tags) != 1 || tags[0].Tag != "core" || tags[0].Count != 2 {
		t.Errorf("tags = %+v", tags)
	}
}

func TestRebuildAndHealthEndpoints(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/api/notes/a.md", "u1", `{"body":"x"}`)

	w := do(t, h, http.MethodPost, "/api/rebuild", "u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild = %d", w.Code)
	}
	var res notes.RebuildResult
	decode(t, w, &res)
	if res.NoteCount != 1 {
		t.Errorf("rebuild = %+v", res)
	}

	w = do(t, h, http.MethodGet, "/api/health", "u1", "")
	var health notes.HealthInfo
	decode(t, w, &health)
	if health.NoteCount != 1 || health.LastFullRebuild.IsZero() {
		t.Errorf("health = %+v", health)
	}
}

func TestUserScoping(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, "/api/notes/mine.md", "u1", `{"body":"secret"}`)

	if w := do(t, h, http.MethodGet, "/api/notes/mine.md", "u2", ""); w.Code != http.StatusNotFound {
		t.Errorf("cross-user read = %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/api/search?q=secret", "u2", "")
	var results []notes.SearchResult
	decode(t, w, &results)
	if len(results) != 0 {
		t.Errorf("cross-user search = %+v", results)
	}
}

func TestLocalhostOnly(t *testing.T) {
	h := newTestHandler(t)
	r := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	r.Host = "evil.example.com"
	r.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-local host = %d, want 403", w.Code)
	}
}
