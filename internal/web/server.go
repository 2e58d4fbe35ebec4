// Package web exposes the note vault over a local REST surface. Identity
// is resolved upstream and arrives as an X-User-ID header; this layer only
// translates wire shapes and error kinds, never business rules.
package web

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/sgx-labs/notevault/internal/core"
	"github.com/sgx-labs/notevault/internal/notes"
	"github.com/sgx-labs/notevault/internal/vault"
)

// statusClientClosedRequest mirrors nginx's code for a client that went
// away before the response; cancelled operations map onto it.
const statusClientClosedRequest = 499

// Serve starts the REST server on addr and blocks.
func Serve(addr string, svc *notes.Service, version string) error {
	s := &server{svc: svc, version: version}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	fmt.Fprintf(os.Stderr, "notevault api: http://%s\n", listener.Addr())
	return http.Serve(listener, s.Handler())
}

type server struct {
	svc     *notes.Service
	version string
}

// Handler builds the route table with the shared middleware stack.
func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/notes", s.handleListNotes)
	mux.HandleFunc("/api/notes/", s.handleNoteByPath) // /api/notes/{path}
	mux.HandleFunc("/api/move", s.handleMove)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/backlinks/", s.handleBacklinks) // /api/backlinks/{path}
	mux.HandleFunc("/api/tags", s.handleTags)
	mux.HandleFunc("/api/rebuild", s.handleRebuild)
	mux.HandleFunc("/api/health", s.handleHealth)
	return localhostOnly(securityHeaders(mux))
}

// --- Middleware ---

func localhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		host = strings.Trim(host, "[]") // strip IPv6 brackets

		if host == "localhost" {
			next.ServeHTTP(w, r)
			return
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// userID pulls the upstream-resolved identity off the request. Validation
// of the value itself happens in the core.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// --- Handlers ---

func (s *server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": s.version})
}

func (s *server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := s.svc.ListNotes(r.Context(), userID(r), r.URL.Query().Get("folder"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if entries == nil {
		entries = []notes.ListEntry{}
	}
	writeJSON(w, entries)
}

func (s *server) handleNoteByPath(w http.ResponseWriter, r *http.Request) {
	notePath, ok := pathParam(w, r, "/api/notes/")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		n, err := s.svc.ReadNote(r.Context(), userID(r), notePath)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, n)

	case http.MethodPut:
		var req struct {
			Title       string         `json:"title"`
			Tags        []string       `json:"tags"`
			Frontmatter map[string]any `json:"frontmatter"`
			Body        string         `json:"body"`
			IfVersion   *int64         `json:"if_version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		fm := vault.Frontmatter{Title: req.Title, Tags: req.Tags, Extra: req.Frontmatter}
		res, err := s.svc.WriteNote(r.Context(), userID(r), notePath, fm, req.Body, req.IfVersion)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		writeJSON(w, res)

	case http.MethodDelete:
		if err := s.svc.DeleteNote(r.Context(), userID(r), notePath); err != nil {
			writeCoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		OldPath string `json:"old_path"`
		NewPath string `json:"new_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.MoveNote(r.Context(), userID(r), req.OldPath, req.NewPath)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	results, err := s.svc.Search(r.Context(), userID(r), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if results == nil {
		results = []notes.SearchResult{}
	}
	writeJSON(w, results)
}

func (s *server) handleBacklinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	notePath, ok := pathParam(w, r, "/api/backlinks/")
	if !ok {
		return
	}
	back, err := s.svc.Backlinks(r.Context(), userID(r), notePath)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if back == nil {
		back = []notes.Backlink{}
	}
	writeJSON(w, back)
}

func (s *server) handleTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tags, err := s.svc.Tags(r.Context(), userID(r))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if tags == nil {
		tags = []notes.TagCount{}
	}
	writeJSON(w, tags)
}

func (s *server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	res, err := s.svc.RebuildIndex(r.Context(), userID(r))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h, err := s.svc.IndexHealth(r.Context(), userID(r))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, h)
}

// pathParam extracts and decodes the note path suffix of the URL.
func pathParam(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing note path")
		return "", false
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path encoding")
		return "", false
	}
	return decoded, true
}

// statusFor maps a core error kind to an HTTP status.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindPathInvalid, core.KindInvalidQuery:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict, core.KindVersionConflict:
		return http.StatusConflict
	case core.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.KindQuotaExceeded:
		return http.StatusInsufficientStorage
	case core.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeCoreError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	body := map[string]any{
		"error": kind.String(),
	}
	if e, ok := core.AsError(err); ok {
		if e.Path != "" {
			body["note_path"] = e.Path
		}
		if kind == core.KindVersionConflict {
			body["current_version"] = e.CurrentVersion
		}
		if kind == core.KindIndexCorrupt {
			body["recovery"] = "POST /api/rebuild"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
