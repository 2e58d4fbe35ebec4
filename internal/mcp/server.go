// Package mcp implements the tool-call server for AI agents. One server
// process serves one principal: the user ID is fixed at startup and every
// tool call runs as that user. write_note deliberately has no version
// precondition; agent writes are last-write-wins.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sgx-labs/notevault/internal/core"
	"github.com/sgx-labs/notevault/internal/notes"
	"github.com/sgx-labs/notevault/internal/vault"
)

// Version is set by the caller (main) before calling Serve.
var Version = "dev"

// Serve starts the MCP server for userID on stdio and blocks.
func Serve(ctx context.Context, svc *notes.Service, userID string) error {
	if err := vault.ValidateUserID(userID); err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	s := &toolServer{svc: svc, userID: userID}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "notevault",
		Version: Version,
	}, nil)
	s.register(server)

	return server.Run(ctx, &mcp.StdioTransport{})
}

type toolServer struct {
	svc    *notes.Service
	userID string
}

func (s *toolServer) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_notes",
		Description: "List the user's notes, optionally scoped to a folder.\n\nArgs:\n  folder: Folder prefix to scope the listing (optional)\n\nReturns paths, titles and update times, ordered by path.",
	}, s.handleListNotes)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_note",
		Description: "Read a note's full content and metadata. Use after list_notes or search_notes when you need the complete text.\n\nArgs:\n  path: Vault-relative note path ending in .md\n\nReturns title, tags, body, version and timestamps.",
	}, s.handleReadNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "write_note",
		Description: "Create or replace a note. The write always wins; read first if you need to preserve existing content.\n\nArgs:\n  path: Vault-relative note path ending in .md\n  title: Note title stored in frontmatter (optional)\n  tags: Tags stored in frontmatter (optional)\n  body: Markdown body; [[Wiki Links]] are indexed\n\nReturns the note's new version.",
	}, s.handleWriteNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_note",
		Description: "Delete a note. Inbound wikilinks to it become unresolved.\n\nArgs:\n  path: Vault-relative note path ending in .md",
	}, s.handleDeleteNote)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_notes",
		Description: "Full-text search over the user's notes with title weighting and recency boost. Operator characters in the query are neutralized; a trailing * on a word requests prefix matching.\n\nArgs:\n  query: Raw search query\n  limit: Number of results (default 10, max 20)\n\nReturns ranked matches with snippets.",
	}, s.handleSearchNotes)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_backlinks",
		Description: "List the notes whose [[wikilinks]] resolve to a given note.\n\nArgs:\n  path: Vault-relative note path ending in .md\n\nReturns source paths and titles, ordered by path.",
	}, s.handleGetBacklinks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_tags",
		Description: "List the user's tags with note counts, most used first.",
	}, s.handleGetTags)
}

// Tool input types

type listInput struct {
	Folder string `json:"folder,omitempty" jsonschema:"Folder prefix to scope the listing"`
}

type pathInput struct {
	Path string `json:"path" jsonschema:"Vault-relative note path ending in .md"`
}

type writeInput struct {
	Path  string   `json:"path" jsonschema:"Vault-relative note path ending in .md"`
	Title string   `json:"title,omitempty" jsonschema:"Note title stored in frontmatter"`
	Tags  []string `json:"tags,omitempty" jsonschema:"Tags stored in frontmatter"`
	Body  string   `json:"body" jsonschema:"Markdown body of the note"`
}

type searchInput struct {
	Query string `json:"query" jsonschema:"Raw search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"Number of results (default 10, max 20)"`
}

type emptyInput struct{}

// Tool handlers

func (s *toolServer) handleListNotes(ctx context.Context, req *mcp.CallToolRequest, input listInput) (*mcp.CallToolResult, any, error) {
	entries, err := s.svc.ListNotes(ctx, s.userID, input.Folder)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(entries) == 0 {
		return textResult("No notes found."), nil, nil
	}
	return jsonResult(entries), nil, nil
}

func (s *toolServer) handleReadNote(ctx context.Context, req *mcp.CallToolRequest, input pathInput) (*mcp.CallToolResult, any, error) {
	n, err := s.svc.ReadNote(ctx, s.userID, input.Path)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(n), nil, nil
}

func (s *toolServer) handleWriteNote(ctx context.Context, req *mcp.CallToolRequest, input writeInput) (*mcp.CallToolResult, any, error) {
	fm := vault.Frontmatter{Title: input.Title, Tags: input.Tags}
	res, err := s.svc.WriteNote(ctx, s.userID, input.Path, fm, input.Body, nil)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(res), nil, nil
}

func (s *toolServer) handleDeleteNote(ctx context.Context, req *mcp.CallToolRequest, input pathInput) (*mcp.CallToolResult, any, error) {
	if err := s.svc.DeleteNote(ctx, s.userID, input.Path); err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("Deleted %s.", input.Path)), nil, nil
}

func (s *toolServer) handleSearchNotes(ctx context.Context, req *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	results, err := s.svc.Search(ctx, s.userID, input.Query, input.Limit)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(results) == 0 {
		return textResult("No results found."), nil, nil
	}
	return jsonResult(results), nil, nil
}

func (s *toolServer) handleGetBacklinks(ctx context.Context, req *mcp.CallToolRequest, input pathInput) (*mcp.CallToolResult, any, error) {
	back, err := s.svc.Backlinks(ctx, s.userID, input.Path)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(back) == 0 {
		return textResult("No backlinks."), nil, nil
	}
	return jsonResult(back), nil, nil
}

func (s *toolServer) handleGetTags(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, any, error) {
	tags, err := s.svc.Tags(ctx, s.userID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if len(tags) == 0 {
		return textResult("No tags."), nil, nil
	}
	return jsonResult(tags), nil, nil
}

// Helpers

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return textResult(string(data))
}

// errorResult renders a typed error as structured JSON the agent can act
// on. Tool-call failures are results, not protocol errors.
func errorResult(err error) *mcp.CallToolResult {
	body := map[string]any{"error": core.KindOf(err).String()}
	if e, ok := core.AsError(err); ok {
		if e.Path != "" {
			body["note_path"] = e.Path
		}
		if e.Kind == core.KindIndexCorrupt {
			body["recovery"] = "ask the user to run: notevault rebuild"
		}
	}
	data, _ := json.Marshal(body)
	return textResult(string(data))
}
