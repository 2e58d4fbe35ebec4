package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sgx-labs/notevault/internal/cli"
)

func searchCmd() *cobra.Command {
	var (
		user    string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search a user's notes from the command line",
		Long: `Full-text search over one user's notes, ranked by relevance with a
recency boost. Append * to a word for prefix matching.

Examples:
  notevault search --user alice "deploy checklist"
  notevault search --user alice deplo*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runCLISearch(cmd, user, query, limit, jsonOut)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID to search as (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of results (default 10, max 20)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runCLISearch(cmd *cobra.Command, user, query string, limit int, jsonOut bool) error {
	svc, db, _, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := svc.Search(cmd.Context(), user, query, limit)
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("\n  No results found.")
		fmt.Printf("  %sTry fewer words, or a prefix like deplo*.%s\n\n", cli.Dim, cli.Reset)
		return nil
	}

	for i, r := range results {
		fmt.Printf("\n%d. %s\n", i+1, r.Title)
		fmt.Printf("   %s\n", r.NotePath)
		fmt.Printf("   Score: %.2f  Updated: %s\n", r.Score, r.Updated.Format("2006-01-02"))

		// Snippets carry <mark> tags for the web UI; strip for terminals.
		snippet := strings.ReplaceAll(r.Snippet, "<mark>", "")
		snippet = strings.ReplaceAll(snippet, "</mark>", "")
		snippet = strings.ReplaceAll(snippet, "\n", " ")
		if len(snippet) > 150 {
			snippet = snippet[:150] + "..."
		}
		fmt.Printf("   %s\n", snippet)
	}
	fmt.Println()
	return nil
}
