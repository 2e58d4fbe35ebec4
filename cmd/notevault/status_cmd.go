package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sgx-labs/notevault/internal/cli"
)

func statusCmd() *cobra.Command {
	var (
		user    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault and index state at a glance",
		Long: `Shows the configured vault root, the index database state, and,
with --user, that user's index health (note count and last rebuild).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, user, jsonOut)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Show index health for this user")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// statusData is the JSON shape of `notevault status --json`.
type statusData struct {
	Vault struct {
		Root string `json:"root"`
	} `json:"vault"`
	Database struct {
		Path          string `json:"path"`
		SchemaVersion int    `json:"schema_version"`
		SizeBytes     int64  `json:"size_bytes,omitempty"`
		Integrity     string `json:"integrity"`
	} `json:"database"`
	User *userHealth `json:"user,omitempty"`
}

type userHealth struct {
	ID                    string    `json:"id"`
	NoteCount             int64     `json:"note_count"`
	LastFullRebuild       time.Time `json:"last_full_rebuild"`
	LastIncrementalUpdate time.Time `json:"last_incremental_update"`
}

func runStatus(cmd *cobra.Command, user string, jsonOut bool) error {
	svc, db, cfg, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	var data statusData
	data.Vault.Root = cfg.Vault.Root
	data.Database.Path = cfg.Database.Path
	data.Database.SchemaVersion = db.SchemaVersion()
	if info, err := os.Stat(cfg.Database.Path); err == nil {
		data.Database.SizeBytes = info.Size()
	}
	data.Database.Integrity = "ok"
	integrityErr := db.IntegrityCheck()
	if integrityErr != nil {
		data.Database.Integrity = integrityErr.Error()
	}

	if user != "" {
		h, err := svc.IndexHealth(cmd.Context(), user)
		if err != nil {
			return err
		}
		data.User = &userHealth{
			ID:                    user,
			NoteCount:             h.NoteCount,
			LastFullRebuild:       h.LastFullRebuild,
			LastIncrementalUpdate: h.LastIncrementalUpdate,
		}
	}

	if jsonOut {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	cli.Header("NoteVault Status")

	cli.Section("Vault")
	fmt.Printf("  Root:    %s\n", cli.ShortenHome(cfg.Vault.Root))

	cli.Section("Database")
	fmt.Printf("  Path:    %s\n", cli.ShortenHome(cfg.Database.Path))
	fmt.Printf("  Schema:  v%d\n", data.Database.SchemaVersion)
	if data.Database.SizeBytes > 0 {
		fmt.Printf("  Size:    %s\n", cli.FormatBytes(data.Database.SizeBytes))
	}
	if integrityErr != nil {
		fmt.Printf("  Check:   %sfailed%s (%v)\n", cli.Red, cli.Reset, integrityErr)
		fmt.Printf("           run 'notevault rebuild --user <id>' per affected user\n")
	} else {
		fmt.Printf("  Check:   %sok%s\n", cli.Green, cli.Reset)
	}

	if data.User != nil {
		cli.Section("User " + data.User.ID)
		fmt.Printf("  Notes:     %s indexed\n", cli.FormatNumber(int(data.User.NoteCount)))
		fmt.Printf("  Rebuilt:   %s\n", formatAgo(data.User.LastFullRebuild))
		fmt.Printf("  Reindexed: %s\n", formatAgo(data.User.LastIncrementalUpdate))
	}

	cli.Footer()
	return nil
}

func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
