// Package main is the entrypoint for the notevault CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgx-labs/notevault/internal/config"
	"github.com/sgx-labs/notevault/internal/notes"
	"github.com/sgx-labs/notevault/internal/store"
	"github.com/sgx-labs/notevault/internal/vault"
)

// Version is set at build time via ldflags.
var Version = "dev"

// configPath is the global --config flag.
var configPath string

func main() {
	root := &cobra.Command{
		Use:   "notevault",
		Short: "Multi-user markdown note vault",
		Long:  "notevault — per-user markdown vaults with full-text search, tags, and a wikilink graph backed by SQLite.",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file (or set NOTEVAULT_CONFIG)")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(rebuildCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the notevault version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("notevault %s\n", Version)
			return nil
		},
	}
}

// openService wires config, store, and vault into a facade. The returned
// DB must be closed by the caller.
func openService() (*notes.Service, *store.DB, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, config.Config{}, err
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, config.Config{}, userError("Cannot open notevault database",
			"Check the [database] path in your config, or remove the file to start fresh")
	}
	svc := notes.NewService(cfg, db, vault.New(cfg.Vault.Root, cfg.Limits.MaxNoteSizeBytes))
	return svc, db, cfg, nil
}

// ---------- error helpers ----------

type cmdError struct {
	message string
	hint    string
}

func (e *cmdError) Error() string {
	return fmt.Sprintf("%s\n  Hint: %s", e.message, e.hint)
}

func userError(message, hint string) error {
	return &cmdError{message: message, hint: hint}
}
