package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func rebuildCmd() *cobra.Command {
	var (
		user    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild a user's index from vault files",
		Long: `Drop the user's derived index and rebuild it by rescanning every
markdown file in their vault. The vault files themselves are never
touched. Use this after restoring a vault from backup, or when the
index has diverged from disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, user, jsonOut)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID to rebuild (required)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runRebuild(cmd *cobra.Command, user string, jsonOut bool) error {
	svc, db, _, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := svc.RebuildIndex(cmd.Context(), user)
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("Rebuilt index for %q: %d notes in %dms\n", user, res.NoteCount, res.DurationMS)
	return nil
}
