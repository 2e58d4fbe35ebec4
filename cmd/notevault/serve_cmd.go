package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sgx-labs/notevault/internal/watcher"
	"github.com/sgx-labs/notevault/internal/web"
)

func serveCmd() *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local REST API server",
		Long: `Serve the note vault over HTTP on a loopback address.

The API expects the caller's user ID in the X-User-ID header; in a
multi-user deployment a reverse proxy sets it after authenticating.
With --watch, out-of-band edits to vault files are reindexed as they
happen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the vault for external edits and reindex")
	return cmd
}

func runServe(addr string, watch bool) error {
	svc, db, cfg, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	if addr == "" {
		addr = cfg.Server.ListenAddr
	}

	if watch {
		go func() {
			if err := watcher.Watch(context.Background(), svc, cfg.Vault.Root); err != nil {
				fmt.Fprintf(os.Stderr, "watcher stopped: %v\n", err)
			}
		}()
	}

	return web.Serve(addr, svc, Version)
}
