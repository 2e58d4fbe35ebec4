package main

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/sgx-labs/notevault/internal/mcp"
)

func mcpCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP stdio server",
		Long: `Serve the note vault to an AI agent over the Model Context Protocol.

The server speaks MCP on stdin/stdout and is bound to a single user for
its whole lifetime; register it in your agent's MCP config as
"notevault mcp --user <id>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, _, err := openService()
			if err != nil {
				return err
			}
			defer db.Close()

			mcpserver.Version = Version
			return mcpserver.Serve(cmd.Context(), svc, user)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID to serve (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}
