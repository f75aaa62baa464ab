package main

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the operator tools over MCP stdio",
	Long: "Starts an MCP server over stdin/stdout exposing lander_run_cycle,\n" +
		"lander_variants, lander_events and lander_snapshot.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		srv := mcp.NewServer(&mcp.Implementation{Name: "lander", Version: version}, nil)
		e.RegisterMCP(srv)
		slog.Info("mcp: serving over stdio")
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}
