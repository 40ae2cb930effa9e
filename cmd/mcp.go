package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/cqi/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients run analyses and ask questions about local
repositories. Configure a client with:

  {
    "mcpServers": {
      "cqi": { "command": "cqi", "args": ["mcp"] }
    }
  }

Available tools: cqi_analyze, cqi_ask, cqi_index, cqi_tools`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newService(true)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return mcp.NewServer(svc, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
