package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gopm-io/gopm/internal/mcpserver"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve gopm over the Model Context Protocol",
	Long: `Serve gopm over the Model Context Protocol on stdin/stdout.

Registers tools for listing, starting, controlling, and inspecting
managed processes so MCP clients such as editors and LLM agents can
drive the daemon. Every tool call is proxied over the regular IPC
connection.`,
	Example: `  # Typical MCP client configuration runs this as the server command
  gopm mcp`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	return mcpserver.New(c, Version).Serve()
}
