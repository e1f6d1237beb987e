// Command booktracker serves the book catalogue over REST, live streams and
// MCP.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booktracker",
		Short: "Book catalogue server",
		Long: `booktracker keeps a catalogue of books and serves it as a REST API,
as live SSE and WebSocket mutation streams, and as MCP tools over JSON-RPC.

Configuration comes from an optional YAML file, then BOOKTRACKER_* environment
variables (a .env file in the working directory is loaded first), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd(), newToolsCmd())
	return cmd
}
