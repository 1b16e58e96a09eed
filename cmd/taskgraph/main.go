// Command taskgraph is a persistent task graph server for coding agents.
// The default command speaks MCP over stdio; side commands render status
// and serve the read-only dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskgraph",
	Short: "Persistent multi-agent task graph over MCP",
	Long: `taskgraph keeps a dependency-aware task tree for AI coding agents in a
single SQLite file. Run it without arguments as an MCP stdio server; use
the subcommands for human-facing views.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database file path (default: per-workspace under ~/.graph/db)")
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "agent identity attached to mutations")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error")
}

var (
	flagDB       string
	flagAgent    string
	flagLogLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
