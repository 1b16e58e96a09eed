package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/render"
	"github.com/untoldecay/taskgraph/internal/rpc"
	"github.com/untoldecay/taskgraph/internal/storage/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show project health: counts, continuity score, integrity issues",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := ""
		if len(args) > 0 {
			project = args[0]
		}
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		md, err := rpc.StatusMarkdown(cmd.Context(), eng, project)
		if err != nil {
			return err
		}
		fmt.Print(render.Markdown(md))
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree <project>",
	Short: "Print the project task tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		root, err := eng.Tree(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(render.Tree(root))
		return nil
	},
}

var agentConfigCmd = &cobra.Command{
	Use:   "agent-config",
	Short: "Print the agent usage guide for pasting into a system prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(rpc.AgentGuide())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(agentConfigCmd)
}

// openEngine opens the store read-write for one-shot CLI commands.
func openEngine(cmd *cobra.Command) (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newStderrLogger(cfg)
	store, err := sqlite.New(cmd.Context(), cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	eng := engine.New(store, log, engine.WithClaimTTL(cfg.ClaimTTL))
	return eng, func() { store.Close() }, nil
}
