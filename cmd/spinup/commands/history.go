package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newHistoryCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs or the checkpoints of one run",
		Example: `  # Runs against site.json
  spinup history -c site.json --journal runs.db

  # Checkpoints of one run
  spinup history 2f1c... -c site.json --journal runs.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return g.controller().History(cmd.Context(), runID)
		},
	}
}

func newRestoreCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <run-id> <seq>",
		Short: "Write a journaled checkpoint back to the state file",
		Long: `Write checkpoint <seq> of run <run-id> back to the state file after
verifying its hash. The current state file is replaced.`,
		Example: `  spinup restore 2f1c... 4 -c site.json --journal runs.db`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.Atoi(args[1])
			if err != nil || seq < 1 {
				return fmt.Errorf("invalid checkpoint sequence %q", args[1])
			}
			return g.controller().Restore(cmd.Context(), args[0], seq)
		},
	}
}
