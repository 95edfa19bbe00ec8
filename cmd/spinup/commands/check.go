package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckCommand(g *globals) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the policies without changing anything",
		Long: `Elaborate the graph in memory and evaluate the policies as up would.
The state file is not written. Missing configuration and violations are
printed.

With --watch, the policies are evaluated again whenever a file under a
--policy path changes.`,
		Example: `  spinup check -c site.json --policy policies/

  # Re-evaluate while editing policies
  spinup check -c site.json --policy policies/ --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && len(g.settings.Policies) == 0 {
				log.Warn().Msg("No policy paths to watch")
				watch = false
			}
			return g.controller().Check(cmd.Context(), watch)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-evaluate when policy files change")
	return cmd
}
