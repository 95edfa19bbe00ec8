package commands

import (
	"github.com/spf13/cobra"
)

func newElaborateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "elaborate",
		Short: "Resolve the graph and report missing configuration",
		Long: `Resolve every reference of the graph, creating children that do not
exist yet, and save the result. Every variable that still needs a value
is reported at the end; nothing outside the state file is touched.`,
		Example: `  spinup elaborate -c site.json --repo_name app`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Elaborate(cmd.Context())
		},
	}
}

func newUpCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Bring the graph up",
		Long: `Elaborate the graph, evaluate the policies and bring every resource up
in dependency order. Resources already up are left alone, so up can be
repeated after a failure.

Nothing is brought up while configuration is missing. The state file is
saved after every step.`,
		Example: `  spinup up -c site.json

  # Journal the run and its checkpoints
  spinup up -c site.json --journal runs.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Up(cmd.Context())
		},
	}
}

func newDownCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Tear the graph down",
		Long: `Tear every resource down in the reverse of the up order. The state
file is saved after every step, so an interrupted down can be resumed.

The production-teardown policy refuses down when the environment is
production.`,
		Example: `  spinup down -c site.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Down(cmd.Context())
		},
	}
}

func newPullCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull the latest code on every instance",
		Example: `  spinup pull -c site.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Pull(cmd.Context())
		},
	}
}
