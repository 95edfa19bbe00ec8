package commands

import (
	"github.com/spf13/cobra"
)

func newShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the variables of the graph",
		Long: `Print every variable of the graph with its current value as YAML, or
JSON with --json. Variables without a value print as null.`,
		Example: `  spinup show -c site.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Show(cmd.Context())
		},
	}
}

func newVarsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "vars",
		Short:   "List the variable flags of the graph",
		Example: `  spinup vars -c site.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Vars(cmd.Context())
		},
	}
}
