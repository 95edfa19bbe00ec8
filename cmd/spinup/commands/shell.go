package commands

import (
	"github.com/spf13/cobra"
)

func newShellCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "shell",
		Short:   "Open a shell on the first instance",
		Example: `  spinup shell -c site.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Shell(cmd.Context())
		},
	}
}

func newWatchCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the service log of the first instance",
		Long: `Follow the service log of the first instance until interrupted. When
telemetry.metrics.listen_address is set in the settings file, metrics are
served over HTTP meanwhile.`,
		Example: `  spinup watch -c site.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Watch(cmd.Context())
		},
	}
}
