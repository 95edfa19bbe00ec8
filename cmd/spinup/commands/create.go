package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/spinup/pkg/control"
)

func newCreateCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <type> <name>",
		Short: "Create a new state file",
		Long: fmt.Sprintf(`Create a state file holding a new root resource of the given type.

The name becomes the first segment of every variable and resource path
under the root. An existing state file is never overwritten. Variable
flags given here are stored with the new root.

Types:
  %s`, strings.Join(control.NewCatalog().Tags(), "\n  ")),
		Example: `  # Describe a two-node cluster deploying acme/app
  spinup create ManageCluster site -c site.json

  # Set variables at creation time
  spinup create ManageCluster site -c site.json --repo_owner acme --instance_count 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.controller().Create(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}
