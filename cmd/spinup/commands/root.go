package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/spinup/pkg/control"
	"github.com/openfroyo/spinup/pkg/telemetry"
)

// globals holds the persistent flags and what PersistentPreRunE builds
// from them.
type globals struct {
	statePath    string
	settingsPath string
	journal      string
	environment  string
	region       string
	policies     []string
	logLevel     string
	jsonOutput   bool

	// args is the raw command line, scanned again for variable flags.
	args []string

	settings  *control.Settings
	telemetry *telemetry.Telemetry
}

// Execute runs the root command over args.
func Execute(ctx context.Context, args []string, version, commit, buildDate string) error {
	g := &globals{args: args}
	rootCmd := newRootCommand(g, version, commit, buildDate)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if g.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := g.telemetry.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("Telemetry shutdown failed")
		}
	}
	return err
}

func newRootCommand(g *globals, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spinup",
		Short: "spinup - resource graph orchestration",
		Long: `spinup brings a graph of resources up and down: key pairs, security
groups, instances, deploy keys, packages, files and services.

The graph lives in a JSON state file. Every variable of the graph is a
command-line flag; run "spinup vars" to list them. Values given once are
remembered in the state file.

Features:
  - Deferred missing-configuration reporting
  - Checkpoint after every step, journaled to SQLite
  - Rego policies evaluated before up and down
  - Tracing and Prometheus metrics per phase`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd, version)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.statePath, "config", "c", "", "state file path")
	flags.StringVar(&g.settingsPath, "settings", "", "settings file path (YAML)")
	flags.StringVar(&g.journal, "journal", "", "SQLite journal of runs and checkpoints")
	flags.StringVar(&g.environment, "environment", "", "deployment environment seen by policies")
	flags.StringVar(&g.region, "region", "", "EC2 region")
	flags.StringArrayVar(&g.policies, "policy", nil, "policy file or directory (repeatable)")
	flags.StringVar(&g.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&g.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newCreateCommand(g))
	rootCmd.AddCommand(newElaborateCommand(g))
	rootCmd.AddCommand(newUpCommand(g))
	rootCmd.AddCommand(newDownCommand(g))
	rootCmd.AddCommand(newPullCommand(g))
	rootCmd.AddCommand(newShowCommand(g))
	rootCmd.AddCommand(newVarsCommand(g))
	rootCmd.AddCommand(newShellCommand(g))
	rootCmd.AddCommand(newWatchCommand(g))
	rootCmd.AddCommand(newHistoryCommand(g))
	rootCmd.AddCommand(newRestoreCommand(g))
	rootCmd.AddCommand(newCheckCommand(g))

	// Variable flags depend on the state file, so cobra lets them through
	// and the controller applies them after loading it.
	for _, sub := range rootCmd.Commands() {
		sub.FParseErrWhitelist.UnknownFlags = true
	}

	return rootCmd
}

// setup loads the settings, applies the global flags over them and starts
// telemetry.
func (g *globals) setup(cmd *cobra.Command, version string) error {
	settings, err := control.LoadSettings(g.settingsPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("journal") {
		settings.Journal = g.journal
	}
	if flags.Changed("environment") {
		settings.Environment = g.environment
	}
	if flags.Changed("region") {
		settings.Region = g.region
	}
	if flags.Changed("policy") {
		settings.Policies = append(settings.Policies, g.policies...)
	}
	if g.logLevel != "" {
		settings.Telemetry.Logging.Level = g.logLevel
		zerolog.SetGlobalLevel(telemetry.ParseLevel(g.logLevel))
	}
	if settings.Telemetry.ServiceVersion == "dev" {
		settings.Telemetry.ServiceVersion = version
	}
	settings.Telemetry.Environment = settings.Environment
	if err := settings.Validate(); err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	log.Logger = tel.Logger.Zerolog()

	g.settings = settings
	g.telemetry = tel
	return nil
}

// controller builds the controller for the current command.
func (g *globals) controller() *control.Controller {
	c := control.New(g.settings, g.statePath).
		WithLogger(g.telemetry.Logger.Component("control").Zerolog())
	c.Args = g.args
	c.JSON = g.jsonOutput
	c.Telemetry = g.telemetry
	return c
}
