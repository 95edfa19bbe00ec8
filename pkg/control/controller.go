package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/cloud"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"github.com/openfroyo/spinup/pkg/resources/repo"
	"github.com/openfroyo/spinup/pkg/stores"
	"github.com/openfroyo/spinup/pkg/telemetry"
)

// ErrUnsupportedVerb is returned when the root resource does not
// implement the verb.
var ErrUnsupportedVerb = errors.New("verb not supported by this resource")

// Sheller is implemented by roots that can open an interactive shell.
type Sheller interface {
	Shell(ctx context.Context) error
}

// Watcher is implemented by roots that can follow service output.
type Watcher interface {
	Watch(ctx context.Context) error
}

// Puller is implemented by roots that can refresh deployed code.
type Puller interface {
	Pull(ctx context.Context, phase *engine.Phase) error
}

// Controller runs verbs against one state file.
type Controller struct {
	// Settings are the runtime options.
	Settings *Settings

	// Catalog knows the resource types. Defaults to NewCatalog().
	Catalog *engine.Catalog

	// StatePath is the state document.
	StatePath string

	// Args is the raw command line scanned for variable flags.
	Args []string

	// JSON selects JSON instead of YAML and tables for output.
	JSON bool

	// Out receives verb output. Defaults to os.Stdout.
	Out io.Writer

	// Telemetry, when set, observes every phase.
	Telemetry *telemetry.Telemetry

	// Compute overrides the cloud API built from the settings.
	Compute cloud.Compute

	// Repo overrides the repository API built from the settings.
	Repo repo.API

	// HTTPClient is used for web fetches and the repository API.
	HTTPClient *http.Client

	logger zerolog.Logger
}

// New creates a controller for the state file at statePath.
func New(settings *Settings, statePath string) *Controller {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Controller{
		Settings:  settings,
		Catalog:   NewCatalog(),
		StatePath: statePath,
		Out:       os.Stdout,
		logger:    log.Logger.With().Str("component", "control").Logger(),
	}
}

// WithLogger sets the logger of the controller and of its phases.
func (c *Controller) WithLogger(logger zerolog.Logger) *Controller {
	c.logger = logger
	return c
}

// session is one verb run: the opened state and the observers of its
// phases.
type session struct {
	verb      string
	state     *stores.StateFile
	recorder  *stores.Recorder
	store     *stores.SQLiteStore
	observers []engine.Observer
	span      trace.Span
	started   time.Time
}

func (s *session) root() engine.Resource { return s.state.Root() }

// phase creates the root phase of the run. It checkpoints to the state
// file unless dryRun is set.
func (c *Controller) phase(s *session, description string, dryRun bool) *engine.Phase {
	var persistor engine.Persistor = s.state
	if dryRun {
		persistor = nil
	}
	return engine.NewPhase(description, persistor, s.root()).
		WithLogger(c.logger).
		WithObservers(s.observers...)
}

// open loads the state document, applies variable flags and starts the
// journal and telemetry for verb.
func (c *Controller) open(ctx context.Context, verb string) (context.Context, *session, error) {
	if c.StatePath == "" {
		return ctx, nil, engine.NewConfigurationError("no state file", errors.New("use --config")).
			WithCode(engine.ErrCodeMissingConfig)
	}
	state, err := stores.OpenStateFile(ctx, c.StatePath, c.catalog(), stores.WithStateLogger(c.logger))
	if err != nil {
		if stores.IsNotExist(err) {
			return ctx, nil, engine.NewConfigurationError("state file does not exist", err).
				WithResource(c.StatePath).
				WithCode(engine.ErrCodeNotFound).
				WithDetail("hint", "run create first")
		}
		return ctx, nil, err
	}

	vars, _ := engine.Collect(state.Root())
	applied, err := ApplyVariableFlags(c.Args, vars)
	if err != nil {
		return ctx, nil, err
	}
	if applied > 0 {
		c.logger.Debug().Int("variables", applied).Msg("Applied variable flags")
	}

	s := &session{verb: verb, state: state, started: time.Now()}
	if c.Settings.Journal != "" {
		if err := c.startJournal(ctx, s); err != nil {
			return ctx, nil, err
		}
	}
	if c.Telemetry != nil {
		s.observers = append(s.observers, c.Telemetry.Observer())
		if c.Telemetry.Metrics != nil {
			c.Telemetry.Metrics.RecordRunStarted(verb)
		}
		if c.Telemetry.Tracer != nil {
			runID := ""
			if s.recorder != nil {
				runID = s.recorder.RunID()
			}
			ctx, s.span = c.Telemetry.Tracer.StartRunSpan(ctx, runID, verb)
		}
	}
	return c.environment(ctx), s, nil
}

func (c *Controller) startJournal(ctx context.Context, s *session) error {
	store, err := c.openJournal(ctx)
	if err != nil {
		return err
	}
	s.store = store
	s.recorder = stores.NewRecorder(store, s.verb, c.StatePath, s.root().Name())
	if err := s.recorder.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start journal run: %w", err)
	}
	s.state.SetJournal(s.recorder)
	s.observers = append(s.observers, s.recorder)
	c.logger = c.logger.With().Str("run_id", s.recorder.RunID()).Logger()
	return nil
}

func (c *Controller) openJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: c.Settings.Journal})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

// close finishes the journal run and records the outcome.
func (c *Controller) close(ctx context.Context, s *session, runErr error) error {
	if s.recorder != nil {
		if err := s.recorder.Finish(context.WithoutCancel(ctx), runErr); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to finish journal run")
		}
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	status := "success"
	if runErr != nil {
		status = "failure"
	}
	if c.Telemetry != nil && c.Telemetry.Metrics != nil {
		c.Telemetry.Metrics.RecordRunCompleted(s.verb, status, time.Since(s.started))
	}
	if s.span != nil {
		if runErr != nil {
			telemetry.RecordError(s.span, runErr)
		} else {
			telemetry.RecordSuccess(s.span)
		}
		s.span.End()
	}
	return runErr
}

// environment puts the cloud, repository and HTTP collaborators into ctx.
func (c *Controller) environment(ctx context.Context) context.Context {
	compute := c.Compute
	if compute == nil {
		compute = cloud.NewEC2(c.Settings.Region)
	}
	ctx = cloud.WithEnv(ctx, &cloud.Env{
		Compute: compute,
		Backoff: c.Settings.Backoff(),
		SSH:     c.Settings.SSHOptions(),
	})

	api := c.Repo
	if api == nil {
		api = &repo.GitHub{BaseURL: c.Settings.GitHub.BaseURL}
	}
	ctx = repo.WithAPI(ctx, api)

	if c.HTTPClient != nil {
		ctx = file.WithHTTPClient(ctx, c.HTTPClient)
	}
	return ctx
}

func (c *Controller) catalog() *engine.Catalog {
	if c.Catalog == nil {
		c.Catalog = NewCatalog()
	}
	return c.Catalog
}

func (c *Controller) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// Create builds a new root of type tag named name and writes it to the
// state file. An existing state file is never overwritten.
func (c *Controller) Create(ctx context.Context, tag, name string) error {
	if c.StatePath == "" {
		return engine.NewConfigurationError("no state file", errors.New("use --config")).
			WithCode(engine.ErrCodeMissingConfig)
	}
	if name == "" || strings.Contains(name, "..") {
		return engine.NewConfigurationError("invalid resource name", fmt.Errorf("%q", name)).
			WithCode(engine.ErrCodeInvalidValue)
	}
	if _, err := os.Stat(c.StatePath); err == nil {
		return engine.NewConfigurationError("state file already exists", os.ErrExist).
			WithResource(c.StatePath).
			WithCode(engine.ErrCodeInvalidValue)
	}

	root, err := c.catalog().New(tag, strings.Split(name, "."))
	if err != nil {
		return err
	}
	vars, _ := engine.Collect(root)
	if _, err := ApplyVariableFlags(c.Args, vars); err != nil {
		return err
	}

	state := stores.NewStateFile(c.StatePath, root, c.catalog().Registry(), stores.WithStateLogger(c.logger))
	if err := state.Save(ctx); err != nil {
		return err
	}
	c.logger.Info().
		Str("resource", engine.Describe(root)).
		Str("path", c.StatePath).
		Msg("CREATE")
	return nil
}

// Elaborate resolves every reference of the graph and reports missing
// configuration.
func (c *Controller) Elaborate(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "elaborate")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	phase := c.phase(s, "ELABORATE "+engine.Describe(s.root()), false)
	return phase.Run(ctx, func(ctx context.Context) error {
		return engine.Elaborate(ctx, phase, s.root())
	})
}

// Up elaborates the graph, checks it against the policies and brings it
// up. Nothing is brought up while configuration is missing.
func (c *Controller) Up(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "up")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	gate, err := c.policies(ctx)
	if err != nil {
		return err
	}

	root := s.root()
	phase := c.phase(s, "UP "+engine.Describe(root), false)
	return phase.Run(ctx, func(ctx context.Context) error {
		if err := engine.Elaborate(ctx, phase, root); err != nil {
			return err
		}
		if phase.HasMissing() {
			return nil
		}
		if _, err := gate.Gate(ctx, root, c.policyContext("up", false)); err != nil {
			return err
		}
		return engine.Up(ctx, phase, root)
	})
}

// Down tears the graph down in reverse order.
func (c *Controller) Down(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "down")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	gate, err := c.policies(ctx)
	if err != nil {
		return err
	}

	root := s.root()
	phase := c.phase(s, "DOWN "+engine.Describe(root), false)
	return phase.Run(ctx, func(ctx context.Context) error {
		if _, err := gate.Gate(ctx, root, c.policyContext("down", false)); err != nil {
			return err
		}
		return engine.Down(ctx, phase, root)
	})
}

// Pull refreshes deployed code on every host of the graph.
func (c *Controller) Pull(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "pull")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	puller, ok := s.root().(Puller)
	if !ok {
		return unsupported("pull", s.root())
	}
	phase := c.phase(s, "PULL "+engine.Describe(s.root()), false)
	return phase.Run(ctx, func(ctx context.Context) error {
		return puller.Pull(ctx, phase)
	})
}

// Shell opens an interactive shell on the first host of the graph.
func (c *Controller) Shell(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "shell")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	sheller, ok := s.root().(Sheller)
	if !ok {
		return unsupported("shell", s.root())
	}
	return sheller.Shell(ctx)
}

// Watch follows service output until ctx is cancelled. Metrics are served
// over HTTP meanwhile when a listen address is configured.
func (c *Controller) Watch(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "watch")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	watcher, ok := s.root().(Watcher)
	if !ok {
		return unsupported("watch", s.root())
	}
	if c.Telemetry != nil && c.Telemetry.Config().Metrics.ListenAddress != "" {
		srv, err := c.Telemetry.Metrics.StartMetricsServer()
		if err != nil {
			return err
		}
		if srv != nil {
			defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()
		}
	}

	err = watcher.Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func unsupported(verb string, root engine.Resource) error {
	return engine.NewConfigurationError("cannot "+verb, fmt.Errorf("%w: %s", ErrUnsupportedVerb, root.TypeTag())).
		WithResource(root.Name()).
		WithOperation(verb).
		WithCode(engine.ErrCodeInvalidValue)
}
