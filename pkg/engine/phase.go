package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persistor writes a checkpoint of the deployment state.
type Persistor interface {
	Save(ctx context.Context) error
}

// PersistorFunc adapts a function to the Persistor interface.
type PersistorFunc func(ctx context.Context) error

// Save implements Persistor.
func (f PersistorFunc) Save(ctx context.Context) error { return f(ctx) }

// Observer is notified about phase transitions. Begin may return a derived
// context that is passed to the phase body and to End.
type Observer interface {
	PhaseBegin(ctx context.Context, p *Phase) context.Context
	PhaseEnd(ctx context.Context, p *Phase, err error, elapsed time.Duration)
	PhaseMissing(p *Phase, item string)
}

// Phase is a named scope of lifecycle work. Leaving a phase always writes
// exactly one checkpoint. Sub-phases share the persistor, the tracked
// resources, the observers and the missing-configuration accumulator of
// the root they descend from.
type Phase struct {
	description string
	parent      *Phase
	depth       int
	shared      *phaseState
	missing     bool
}

type phaseState struct {
	persistor   Persistor
	resources   []Resource
	observers   []Observer
	logger      zerolog.Logger
	missing     []string
	checkpoints int
}

// NewPhase creates a root phase. persistor may be nil for dry runs.
func NewPhase(description string, persistor Persistor, resources ...Resource) *Phase {
	return &Phase{
		description: description,
		shared: &phaseState{
			persistor: persistor,
			resources: resources,
			logger:    log.Logger,
		},
	}
}

// WithLogger sets the logger used by the phase tree.
func (p *Phase) WithLogger(logger zerolog.Logger) *Phase {
	p.shared.logger = logger
	return p
}

// WithObservers adds observers to the phase tree.
func (p *Phase) WithObservers(observers ...Observer) *Phase {
	for _, o := range observers {
		if o != nil {
			p.shared.observers = append(p.shared.observers, o)
		}
	}
	return p
}

// Sub creates a child phase.
func (p *Phase) Sub(description string) *Phase {
	return &Phase{
		description: description,
		parent:      p,
		depth:       p.depth + 1,
		shared:      p.shared,
	}
}

// Description returns the phase name.
func (p *Phase) Description() string { return p.description }

// Depth returns the nesting level, zero for the root.
func (p *Phase) Depth() int { return p.depth }

// IsRoot reports whether the phase has no parent.
func (p *Phase) IsRoot() bool { return p.parent == nil }

// Parent returns the enclosing phase.
func (p *Phase) Parent() *Phase { return p.parent }

// Resources returns the resources tracked by the phase tree.
func (p *Phase) Resources() []Resource { return p.shared.resources }

// Logger returns the logger of the phase tree.
func (p *Phase) Logger() *zerolog.Logger { return &p.shared.logger }

// Checkpoints returns how many checkpoints the phase tree has written.
func (p *Phase) Checkpoints() int { return p.shared.checkpoints }

// Missing records a configuration item that must be supplied before the
// pass can succeed. The pass continues; the root phase reports the
// failure when it ends.
func (p *Phase) Missing(item string) {
	p.shared.missing = append(p.shared.missing, item)
	for cur := p; cur != nil; cur = cur.parent {
		cur.missing = true
	}

	p.shared.logger.Warn().
		Str("phase", p.description).
		Int("depth", p.depth).
		Str("item", item).
		Msg("MISSING")

	for _, o := range p.shared.observers {
		o.PhaseMissing(p, item)
	}
}

// HasMissing reports whether this phase or one of its sub-phases recorded
// missing configuration.
func (p *Phase) HasMissing() bool { return p.missing }

// MissingItems returns every item recorded in the phase tree.
func (p *Phase) MissingItems() []string {
	return append([]string(nil), p.shared.missing...)
}

// Require realizes the defaults of vars and records each one that still
// has no value. It reports whether all of them are set.
func (p *Phase) Require(vars ...Variable) bool {
	ok := true
	for _, v := range vars {
		if !v.Configure() {
			p.Missing(v.Name())
			ok = false
		}
	}
	return ok
}

// Run executes fn inside the phase. Whatever fn returns, a checkpoint is
// written before Run returns. A panic in fn is checkpointed and reported
// like an error, then re-raised. The error returned is fn's error, the
// checkpoint error, or, for a root phase, ErrMissingConfiguration when
// anything in the tree was reported missing.
func (p *Phase) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	logger := p.shared.logger
	logger.Info().Str("phase", p.description).Int("depth", p.depth).Msg("BEGIN")

	for _, o := range p.shared.observers {
		ctx = o.PhaseBegin(ctx, p)
	}

	start := time.Now()
	panicked, opErr := call(ctx, fn)
	if panicked != nil {
		opErr = fmt.Errorf("panic in %s: %v", p.description, panicked)
	}
	saveErr := p.checkpoint(ctx)
	elapsed := time.Since(start)

	var err error
	switch {
	case opErr != nil && saveErr != nil:
		err = errors.Join(opErr, saveErr)
	case opErr != nil:
		err = opErr
	case saveErr != nil:
		err = saveErr
	case p.IsRoot() && p.missing:
		err = NewConfigurationError("cannot complete "+p.description, ErrMissingConfiguration).
			WithCode(ErrCodeMissingConfig).
			WithDetail("items", p.MissingItems())
	}

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("phase", p.description).
		Int("depth", p.depth).
		Dur("duration", elapsed).
		Msg("END")

	for _, o := range p.shared.observers {
		o.PhaseEnd(ctx, p, err, elapsed)
	}
	if panicked != nil {
		panic(panicked)
	}
	return err
}

// call runs fn and captures a panic instead of unwinding past the phase.
func call(ctx context.Context, fn func(ctx context.Context) error) (panicked any, err error) {
	defer func() {
		panicked = recover()
	}()
	return nil, fn(ctx)
}

func (p *Phase) checkpoint(ctx context.Context) error {
	if p.shared.persistor == nil {
		return nil
	}
	if err := p.shared.persistor.Save(ctx); err != nil {
		return NewPermanentError("failed to write checkpoint", err).
			WithOperation(p.description).
			WithCode(ErrCodeCheckpoint)
	}
	p.shared.checkpoints++
	return nil
}
