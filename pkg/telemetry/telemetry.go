package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/spinup/pkg/engine"
)

// Telemetry aggregates all telemetry components.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	config  *Config
}

// NewTelemetry creates and initializes all telemetry components.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		config:  cfg,
	}, nil
}

// Config returns the configuration the telemetry was built from.
func (t *Telemetry) Config() *Config {
	return t.config
}

// WithContext adds the logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Observer returns a phase observer feeding the tracer and the metrics.
func (t *Telemetry) Observer() *Observer {
	return NewObserver(t.Tracer, t.Metrics)
}

// Shutdown flushes pending spans and writes the metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if t.Metrics != nil {
		if err := t.Metrics.WriteTextfile(); err != nil {
			errs = append(errs, fmt.Errorf("metrics textfile: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Observer turns phase transitions into spans and metrics. It
// implements engine.Observer.
type Observer struct {
	tracer  *Tracer
	metrics *Metrics

	mu          sync.Mutex
	spans       map[*engine.Phase]trace.Span
	checkpoints int
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer. Either argument may be nil.
func NewObserver(tracer *Tracer, metrics *Metrics) *Observer {
	return &Observer{
		tracer:  tracer,
		metrics: metrics,
		spans:   make(map[*engine.Phase]trace.Span),
	}
}

// PhaseBegin starts the phase span.
func (o *Observer) PhaseBegin(ctx context.Context, p *engine.Phase) context.Context {
	if o.metrics != nil {
		o.metrics.PhaseStarted()
	}
	if o.tracer == nil {
		return ctx
	}
	ctx, span := o.tracer.StartPhaseSpan(ctx, p.Description(), p.Depth())
	o.mu.Lock()
	o.spans[p] = span
	o.mu.Unlock()
	return ctx
}

// PhaseEnd ends the phase span and records the phase outcome.
func (o *Observer) PhaseEnd(_ context.Context, p *engine.Phase, err error, elapsed time.Duration) {
	o.mu.Lock()
	span, ok := o.spans[p]
	delete(o.spans, p)
	written := p.Checkpoints() - o.checkpoints
	o.checkpoints = p.Checkpoints()
	o.mu.Unlock()

	status := "success"
	if err != nil {
		status = "failure"
	}

	if o.metrics != nil {
		o.metrics.RecordPhase(p.Description(), status, elapsed)
		for i := 0; i < written; i++ {
			o.metrics.RecordCheckpoint()
		}
		if err != nil {
			o.metrics.RecordError(errorClass(err))
		}
	}

	if !ok {
		return
	}
	if err != nil {
		span.SetAttributes(AttrErrorClass.String(errorClass(err)))
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Code != "" {
			span.SetAttributes(AttrErrorCode.String(ee.Code))
		}
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// PhaseMissing counts the missing item and adds it to the phase span.
func (o *Observer) PhaseMissing(p *engine.Phase, item string) {
	if o.metrics != nil {
		o.metrics.RecordMissing()
	}
	o.mu.Lock()
	span, ok := o.spans[p]
	o.mu.Unlock()
	if ok {
		span.AddEvent("missing", trace.WithAttributes(AttrMissingItem.String(item)))
	}
}

func errorClass(err error) string {
	switch {
	case engine.IsConfiguration(err):
		return string(engine.ErrorClassConfiguration)
	case engine.IsTransient(err):
		return string(engine.ErrorClassTransient)
	case engine.IsPermanent(err):
		return string(engine.ErrorClassPermanent)
	default:
		return "unclassified"
	}
}
