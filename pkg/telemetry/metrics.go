package telemetry

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for spinup phases and runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phasesCompleted *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	activePhases    prometheus.Gauge

	// Missing configuration reported by phases
	missingConfig prometheus.Counter

	// Checkpoints written
	checkpoints prometheus.Counter

	// Resources in the current graph
	resourcesManaged *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of verb invocations started",
			},
			[]string{"verb"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of verb invocations completed",
			},
			[]string{"verb", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of verb invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"verb"},
		),

		phasesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_completed_total",
				Help:      "Total number of phases completed",
			},
			[]string{"operation", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phases in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		activePhases: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_phases",
				Help:      "Number of phases currently open",
			},
		),

		missingConfig: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "missing_configuration_total",
				Help:      "Total number of missing configuration items reported",
			},
		),
		checkpoints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Total number of state checkpoints written",
			},
		),

		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Number of resources in the loaded graph",
			},
			[]string{"resource_type"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of phase errors by class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phasesCompleted,
		m.phaseDuration,
		m.activePhases,
		m.missingConfig,
		m.checkpoints,
		m.resourcesManaged,
		m.errorsByClass,
	)

	return m, nil
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted increments the started counter for verb.
func (m *Metrics) RecordRunStarted(verb string) {
	if m.registry == nil {
		return
	}
	m.runsStarted.WithLabelValues(verb).Inc()
}

// RecordRunCompleted records the outcome and duration of a verb.
func (m *Metrics) RecordRunCompleted(verb, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runsCompleted.WithLabelValues(verb, status).Inc()
	m.runDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// PhaseStarted marks a phase as open.
func (m *Metrics) PhaseStarted() {
	if m.registry == nil {
		return
	}
	m.activePhases.Inc()
}

// RecordPhase records a finished phase. operation is the leading word of
// the phase description, e.g. "UP" for "UP Instance:\"web\"".
func (m *Metrics) RecordPhase(description, status string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	op := PhaseOperation(description)
	m.activePhases.Dec()
	m.phasesCompleted.WithLabelValues(op, status).Inc()
	m.phaseDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMissing counts one missing configuration item.
func (m *Metrics) RecordMissing() {
	if m.registry == nil {
		return
	}
	m.missingConfig.Inc()
}

// RecordCheckpoint counts one written checkpoint.
func (m *Metrics) RecordCheckpoint() {
	if m.registry == nil {
		return
	}
	m.checkpoints.Inc()
}

// SetResourceCount sets the number of resources of one type.
func (m *Metrics) SetResourceCount(resourceType string, count float64) {
	if m.registry == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(resourceType).Set(count)
}

// RecordError increments the error counter for class.
func (m *Metrics) RecordError(class string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// PhaseOperation returns the operation label for a phase description.
func PhaseOperation(description string) string {
	op, _, _ := strings.Cut(description, " ")
	if op == "" {
		return "unknown"
	}
	return strings.ToLower(op)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. It returns
// nil without starting anything when metrics are disabled or no listen
// address is configured.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return server, nil
}

// WriteTextfile writes the current metrics to the configured textfile
// path, for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}
