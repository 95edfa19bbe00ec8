// Package telemetry provides observability instrumentation for spinup.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). The Observer type plugs into the engine's phase
// tree so that every phase becomes a span and a set of metric samples.
//
// # Usage
//
// Initialize telemetry at startup and attach the observer to the root
// phase:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	phase := engine.NewPhase("UP", persistor, root).
//	    WithLogger(tel.Logger.Zerolog()).
//	    WithObservers(tel.Observer())
//
// # Metrics
//
// Short-lived verbs write their metrics to MetricsConfig.TextfilePath on
// Shutdown so that a node exporter textfile collector can pick them up.
// Long-running verbs such as watch may also serve them over HTTP with
// StartMetricsServer.
//
// # Tracing
//
// Spans are exported over OTLP/gRPC or printed to stdout. Phase spans are
// named after the leading word of the phase description ("phase.up",
// "phase.elaborate") and carry the full description as an attribute.
package telemetry
