package konditional

import "github.com/rs/zerolog"

// Logger is the structured-logging seam a Namespace calls into on load,
// rollback, kill-switch, and override events (spec.md §5). Hosts that
// already use zerolog (as this one's ambient stack does) wrap their
// existing logger with NewZerologLogger; anyone else implements the three
// methods directly.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// MetricsCollector is the counters/gauges seam for evaluation and registry
// events. A nil collector is never passed to user code — Namespace
// substitutes noopMetricsCollector when none is configured.
type MetricsCollector interface {
	IncEvaluation(feature FeatureId, decision DecisionKind)
	IncReload(namespace string, fromVersion, toVersion int64)
	IncRollback(namespace string, toVersion int64)
	ObserveBucket(feature FeatureId, bucket int)
}

type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any)        {}
func (noopLogger) Warn(string, map[string]any)         {}
func (noopLogger) Error(string, error, map[string]any) {}

type noopMetricsCollector struct{}

func (noopMetricsCollector) IncEvaluation(FeatureId, DecisionKind) {}
func (noopMetricsCollector) IncReload(string, int64, int64)        {}
func (noopMetricsCollector) IncRollback(string, int64)             {}
func (noopMetricsCollector) ObserveBucket(FeatureId, int)          {}

// ZerologLogger adapts a zerolog.Logger to the Logger interface, matching
// the field-chaining style the rest of this module's host services use
// (see the edge-evaluator cache).
type ZerologLogger struct {
	Log zerolog.Logger
}

// NewZerologLogger wraps log as a Logger.
func NewZerologLogger(log zerolog.Logger) ZerologLogger {
	return ZerologLogger{Log: log}
}

func (z ZerologLogger) Debug(msg string, fields map[string]any) {
	evt := z.Log.Debug()
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}

func (z ZerologLogger) Warn(msg string, fields map[string]any) {
	evt := z.Log.Warn()
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}

func (z ZerologLogger) Error(msg string, err error, fields map[string]any) {
	evt := z.Log.Error().Err(err)
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}
