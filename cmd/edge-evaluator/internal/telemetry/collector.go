// Package telemetry adapts konditional.MetricsCollector to NATS, so
// evaluation counters produced inside a Namespace leave the process the
// same way config updates arrive in it (see services.ConfigService and
// its ff.config.updates subscription).
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/amichne/konditional/pkg/konditional"
)

// EvaluationSubject is where edge-evaluator publishes per-evaluation
// telemetry; event-ingestor subscribes to this subject and folds each
// message into its metric-event buffer for ClickHouse.
const EvaluationSubject = "ff.events.evaluation"

// evaluationMessage is the wire shape published on EvaluationSubject.
// Deliberately aggregate: no user identifier travels on this subject,
// only the feature and the decision it reached.
type evaluationMessage struct {
	EnvKey    string                    `json:"env_key"`
	Feature   string                    `json:"feature"`
	Decision  konditional.DecisionKind  `json:"decision"`
	Timestamp time.Time                 `json:"timestamp"`
}

// NatsMetricsCollector publishes IncEvaluation counters to NATS. Reload,
// rollback and bucket-distribution hooks are left as no-ops for now: no
// SPEC_FULL.md component consumes them yet, and publishing telemetry
// nothing reads would just be noise on the bus.
type NatsMetricsCollector struct {
	conn   *nats.Conn
	envKey string
	logger zerolog.Logger
}

// NewNatsMetricsCollector builds a konditional.MetricsCollector that
// forwards evaluation events for envKey over conn. conn may be nil (e.g.
// in tests or when NATS is unreachable at startup), in which case every
// call is a no-op.
func NewNatsMetricsCollector(conn *nats.Conn, envKey string, logger zerolog.Logger) *NatsMetricsCollector {
	return &NatsMetricsCollector{
		conn:   conn,
		envKey: envKey,
		logger: logger.With().Str("component", "telemetry").Str("env_key", envKey).Logger(),
	}
}

// IncEvaluation publishes one evaluation-telemetry message per call. It
// never blocks the evaluation path on NATS availability: publish errors
// are logged and swallowed.
func (c *NatsMetricsCollector) IncEvaluation(feature konditional.FeatureId, decision konditional.DecisionKind) {
	if c.conn == nil {
		return
	}

	msg := evaluationMessage{
		EnvKey:    c.envKey,
		Feature:   feature.String(),
		Decision:  decision,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal evaluation telemetry")
		return
	}

	if err := c.conn.Publish(EvaluationSubject, data); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to publish evaluation telemetry")
	}
}

// IncReload, IncRollback and ObserveBucket are unused hooks; see the
// NatsMetricsCollector doc comment.
func (c *NatsMetricsCollector) IncReload(namespace string, fromVersion, toVersion int64) {}
func (c *NatsMetricsCollector) IncRollback(namespace string, toVersion int64)            {}
func (c *NatsMetricsCollector) ObserveBucket(feature konditional.FeatureId, bucket int)  {}
