package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExposureEvent represents a flag exposure event, the wire shape
// edge-evaluator's EventService posts after every konditional.EvaluateAny
// call. EnvKey/FlagKey address a konditional.FeatureId; the rest is
// opaque context the analytics engine's events_exposure table groups and
// aggregates by (experiment_id/variation_id/environment_id/properties).
type ExposureEvent struct {
	EventID       string                 `json:"event_id"`
	EnvKey        string                 `json:"env_key"`
	FlagKey       string                 `json:"flag_key"`
	VariationKey  string                 `json:"variation_key"`
	UserKeyHash   string                 `json:"user_key_hash"`
	BucketingID   string                 `json:"bucketing_id"`
	ExperimentKey string                 `json:"experiment_key,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Reason        string                 `json:"reason,omitempty"`
	Bucket        int                    `json:"bucket,omitempty"`
	RuleID        string                 `json:"rule_id,omitempty"`
}

// MetricEvent represents a custom metric event, stored against the same
// events_metric table analytics-engine's event_repository reads.
type MetricEvent struct {
	EventID       string                 `json:"event_id"`
	EnvKey        string                 `json:"env_key"`
	MetricKey     string                 `json:"metric_key"`
	UserKeyHash   string                 `json:"user_key_hash"`
	Value         float64                `json:"value"`
	Unit          string                 `json:"unit,omitempty"`
	ExperimentKey string                 `json:"experiment_key,omitempty"`
	VariationKey  string                 `json:"variation_key,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	SessionID     string                 `json:"session_id,omitempty"`
}

// EventStorage handles storing events in ClickHouse
type EventStorage struct {
	clickhouse clickhouse.Conn
	logger     zerolog.Logger
}

// NewEventStorage creates a new event storage instance
func NewEventStorage(clickhouseConn clickhouse.Conn, logger zerolog.Logger) *EventStorage {
	return &EventStorage{
		clickhouse: clickhouseConn,
		logger:     logger.With().Str("component", "event_storage").Logger(),
	}
}

// StoreExposureEvents stores exposure events in ClickHouse
func (s *EventStorage) StoreExposureEvents(ctx context.Context, events []ExposureEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.clickhouse.PrepareBatch(ctx, `
		INSERT INTO events_exposure
		(timestamp, user_id, experiment_id, variation_id, environment_id, properties)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare exposure events batch: %w", err)
	}

	for _, event := range events {
		err = batch.Append(
			event.Timestamp,
			event.UserKeyHash,
			event.FlagKey,
			event.VariationKey,
			event.EnvKey,
			exposureProperties(event),
		)
		if err != nil {
			return fmt.Errorf("failed to append exposure event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send exposure events batch: %w", err)
	}

	s.logger.Info().Int("count", len(events)).Msg("Stored exposure events")
	return nil
}

// StoreMetricEvents stores metric events in ClickHouse
func (s *EventStorage) StoreMetricEvents(ctx context.Context, events []MetricEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.clickhouse.PrepareBatch(ctx, `
		INSERT INTO events_metric
		(timestamp, user_id, metric_name, value, experiment_id, variation_id, environment_id, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare metric events batch: %w", err)
	}

	for _, event := range events {
		err = batch.Append(
			event.Timestamp,
			event.UserKeyHash,
			event.MetricKey,
			event.Value,
			event.ExperimentKey,
			event.VariationKey,
			event.EnvKey,
			metricProperties(event),
		)
		if err != nil {
			return fmt.Errorf("failed to append metric event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send metric events batch: %w", err)
	}

	s.logger.Info().Int("count", len(events)).Msg("Stored metric events")
	return nil
}

// GetStorageStats returns storage statistics
func (s *EventStorage) GetStorageStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	// Get exposure events count
	var exposureCount uint64
	err := s.clickhouse.QueryRow(ctx, "SELECT count() FROM events_exposure WHERE date >= today() - 1").Scan(&exposureCount)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to get exposure events count")
	} else {
		stats["exposure_events_24h"] = exposureCount
	}

	// Get metric events count
	var metricCount uint64
	err = s.clickhouse.QueryRow(ctx, "SELECT count() FROM events_metric WHERE date >= today() - 1").Scan(&metricCount)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to get metric events count")
	} else {
		stats["metric_events_24h"] = metricCount
	}

	return stats, nil
}

// Helper functions

// exposureProperties flattens an ExposureEvent's domain-specific fields
// and free-form context/meta into the Map(String, String) column
// events_exposure.properties, so the feature-specific fields konditional
// carries (bucket, rule id, reason) survive the trip through a table
// shaped around the teacher's generic experiment/variation columns.
func exposureProperties(event ExposureEvent) map[string]string {
	props := map[string]string{"event_id": event.EventID}
	if event.BucketingID != "" {
		props["bucketing_id"] = event.BucketingID
	}
	if event.ExperimentKey != "" {
		props["experiment_key"] = event.ExperimentKey
	}
	if event.SessionID != "" {
		props["session_id"] = event.SessionID
	}
	if event.Reason != "" {
		props["reason"] = event.Reason
	}
	if event.RuleID != "" {
		props["rule_id"] = event.RuleID
	}
	if event.Bucket != 0 {
		props["bucket"] = strconv.Itoa(event.Bucket)
	}
	flattenInto(props, "ctx_", event.Context)
	flattenInto(props, "meta_", event.Meta)
	return props
}

func metricProperties(event MetricEvent) map[string]string {
	props := map[string]string{"event_id": event.EventID}
	if event.Unit != "" {
		props["unit"] = event.Unit
	}
	if event.SessionID != "" {
		props["session_id"] = event.SessionID
	}
	flattenInto(props, "ctx_", event.Context)
	flattenInto(props, "meta_", event.Meta)
	return props
}

func flattenInto(dst map[string]string, prefix string, src map[string]interface{}) {
	for k, v := range src {
		dst[prefix+k] = fmt.Sprintf("%v", v)
	}
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
