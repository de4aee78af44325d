package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amichne/konditional/pkg/config"
	"github.com/amichne/konditional/pkg/konditional"
)

// EventService handles sending events to the event ingestor
type EventService struct {
	httpClient *http.Client
	config     *config.Config
	logger     zerolog.Logger
}

// exposureEvent is the wire shape event-ingestor's storage.ExposureEvent
// expects: field-for-field the same JSON tags, so the ingestor's decoder
// needs no translation layer between the two services.
type exposureEvent struct {
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

// exposureEventBatch matches event-ingestor's IngestExposureEvents
// request body (a single event always rides alone in a batch of one).
type exposureEventBatch struct {
	Events []exposureEvent `json:"events"`
}

// metricEvent is the wire shape event-ingestor's storage.MetricEvent
// expects, used by TrackCustom to report non-exposure tracking events.
type metricEvent struct {
	EventID     string                 `json:"event_id"`
	EnvKey      string                 `json:"env_key"`
	MetricKey   string                 `json:"metric_key"`
	UserKeyHash string                 `json:"user_key_hash"`
	Value       float64                `json:"value"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	SessionID   string                 `json:"session_id,omitempty"`
}

type metricEventBatch struct {
	Events []metricEvent `json:"events"`
}

// CustomEvent is the host-facing shape TrackCustom accepts; EnvKey,
// EventID and Timestamp are filled in by TrackCustom itself.
type CustomEvent struct {
	UserKey    string                 `json:"user_key"`
	SessionID  string                 `json:"session_id,omitempty"`
	EventName  string                 `json:"event_name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Value      float64                `json:"value,omitempty"`
}

// NewEventService creates a new event service
func NewEventService(cfg *config.Config, logger zerolog.Logger) *EventService {
	return &EventService{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		config: cfg,
		logger: logger.With().Str("service", "events").Logger(),
	}
}

// TrackExposure sends a flag exposure event to the event ingestor. The
// user key is never sent in the clear: only its stable-id hash travels
// over the wire, matching what konditional.EvaluateAny already bucketed on.
func (s *EventService) TrackExposure(ctx context.Context, envKey, flagKey string, result *FlagResult, userContext *RequestContext, configVersion int64) error {
	event := exposureEvent{
		EventID:      GenerateEventID(),
		EnvKey:       envKey,
		FlagKey:      flagKey,
		VariationKey: result.Decision,
		UserKeyHash:  hashUserKey(userContext.UserKey),
		Timestamp:    time.Now(),
		Reason:       result.Reason,
	}
	if result.RuleIndex >= 0 {
		event.RuleID = strconv.Itoa(result.RuleIndex)
	}
	if userContext.Attributes != nil {
		event.Context = userContext.Attributes
	}

	return s.sendBatch(ctx, "/v1/events/exposure", exposureEventBatch{Events: []exposureEvent{event}})
}

// TrackCustom sends a custom metric event to the event ingestor.
func (s *EventService) TrackCustom(ctx context.Context, envKey string, custom *CustomEvent) error {
	event := metricEvent{
		EventID:     GenerateEventID(),
		EnvKey:      envKey,
		MetricKey:   custom.EventName,
		UserKeyHash: hashUserKey(custom.UserKey),
		Value:       custom.Value,
		Context:     custom.Properties,
		Timestamp:   time.Now(),
		SessionID:   custom.SessionID,
	}

	return s.sendBatch(ctx, "/v1/events/metrics", metricEventBatch{Events: []metricEvent{event}})
}

// GenerateEventID generates a unique event id for an outgoing event.
func GenerateEventID() string {
	return uuid.New().String()
}

// hashUserKey derives the stable bucketing hash the rest of the
// evaluation pipeline already keys on, so event-ingestor never has to
// see a raw user identifier.
func hashUserKey(userKey string) string {
	if userKey == "" {
		return ""
	}
	return konditional.StableIdOf(userKey).Hex()
}

// sendBatch posts a single-event batch to the event ingestor at path.
func (s *EventService) sendBatch(ctx context.Context, path string, batch interface{}) error {
	// Check if event ingestor is configured
	if s.config.EventIngestor.URL == "" {
		s.logger.Debug().Msg("Event ingestor URL not configured, skipping event")
		return nil
	}

	// Serialize event
	eventData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Create HTTP request
	url := s.config.EventIngestor.URL + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(eventData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "edge-evaluator/1.0.0")

	// Add API key if configured
	if s.config.EventIngestor.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.EventIngestor.APIKey)
	}

	// Send request
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to send event to event ingestor")
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()

	// Check response status
	if resp.StatusCode >= 400 {
		s.logger.Error().
			Int("status", resp.StatusCode).
			Str("url", url).
			Msg("Event ingestor returned error status")
		return fmt.Errorf("event ingestor returned status %d", resp.StatusCode)
	}

	s.logger.Debug().
		Int("status", resp.StatusCode).
		Str("url", url).
		Msg("Event sent successfully")

	return nil
}

// extractRequestID extracts request ID from context
func extractRequestID(ctx context.Context) string {
	if requestID := ctx.Value("request_id"); requestID != nil {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
