package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amichne/konditional/cmd/edge-evaluator/internal/cache"
	"github.com/amichne/konditional/pkg/konditional"
)

// EvaluationService handles flag evaluation
type EvaluationService struct {
	cache        *cache.ConfigCache
	configLoader cache.ConfigLoader
	eventService *EventService
	logger       zerolog.Logger
}

// RequestContext is the HTTP-wire shape of an evaluation context: it
// carries the canonical Locale/Platform/Version/stable-id vocabulary plus
// free-form attributes (for Extension predicates and legacy-imported
// rules), translated into a konditional.Context before evaluation.
type RequestContext struct {
	UserKey     string                 `json:"user_key"`
	Locale      string                 `json:"locale,omitempty"`
	Platform    string                 `json:"platform,omitempty"`
	Version     string                 `json:"version,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Environment string                 `json:"environment,omitempty"`
}

func (r *RequestContext) toKonditionalContext() konditional.Context {
	ctx := konditional.NewContext()
	if r.UserKey != "" {
		ctx = ctx.WithStableId(konditional.StableIdOf(r.UserKey))
	}
	if r.Locale != "" {
		ctx = ctx.WithLocale(r.Locale)
	}
	if r.Platform != "" {
		ctx = ctx.WithPlatform(r.Platform)
	}
	for k, v := range r.Attributes {
		ctx = ctx.WithAttribute(k, v)
	}
	return ctx
}

// EvaluationRequest represents a flag evaluation request
type EvaluationRequest struct {
	EnvKey        string          `json:"env_key"`
	FlagKeys      []string        `json:"flag_keys,omitempty"` // If empty, evaluate all flags
	Context       *RequestContext `json:"context"`
	IncludeReason bool            `json:"include_reason,omitempty"`
}

// FlagResult is one feature's evaluated outcome, exposed over the wire.
type FlagResult struct {
	FlagKey   string          `json:"flag_key"`
	Value     json.RawMessage `json:"value"`
	Decision  string          `json:"decision"`
	RuleIndex int             `json:"rule_index"`
	Reason    string          `json:"reason,omitempty"`
}

// EvaluationResponse represents the response containing evaluated flags
type EvaluationResponse struct {
	Flags         map[string]*FlagResult `json:"flags"`
	ConfigVersion int64                  `json:"config_version"`
	EvaluatedAt   time.Time              `json:"evaluated_at"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// NewEvaluationService creates a new evaluation service
func NewEvaluationService(configCache *cache.ConfigCache, configLoader cache.ConfigLoader, eventService *EventService, logger zerolog.Logger) *EvaluationService {
	return &EvaluationService{
		cache:        configCache,
		configLoader: configLoader,
		eventService: eventService,
		logger:       logger.With().Str("service", "evaluation").Logger(),
	}
}

// EvaluateFlags evaluates multiple flags for a user context
func (s *EvaluationService) EvaluateFlags(ctx context.Context, req *EvaluationRequest) (*EvaluationResponse, error) {
	start := time.Now()

	envConfig, err := s.cache.GetConfigWithLoader(ctx, req.EnvKey, s.configLoader)
	if err != nil {
		s.logger.Error().Err(err).Str("env_key", req.EnvKey).Msg("Failed to get environment config")
		return nil, fmt.Errorf("failed to retrieve environment configuration")
	}
	if envConfig == nil {
		return nil, fmt.Errorf("environment configuration not found")
	}

	snapshot := envConfig.Namespace.Current()
	flagKeys := req.FlagKeys
	if len(flagKeys) == 0 {
		for _, id := range snapshot.FeatureIds() {
			flagKeys = append(flagKeys, id.String())
		}
	}

	kontext := req.Context.toKonditionalContext()
	results := make(map[string]*FlagResult, len(flagKeys))

	for _, flagKey := range flagKeys {
		id, err := konditional.ParseFeatureId(flagKey)
		if err != nil {
			s.logger.Debug().Str("flag_key", flagKey).Msg("Flag key is not a valid feature id, skipping")
			continue
		}
		if _, exists := snapshot.RawDefinition(id); !exists {
			s.logger.Debug().Str("flag_key", flagKey).Msg("Flag not found, skipping")
			continue
		}

		result := s.evaluateOne(envConfig.Namespace, id, kontext, req.IncludeReason)
		results[flagKey] = result
	}

	response := &EvaluationResponse{
		Flags:         results,
		ConfigVersion: envConfig.Version,
		EvaluatedAt:   time.Now(),
	}

	if s.eventService != nil {
		for flagKey, result := range results {
			go func(fk string, r *FlagResult) {
				err := s.eventService.TrackExposure(context.Background(), req.EnvKey, fk, r, req.Context, envConfig.Version)
				if err != nil {
					s.logger.Error().Err(err).
						Str("flag_key", fk).
						Str("env_key", req.EnvKey).
						Msg("Failed to track exposure event")
				}
			}(flagKey, result)
		}
	}

	duration := time.Since(start)
	s.logger.Info().
		Str("env_key", req.EnvKey).
		Str("user_key", req.Context.UserKey).
		Int("flags_count", len(results)).
		Dur("duration", duration).
		Msg("Flags evaluated")

	return response, nil
}

// EvaluateFlag evaluates a single flag for a user context
func (s *EvaluationService) EvaluateFlag(ctx context.Context, envKey, flagKey string, userContext *RequestContext) (*FlagResult, error) {
	start := time.Now()

	envConfig, err := s.cache.GetConfigWithLoader(ctx, envKey, s.configLoader)
	if err != nil {
		s.logger.Error().Err(err).Str("env_key", envKey).Msg("Failed to get environment config")
		return nil, fmt.Errorf("failed to retrieve environment configuration")
	}
	if envConfig == nil {
		return nil, fmt.Errorf("environment configuration not found")
	}

	id, err := konditional.ParseFeatureId(flagKey)
	if err != nil {
		return nil, fmt.Errorf("invalid flag key: %w", err)
	}
	if _, exists := envConfig.Namespace.Current().RawDefinition(id); !exists {
		return nil, fmt.Errorf("flag not found")
	}

	result := s.evaluateOne(envConfig.Namespace, id, userContext.toKonditionalContext(), true)

	if s.eventService != nil {
		go func() {
			err := s.eventService.TrackExposure(context.Background(), envKey, flagKey, result, userContext, envConfig.Version)
			if err != nil {
				s.logger.Error().Err(err).
					Str("flag_key", flagKey).
					Str("env_key", envKey).
					Msg("Failed to track exposure event")
			}
		}()
	}

	duration := time.Since(start)
	s.logger.Debug().
		Str("env_key", envKey).
		Str("flag_key", flagKey).
		Str("user_key", userContext.UserKey).
		Str("decision", string(result.Decision)).
		Dur("duration", duration).
		Msg("Flag evaluated")

	return result, nil
}

func (s *EvaluationService) evaluateOne(ns *konditional.Namespace, id konditional.FeatureId, ctx konditional.Context, includeReason bool) *FlagResult {
	value, decision, err := konditional.EvaluateAny(ns, id, ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("flag_key", id.String()).Msg("Failed to evaluate flag")
		return &FlagResult{FlagKey: id.String(), Decision: string(konditional.DecisionDefault), Reason: err.Error()}
	}

	result := &FlagResult{
		FlagKey:   id.String(),
		Value:     value.JSON,
		Decision:  string(decision.Kind),
		RuleIndex: decision.RuleIndex,
	}
	if includeReason {
		result.Reason = decision.Note
	}
	return result
}

// GetEnvironmentInfo returns basic information about an environment
func (s *EvaluationService) GetEnvironmentInfo(ctx context.Context, envKey string) (map[string]interface{}, error) {
	envConfig, err := s.cache.GetConfigWithLoader(ctx, envKey, s.configLoader)
	if err != nil {
		return nil, err
	}
	if envConfig == nil {
		return nil, fmt.Errorf("environment not found")
	}

	snapshot := envConfig.Namespace.Current()
	return map[string]interface{}{
		"env_key":     envConfig.EnvKey,
		"version":     envConfig.Version,
		"flags_total": len(snapshot.FeatureIds()),
		"updated_at":  envConfig.UpdatedAt,
	}, nil
}
