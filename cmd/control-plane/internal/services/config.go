package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amichne/konditional/cmd/control-plane/internal/repository"
	"github.com/amichne/konditional/pkg/konditional"
	"github.com/amichne/konditional/pkg/konditional/codec"
	"github.com/amichne/konditional/pkg/konditional/legacy"
)

// EnvironmentConfig is the control plane's compiled, wire-ready snapshot for
// one environment: a codec-encoded *konditional.Configuration plus the
// bookkeeping the admin API and the edge-evaluator's polling client need.
// The Snapshot bytes are what GetEnvironmentConfig hands back verbatim as
// the HTTP response body and what PublishEnvironmentConfig republishes on
// NATS, since konditional.Configuration itself carries unexported internals
// and cannot be marshaled directly.
type EnvironmentConfig struct {
	EnvKey    string          `json:"env_key"`
	Version   int64           `json:"version"`
	Snapshot  json.RawMessage `json:"snapshot"`
	UpdatedAt time.Time       `json:"updated_at"`
	ETag      string          `json:"etag"`
}

// ConfigUpdateMessage is published on ff.config.updates whenever an
// environment's configuration changes. Its shape mirrors what
// cmd/edge-evaluator's services.ConfigService expects on the same subject.
type ConfigUpdateMessage struct {
	Type      string               `json:"type"` // "full_refresh", "incremental", "invalidate"
	EnvKey    string               `json:"env_key"`
	Version   int64                `json:"version"`
	Snapshot  json.RawMessage      `json:"snapshot,omitempty"`
	Meta      konditional.Metadata `json:"meta,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// ConfigService handles environment configuration compilation and distribution
type ConfigService struct {
	repos    *repository.Repositories
	redis    *redis.Client
	nats     *nats.Conn
	importer *legacy.Importer
	logger   zerolog.Logger
}

// NewConfigService creates a new config service
func NewConfigService(repos *repository.Repositories, redis *redis.Client, natsConn *nats.Conn, logger zerolog.Logger) *ConfigService {
	return &ConfigService{
		repos:    repos,
		redis:    redis,
		nats:     natsConn,
		importer: legacy.NewImporter(),
		logger:   logger.With().Str("service", "config").Logger(),
	}
}

// CompileEnvironmentConfig compiles every flag for an environment into a
// konditional.Configuration, then codec-encodes it into wire form.
func (s *ConfigService) CompileEnvironmentConfig(ctx context.Context, envID uuid.UUID) (*EnvironmentConfig, error) {
	env, err := s.repos.Environment.GetByID(ctx, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}

	flags, _, err := s.repos.Flag.List(ctx, envID, 1000, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get flags: %w", err)
	}

	cfg := konditional.NewConfiguration(env.Key, int64(env.Version))
	for _, flag := range flags {
		id, err := konditional.NewFeatureId(env.Key, flag.Key)
		if err != nil {
			s.logger.Warn().Err(err).Str("flag_key", flag.Key).Msg("Skipping flag with invalid feature id")
			continue
		}
		def, err := s.compileFlagDefinitionSafe(id, env.Salt, flag)
		if err != nil {
			s.logger.Warn().Err(err).Str("flag_key", flag.Key).Msg("Failed to compile flag, omitting it from this snapshot")
			continue
		}
		cfg.PutDefinition(id, def)
	}

	meta := konditional.Metadata{
		SchemaVersion:          "1.0.0",
		GeneratedAtEpochMillis: time.Now().UnixMilli(),
		Source:                 "control-plane",
	}
	snapshot, err := codec.Encode(cfg, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compiled config: %w", err)
	}

	config := &EnvironmentConfig{
		EnvKey:    env.Key,
		Version:   int64(env.Version),
		Snapshot:  snapshot,
		UpdatedAt: time.Now(),
	}
	config.ETag = fmt.Sprintf(`"%d-%d"`, config.Version, config.UpdatedAt.Unix())

	return config, nil
}

// compileFlagDefinitionSafe recovers from RegisterFeature's panic on a
// shape conflict (an admin changed a flag's declared type without renaming
// its key) so one misconfigured flag cannot take down the whole
// environment's compile.
func (s *ConfigService) compileFlagDefinitionSafe(id konditional.FeatureId, salt string, flag *repository.Flag) (def any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feature %s: %v", id, r)
		}
	}()
	return s.compileFlagDefinition(id, salt, flag)
}

// compileFlagDefinition dispatches on the admin-declared flag type, since
// konditional.RegisterFeature needs a Go type T fixed at the call site and a
// database-defined flag only carries that type as a runtime string. Every
// branch instantiates registerAndImport with a concrete T, registering the
// feature (idempotently — repeated registrations of the same shape are a
// no-op) and importing its legacy {if, then} rules.
func (s *ConfigService) compileFlagDefinition(id konditional.FeatureId, salt string, flag *repository.Flag) (any, error) {
	active := strings.EqualFold(flag.Status, "active") || flag.Published

	switch strings.ToLower(flag.Type) {
	case "boolean":
		def := parseDefaultVariation[bool](flag.DefaultVariation, false)
		return registerAndImport(s.importer, id, konditional.KindBoolean, salt, active, def, flag.RulesJSON, s.logger)
	case "number":
		def := parseDefaultVariation[float64](flag.DefaultVariation, 0)
		return registerAndImport(s.importer, id, konditional.KindDouble, salt, active, def, flag.RulesJSON, s.logger)
	case "json":
		def := parseDefaultVariation[map[string]any](flag.DefaultVariation, map[string]any{})
		return registerAndImport(s.importer, id, konditional.KindStruct, salt, active, def, flag.RulesJSON, s.logger)
	default: // "string" and anything unrecognized falls back to string-valued
		return registerAndImport(s.importer, id, konditional.KindString, salt, active, flag.DefaultVariation, flag.RulesJSON, s.logger)
	}
}

// registerAndImport registers feature id (a no-op if already registered with
// the same shape — RegisterFeature only panics on a conflicting
// re-registration, e.g. an admin changing a flag's declared type without a
// new key) and imports its legacy rule list into a *FlagDefinition[T].
func registerAndImport[T any](imp *legacy.Importer, id konditional.FeatureId, kind konditional.ValueKind, salt string, active bool, def T, rulesJSON any, logger zerolog.Logger) (*konditional.FlagDefinition[T], error) {
	konditional.RegisterFeature(id, kind, def)

	rules, err := parseLegacyRules(rulesJSON)
	if err != nil {
		logger.Warn().Err(err).Str("feature", id.String()).Msg("Failed to parse rules JSON, publishing default only")
		rules = nil
	}

	return legacy.ImportFlag(imp, id, salt, active, def, rules)
}

func parseLegacyRules(rulesJSON any) ([]legacy.RuleDefinition, error) {
	if rulesJSON == nil {
		return nil, nil
	}
	raw, ok := rulesJSON.([]byte)
	if !ok {
		return nil, fmt.Errorf("rules_json column is not raw JSON bytes")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var rules []legacy.RuleDefinition
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("unmarshaling rules: %w", err)
	}
	return rules, nil
}

func parseDefaultVariation[T any](raw string, fallback T) T {
	if raw == "" {
		return fallback
	}
	var val T
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return fallback
	}
	return val
}

// PublishEnvironmentConfig publishes config to Redis and NATS, incrementing
// the environment's version first.
func (s *ConfigService) PublishEnvironmentConfig(ctx context.Context, envID uuid.UUID) (*EnvironmentConfig, error) {
	if err := s.repos.Environment.IncrementVersion(ctx, envID); err != nil {
		return nil, fmt.Errorf("failed to increment environment version: %w", err)
	}

	config, err := s.CompileEnvironmentConfig(ctx, envID)
	if err != nil {
		return nil, fmt.Errorf("failed to compile environment config: %w", err)
	}

	if err := s.StoreConfigInRedis(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to store config in Redis: %w", err)
	}

	if err := s.publishUpdate(config); err != nil {
		s.logger.Error().Err(err).Str("env_key", config.EnvKey).Msg("Failed to publish config update to NATS")
	}

	s.logger.Info().
		Str("env_key", config.EnvKey).
		Int64("version", config.Version).
		Msg("Environment config published")

	return config, nil
}

func (s *ConfigService) publishUpdate(config *EnvironmentConfig) error {
	if s.nats == nil {
		return nil
	}
	msg := ConfigUpdateMessage{
		Type:      "full_refresh",
		EnvKey:    config.EnvKey,
		Version:   config.Version,
		Snapshot:  config.Snapshot,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling config update message: %w", err)
	}
	return s.nats.Publish("ff.config.updates", data)
}

// GetEnvironmentConfig retrieves config from Redis or compiles if not found
func (s *ConfigService) GetEnvironmentConfig(ctx context.Context, envKey string) (*EnvironmentConfig, error) {
	config, err := s.LoadConfigFromRedis(ctx, envKey)
	if err != nil {
		s.logger.Debug().Err(err).Str("env_key", envKey).Msg("Failed to load config from Redis")
	}
	if config != nil {
		return config, nil
	}

	env, err := s.repos.Environment.GetByKey(ctx, envKey)
	if err != nil {
		return nil, fmt.Errorf("environment not found: %w", err)
	}

	config, err = s.CompileEnvironmentConfig(ctx, env.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to compile config: %w", err)
	}

	if err := s.StoreConfigInRedis(ctx, config); err != nil {
		s.logger.Error().Err(err).Str("env_key", envKey).Msg("Failed to store compiled config in Redis")
	}

	return config, nil
}

// GetEnvironmentByID retrieves environment by ID (helper method for config handler)
func (s *ConfigService) GetEnvironmentByID(ctx context.Context, envID uuid.UUID) (*repository.Environment, error) {
	return s.repos.Environment.GetByID(ctx, envID)
}

// StoreConfigInRedis stores environment config in Redis
func (s *ConfigService) StoreConfigInRedis(ctx context.Context, config *EnvironmentConfig) error {
	key := s.redisKey(config.EnvKey)

	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := s.redis.Set(ctx, key, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store config in Redis: %w", err)
	}

	s.logger.Debug().Str("env_key", config.EnvKey).Msg("Config stored in Redis")
	return nil
}

// LoadConfigFromRedis loads environment config from Redis
func (s *ConfigService) LoadConfigFromRedis(ctx context.Context, envKey string) (*EnvironmentConfig, error) {
	key := s.redisKey(envKey)

	data, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load config from Redis: %w", err)
	}

	var config EnvironmentConfig
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	s.logger.Debug().Str("env_key", envKey).Msg("Config loaded from Redis")
	return &config, nil
}

// InvalidateEnvironmentConfig removes config from Redis and tells subscribers to drop it too.
func (s *ConfigService) InvalidateEnvironmentConfig(ctx context.Context, envKey string) error {
	key := s.redisKey(envKey)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate config: %w", err)
	}

	if s.nats != nil {
		msg := ConfigUpdateMessage{Type: "invalidate", EnvKey: envKey, Timestamp: time.Now().Unix()}
		if data, err := json.Marshal(msg); err == nil {
			_ = s.nats.Publish("ff.config.updates", data)
		}
	}

	s.logger.Info().Str("env_key", envKey).Msg("Config invalidated")
	return nil
}

func (s *ConfigService) redisKey(envKey string) string {
	return fmt.Sprintf("ff:config:%s", envKey)
}
