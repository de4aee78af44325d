package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amichne/konditional/cmd/edge-evaluator/internal/telemetry"
	"github.com/amichne/konditional/pkg/konditional"
	"github.com/amichne/konditional/pkg/konditional/codec"
)

// EnvironmentConfig is one environment's live evaluation state: a
// konditional.Namespace wrapping the atomically-swapped current snapshot,
// its kill switch and its override table, plus the bookkeeping the HTTP
// surface needs to report freshness.
type EnvironmentConfig struct {
	EnvKey    string
	Version   int64
	Namespace *konditional.Namespace
	UpdatedAt time.Time
	ETag      string
}

// ConfigCache manages per-environment konditional.Namespaces in memory,
// backed by Redis as a warm cache for restart recovery (the namespace
// itself holds no disk/network state — on process start the cache is
// empty until Redis or a ConfigLoader repopulates it).
type ConfigCache struct {
	redis  *redis.Client
	nats   *nats.Conn
	logger zerolog.Logger

	// In-memory cache with read-write mutex for concurrent access
	mu      sync.RWMutex
	configs map[string]*EnvironmentConfig

	// Cache statistics
	stats CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Evictions   int64     `json:"evictions"`
	Size        int       `json:"size"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewConfigCache creates a new configuration cache. natsConn may be nil
// (evaluation telemetry is then simply not published); it is threaded
// through to every Namespace this cache creates as its MetricsCollector.
func NewConfigCache(redisClient *redis.Client, natsConn *nats.Conn, logger zerolog.Logger) *ConfigCache {
	return &ConfigCache{
		redis:   redisClient,
		nats:    natsConn,
		logger:  logger.With().Str("component", "config_cache").Logger(),
		configs: make(map[string]*EnvironmentConfig),
	}
}

// namespaceOptions builds the NamespaceOptions shared by every
// konditional.NewNamespace call this cache makes for envKey.
func (c *ConfigCache) namespaceOptions(envKey string) []konditional.NamespaceOption {
	return []konditional.NamespaceOption{
		konditional.WithLogger(konditional.NewZerologLogger(c.logger)),
		konditional.WithMetricsCollector(telemetry.NewNatsMetricsCollector(c.nats, envKey, c.logger)),
	}
}

// ConfigLoader interface for loading configs when not in cache
type ConfigLoader interface {
	FetchConfig(ctx context.Context, envKey string) error
}

// GetConfig retrieves the namespace for an environment
func (c *ConfigCache) GetConfig(ctx context.Context, envKey string) (*EnvironmentConfig, error) {
	c.mu.RLock()
	config, exists := c.configs[envKey]
	c.mu.RUnlock()

	if exists {
		c.recordHit()
		c.logger.Debug().Str("env_key", envKey).Msg("Config cache hit")
		return config, nil
	}

	c.recordMiss()
	c.logger.Debug().Str("env_key", envKey).Msg("Config cache miss, loading from Redis")

	config, err := c.loadFromRedis(ctx, envKey)
	if err != nil {
		return nil, err
	}

	if config != nil {
		c.mu.Lock()
		c.configs[envKey] = config
		c.stats.LastUpdated = time.Now()
		c.mu.Unlock()
	}

	return config, nil
}

// GetConfigWithLoader retrieves configuration with fallback to external loader
func (c *ConfigCache) GetConfigWithLoader(ctx context.Context, envKey string, loader ConfigLoader) (*EnvironmentConfig, error) {
	config, err := c.GetConfig(ctx, envKey)
	if err != nil || config != nil {
		return config, err
	}

	c.logger.Debug().Str("env_key", envKey).Msg("Config not found in cache or Redis, trying external fetch")

	if loader != nil {
		if err := loader.FetchConfig(ctx, envKey); err != nil {
			c.logger.Error().Err(err).Str("env_key", envKey).Msg("Failed to fetch config from external source")
			return nil, err
		}

		return c.GetConfig(ctx, envKey)
	}

	return nil, nil // Not found
}

// SetConfig installs cfg as envKey's current snapshot. If a namespace
// already exists in memory for envKey, cfg replaces its current snapshot in
// place via Namespace.Load — preserving the namespace's kill switch and
// override table across the reload, exactly as a NATS-driven control-plane
// push would. Otherwise a fresh Namespace is created. The wire-encoded
// snapshot is written to Redis asynchronously as a warm-restart cache.
func (c *ConfigCache) SetConfig(envKey string, cfg *konditional.Configuration, meta konditional.Metadata) *EnvironmentConfig {
	c.mu.Lock()
	env, exists := c.configs[envKey]
	if exists {
		env.Namespace.Load(cfg)
		env.Version = cfg.Version
		env.UpdatedAt = time.Now()
	} else {
		env = &EnvironmentConfig{
			EnvKey:    envKey,
			Version:   cfg.Version,
			Namespace: konditional.NewNamespace(envKey, cfg, c.namespaceOptions(envKey)...),
			UpdatedAt: time.Now(),
		}
		c.configs[envKey] = env
	}
	c.stats.LastUpdated = time.Now()
	c.mu.Unlock()

	c.logger.Info().
		Str("env_key", envKey).
		Int64("version", cfg.Version).
		Int("flags_count", len(cfg.FeatureIds())).
		Msg("Config updated in cache")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.storeInRedis(ctx, envKey, cfg, meta); err != nil {
			c.logger.Error().Err(err).Str("env_key", envKey).Msg("Failed to store config in Redis")
		}
	}()

	return env
}

// InvalidateConfig removes configuration for an environment
func (c *ConfigCache) InvalidateConfig(envKey string) {
	c.mu.Lock()
	if _, exists := c.configs[envKey]; exists {
		delete(c.configs, envKey)
		c.recordEviction()
		c.logger.Info().Str("env_key", envKey).Msg("Config invalidated")
	}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.redis.Del(ctx, c.redisKey(envKey)).Err(); err != nil {
			c.logger.Error().Err(err).Str("env_key", envKey).Msg("Failed to delete config from Redis")
		}
	}()
}

// ListCachedEnvironments returns list of cached environment keys
func (c *ConfigCache) ListCachedEnvironments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.configs))
	for key := range c.configs {
		keys = append(keys, key)
	}

	return keys
}

// GetStats returns cache statistics
func (c *ConfigCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = len(c.configs)
	return stats
}

// WarmupCache preloads configurations for specified environments
func (c *ConfigCache) WarmupCache(ctx context.Context, envKeys []string) error {
	c.logger.Info().Int("count", len(envKeys)).Msg("Starting cache warmup")

	for _, envKey := range envKeys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if _, err := c.GetConfig(ctx, envKey); err != nil {
				c.logger.Warn().Err(err).Str("env_key", envKey).Msg("Failed to warmup config")
			}
		}
	}

	c.logger.Info().Msg("Cache warmup completed")
	return nil
}

// redisEnvelope is the Redis-stored form: the caller-assigned version
// alongside the raw codec-encoded snapshot bytes, since the wire format
// itself only carries a host-authored semantic version string, not the
// registry's monotonic version counter.
type redisEnvelope struct {
	Version int64           `json:"version"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func (c *ConfigCache) loadFromRedis(ctx context.Context, envKey string) (*EnvironmentConfig, error) {
	key := c.redisKey(envKey)

	data, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to load config from Redis: %w", err)
	}

	var envelope redisEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config envelope: %w", err)
	}

	cfg, err := codec.Decode(envelope.Snapshot, envKey, envelope.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot from Redis: %w", err)
	}

	c.logger.Debug().Str("env_key", envKey).Msg("Config loaded from Redis")
	return &EnvironmentConfig{
		EnvKey:    envKey,
		Version:   cfg.Version,
		Namespace: konditional.NewNamespace(envKey, cfg, c.namespaceOptions(envKey)...),
		UpdatedAt: time.Now(),
	}, nil
}

func (c *ConfigCache) storeInRedis(ctx context.Context, envKey string, cfg *konditional.Configuration, meta konditional.Metadata) error {
	key := c.redisKey(envKey)

	snapshot, err := codec.Encode(cfg, meta)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	envelope := redisEnvelope{Version: cfg.Version, Snapshot: snapshot}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal config envelope: %w", err)
	}

	// Store with TTL of 1 hour (configs should be refreshed regularly)
	if err := c.redis.Set(ctx, key, data, time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store config in Redis: %w", err)
	}

	c.logger.Debug().Str("env_key", envKey).Msg("Config stored in Redis")
	return nil
}

func (c *ConfigCache) redisKey(envKey string) string {
	return fmt.Sprintf("ff:config:%s", envKey)
}

func (c *ConfigCache) recordHit() {
	c.stats.Hits++
}

func (c *ConfigCache) recordMiss() {
	c.stats.Misses++
}

func (c *ConfigCache) recordEviction() {
	c.stats.Evictions++
}

// GetCacheHitRatio returns the cache hit ratio as a percentage
func (c *ConfigCache) GetCacheHitRatio() float64 {
	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total) * 100
}
