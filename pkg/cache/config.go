package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RedisConfig holds connection settings for the remote exact-match backend
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Database     int           `mapstructure:"database"`
	Password     string        `mapstructure:"password"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// QdrantConfig holds connection settings for the similarity-match backend
type QdrantConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig holds settings for the embedding service client
type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// CompressionConfig controls the entry codec
type CompressionConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Level        int  `mapstructure:"level"`
	MinSizeBytes int  `mapstructure:"min_size_bytes"`
}

// TTLConfig holds per-operation-class freshness windows, in seconds when
// loaded from configuration.
type TTLConfig struct {
	Exact    time.Duration `mapstructure:"exact"`
	Semantic time.Duration `mapstructure:"semantic"`
	Remote   time.Duration `mapstructure:"remote"`
	Agent    time.Duration `mapstructure:"agent"`
}

// Config is the full configuration for the cache subsystem
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// LocalEnabled controls the file backend
	LocalEnabled bool `mapstructure:"local_enabled"`
	// FallbackToLocal routes remote kinds to the file backend when the
	// remote stores are unreachable
	FallbackToLocal bool `mapstructure:"fallback_to_local"`

	// CacheDir is the root of the local entry store
	CacheDir string `mapstructure:"cache_dir"`
	// MaxCacheSizeMB is the local backend's total size budget
	MaxCacheSizeMB int `mapstructure:"max_cache_size_mb"`

	// SimilarityThreshold is the minimum cosine score for a semantic hit
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// MaxCandidates is how many nearest neighbors a similarity lookup asks for
	MaxCandidates int `mapstructure:"max_candidates"`

	TTL         TTLConfig         `mapstructure:"ttl"`
	Compression CompressionConfig `mapstructure:"compression"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`

	// EnableMetrics turns on the Prometheus metrics client
	EnableMetrics bool `mapstructure:"enable_metrics"`
	// SlowThreshold triggers slow-operation warnings
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		LocalEnabled:        true,
		FallbackToLocal:     true,
		MaxCacheSizeMB:      1000,
		SimilarityThreshold: 0.85,
		MaxCandidates:       3,
		TTL: TTLConfig{
			Exact:    10 * time.Hour,
			Semantic: 5 * time.Hour,
			Remote:   30 * time.Minute,
			Agent:    10 * time.Hour,
		},
		Compression: CompressionConfig{
			Enabled:      true,
			Level:        6,
			MinSizeBytes: 1024,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Address:      "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			PoolSize:     10,
		},
		Qdrant: QdrantConfig{
			Enabled:    true,
			URL:        "http://localhost:6333",
			Collection: "toolcache_semantic",
			Timeout:    10 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 384,
		},
		EnableMetrics: true,
		SlowThreshold: 100 * time.Millisecond,
	}
}

// Validate checks configuration bounds
func (c *Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be between 0 and 1, got %v", c.SimilarityThreshold)
	}
	if c.Compression.Level < 1 || c.Compression.Level > 9 {
		return fmt.Errorf("compression level must be 1-9, got %d", c.Compression.Level)
	}
	if c.MaxCacheSizeMB <= 0 {
		return fmt.Errorf("max cache size must be positive, got %d", c.MaxCacheSizeMB)
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 3
	}
	return nil
}

// TTLFor returns the freshness window for a kind
func (c *Config) TTLFor(kind OperationKind) time.Duration {
	switch kind {
	case KindRemoteFetch, KindRemoteSearch:
		return c.TTL.Remote
	case KindAgentTask:
		return c.TTL.Agent
	default:
		return c.TTL.Exact
	}
}

// LoadFromViper loads configuration from the given viper instance, applying
// defaults first and TOOLCACHE_* environment overrides last.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()

	v.SetEnvPrefix("TOOLCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache.enabled", config.Enabled)
	v.SetDefault("cache.local_enabled", config.LocalEnabled)
	v.SetDefault("cache.fallback_to_local", config.FallbackToLocal)
	v.SetDefault("cache.max_cache_size_mb", config.MaxCacheSizeMB)
	v.SetDefault("cache.similarity_threshold", config.SimilarityThreshold)
	v.SetDefault("cache.max_candidates", config.MaxCandidates)
	v.SetDefault("cache.ttl.exact", config.TTL.Exact)
	v.SetDefault("cache.ttl.semantic", config.TTL.Semantic)
	v.SetDefault("cache.ttl.remote", config.TTL.Remote)
	v.SetDefault("cache.ttl.agent", config.TTL.Agent)
	v.SetDefault("cache.compression.enabled", config.Compression.Enabled)
	v.SetDefault("cache.compression.level", config.Compression.Level)
	v.SetDefault("cache.compression.min_size_bytes", config.Compression.MinSizeBytes)
	v.SetDefault("cache.redis.enabled", config.Redis.Enabled)
	v.SetDefault("cache.redis.address", config.Redis.Address)
	v.SetDefault("cache.redis.dial_timeout", config.Redis.DialTimeout)
	v.SetDefault("cache.redis.read_timeout", config.Redis.ReadTimeout)
	v.SetDefault("cache.redis.write_timeout", config.Redis.WriteTimeout)
	v.SetDefault("cache.redis.pool_size", config.Redis.PoolSize)
	v.SetDefault("cache.qdrant.enabled", config.Qdrant.Enabled)
	v.SetDefault("cache.qdrant.url", config.Qdrant.URL)
	v.SetDefault("cache.qdrant.collection", config.Qdrant.Collection)
	v.SetDefault("cache.qdrant.timeout", config.Qdrant.Timeout)
	v.SetDefault("cache.embedding.model", config.Embedding.Model)
	v.SetDefault("cache.embedding.dimensions", config.Embedding.Dimensions)
	v.SetDefault("cache.enable_metrics", config.EnableMetrics)
	v.SetDefault("cache.slow_threshold", config.SlowThreshold)

	if err := v.UnmarshalKey("cache", config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	return config, nil
}
