package cache

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 10*time.Hour, cfg.TTL.Exact)
	assert.Equal(t, 30*time.Minute, cfg.TTL.Remote)
	assert.True(t, cfg.Compression.Enabled)
}

func TestConfigValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Compression.Level = 12
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxCacheSizeMB = 0
	assert.Error(t, cfg.Validate())
}

func TestTTLFor(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, cfg.TTL.Exact, cfg.TTLFor(KindReadFile))
	assert.Equal(t, cfg.TTL.Exact, cfg.TTLFor(KindShellCommand))
	assert.Equal(t, cfg.TTL.Remote, cfg.TTLFor(KindRemoteFetch))
	assert.Equal(t, cfg.TTL.Remote, cfg.TTLFor(KindRemoteSearch))
	assert.Equal(t, cfg.TTL.Agent, cfg.TTLFor(KindAgentTask))
}

func TestLoadFromViperDefaults(t *testing.T) {
	cfg, err := LoadFromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().SimilarityThreshold, cfg.SimilarityThreshold)
	assert.Equal(t, DefaultConfig().Redis.Address, cfg.Redis.Address)
}

func TestLoadFromViperOverrides(t *testing.T) {
	v := viper.New()
	v.Set("cache.similarity_threshold", 0.9)
	v.Set("cache.redis.address", "redis.internal:6380")
	v.Set("cache.compression.enabled", false)

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.SimilarityThreshold)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
	assert.False(t, cfg.Compression.Enabled)
}

func TestLoadFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("cache.similarity_threshold", 2.0)

	_, err := LoadFromViper(v)
	assert.Error(t, err)
}
