package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/toolmesh/toolcache/pkg/observability"
	"github.com/toolmesh/toolcache/pkg/resilience"
)

// redisEntry is the stored envelope. Data holds the codec-encoded
// payload; TTL is left entirely to Redis expiry.
type redisEntry struct {
	Key              string                 `json:"key"`
	Kind             OperationKind          `json:"kind"`
	Data             []byte                 `json:"data"`
	StoredAt         time.Time              `json:"stored_at"`
	Invalidation     InvalidationDescriptor `json:"invalidation"`
	Compressed       bool                   `json:"compressed"`
	CompressionRatio float64                `json:"compression_ratio"`
}

// RemoteBackend stores exact-match entries in Redis so they are shared
// across machines. All failures are transient from the caller's point of
// view; lookups against an unreachable server return a miss.
type RemoteBackend struct {
	client  *redis.Client
	cfg     *Config
	codec   *Codec
	fp      *Fingerprinter
	project *ProjectContext
	logger  observability.Logger
	retry   resilience.RetryConfig
}

// NewRemoteBackend creates the Redis backend. The connection is lazy; a
// server that is down at construction time only costs lookup misses.
func NewRemoteBackend(cfg *Config, project *ProjectContext, fp *Fingerprinter, codec *Codec, logger observability.Logger) *RemoteBackend {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		DB:           cfg.Redis.Database,
		Password:     cfg.Redis.Password,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	return NewRemoteBackendWithClient(client, cfg, project, fp, codec, logger)
}

// NewRemoteBackendWithClient creates the backend around an existing
// client. Tests use this with miniredis.
func NewRemoteBackendWithClient(client *redis.Client, cfg *Config, project *ProjectContext, fp *Fingerprinter, codec *Codec, logger observability.Logger) *RemoteBackend {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	retry := resilience.DefaultRetryConfig()
	retry.RetryIfFn = IsTransient
	return &RemoteBackend{
		client:  client,
		cfg:     cfg,
		codec:   codec,
		fp:      fp,
		project: project,
		logger:  logger.WithPrefix("cache.redis"),
		retry:   retry,
	}
}

// Name implements Backend
func (b *RemoteBackend) Name() string { return "redis" }

// redisKey namespaces entries by project and kind so per-project clears
// can SCAN a prefix.
func (b *RemoteBackend) redisKey(kind OperationKind, key string) string {
	short := key
	if len(short) > 16 {
		short = short[:16]
	}
	return fmt.Sprintf("cache:%s:exact:%s:%s", b.project.ID(), kind, short)
}

func (b *RemoteBackend) projectPrefix() string {
	return fmt.Sprintf("cache:%s:exact:*", b.project.ID())
}

// Lookup implements Backend
func (b *RemoteBackend) Lookup(ctx context.Context, key string, req OperationRequest) (CacheResult, error) {
	rkey := b.redisKey(req.Kind, key)

	data, err := resilience.RetryWithResult(ctx, b.retry, func() ([]byte, error) {
		raw, err := b.client.Get(ctx, rkey).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, NewTransientError(err)
		}
		return raw, nil
	})
	if err != nil {
		return Miss(b.Name()), fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if data == nil {
		return Miss(b.Name()), nil
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		_ = b.client.Del(ctx, rkey).Err()
		return Miss(b.Name()), nil
	}

	if !b.fp.Fresh(req, entry.Invalidation) {
		_ = b.client.Del(ctx, rkey).Err()
		return StaleMiss(b.Name()), nil
	}

	var payload any
	if err := b.codec.Decode(entry.Data, &payload); err != nil {
		_ = b.client.Del(ctx, rkey).Err()
		return Miss(b.Name()), nil
	}

	return CacheResult{
		Hit:              true,
		Key:              key,
		Payload:          payload,
		MatchType:        MatchExact,
		Similarity:       1.0,
		Provider:         b.Name(),
		AgeSeconds:       time.Since(entry.StoredAt).Seconds(),
		Compressed:       entry.Compressed,
		CompressionRatio: entry.CompressionRatio,
		Kind:             entry.Kind,
	}, nil
}

// Store implements Backend. Expiry is delegated to Redis via SETEX, so
// remote entries never need a cleanup pass.
func (b *RemoteBackend) Store(ctx context.Context, key string, entry CacheEntry) error {
	stored := redisEntry{
		Key:              key,
		Kind:             entry.Kind,
		Data:             entry.Data,
		StoredAt:         entry.StoredAt,
		Invalidation:     entry.Invalidation,
		Compressed:       entry.Compressed,
		CompressionRatio: entry.CompressionRatio,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	rkey := b.redisKey(entry.Kind, key)
	ttl := b.cfg.TTLFor(entry.Kind)

	return resilience.Retry(ctx, b.retry, func() error {
		if err := b.client.SetEX(ctx, rkey, data, ttl).Err(); err != nil {
			return NewTransientError(err)
		}
		return nil
	})
}

// Invalidate implements Backend. The key's kind is unknown here, so all
// kind namespaces are tried.
func (b *RemoteBackend) Invalidate(ctx context.Context, key string) error {
	kinds := []OperationKind{
		KindReadFile, KindListDir, KindSearch, KindShellCommand,
		KindRemoteFetch, KindRemoteSearch, KindAgentTask,
	}
	rkeys := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		rkeys = append(rkeys, b.redisKey(kind, key))
	}
	if err := b.client.Del(ctx, rkeys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Clear removes every entry belonging to this project
func (b *RemoteBackend) Clear(ctx context.Context) (int, error) {
	removed := 0
	iter := b.client.Scan(ctx, 0, b.projectPrefix(), 100).Iterator()
	for iter.Next(ctx) {
		if b.client.Del(ctx, iter.Val()).Err() == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return removed, nil
}

// Cleanup implements Backend. Redis expires entries natively, so there is
// nothing to sweep.
func (b *RemoteBackend) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

// Stats implements Backend
func (b *RemoteBackend) Stats(ctx context.Context) (BackendStats, error) {
	stats := BackendStats{Provider: b.Name()}
	if !b.IsAvailable(ctx) {
		stats.Error = ErrBackendUnavailable.Error()
		return stats, nil
	}
	stats.Available = true

	iter := b.client.Scan(ctx, 0, b.projectPrefix(), 100).Iterator()
	for iter.Next(ctx) {
		stats.Entries++
	}
	if err := iter.Err(); err != nil {
		stats.Error = err.Error()
	}
	stats.Detail = map[string]any{"address": b.cfg.Redis.Address}
	return stats, nil
}

// IsAvailable implements Backend with a short PING
func (b *RemoteBackend) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

// Close releases the Redis connection pool
func (b *RemoteBackend) Close() error {
	return b.client.Close()
}
