package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toolmesh/toolcache/pkg/observability"
	"github.com/toolmesh/toolcache/pkg/resilience"
)

// Manager is the cache facade. Every method is safe to call on a hot
// path: backend failures are contained, logged, and surfaced as misses
// or no-ops, never as errors the tool pipeline has to handle.
type Manager struct {
	cfg      *Config
	project  *ProjectContext
	fp       *Fingerprinter
	codec    *Codec
	router   *Router
	observer *Observer
	executor *resilience.Executor
	policies map[string]resilience.Policy
	logger   observability.Logger

	remote *RemoteBackend
}

// NewManager builds a Manager with every backend the configuration
// enables. Backends that cannot be constructed degrade the cache rather
// than failing it; only an unusable local store is a hard error.
func NewManager(cfg *Config, workingDir string, logger observability.Logger, metrics observability.MetricsClient) (*Manager, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	project := NewProjectContext(workingDir)
	fp := NewFingerprinter(project)
	codec := NewCodec(cfg.Compression)

	var local *LocalBackend
	if cfg.LocalEnabled {
		var err error
		local, err = NewLocalBackend(cfg, project, fp, codec, logger)
		if err != nil {
			return nil, err
		}
	}

	var remote *RemoteBackend
	if cfg.Redis.Enabled {
		remote = NewRemoteBackend(cfg, project, fp, codec, logger)
	}

	var semantic *SemanticBackend
	if cfg.Qdrant.Enabled {
		embedder, err := NewOpenAIEmbedder(cfg.Embedding)
		if err != nil {
			logger.Warn("semantic cache disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			index := NewQdrantIndex(cfg.Qdrant, logger)
			semantic = NewSemanticBackend(cfg, project, embedder, index, codec, logger)
		}
	}

	router := NewRouter(cfg, local, remote, semantic, logger)
	m := NewManagerWithRouter(cfg, project, fp, codec, router, logger, metrics)
	m.remote = remote
	return m, nil
}

// NewManagerWithRouter wires a Manager around pre-built components.
// Tests use this to substitute fake backends.
func NewManagerWithRouter(cfg *Config, project *ProjectContext, fp *Fingerprinter, codec *Codec, router *Router, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	// Redis retries transient failures inside the backend itself, so the
	// policies here only add containment, timing, and circuit breaking.
	policies := map[string]resilience.Policy{
		"local": {
			Provider:      "local",
			SlowThreshold: cfg.SlowThreshold,
		},
		"redis": {
			Provider:      "redis",
			SlowThreshold: cfg.SlowThreshold,
			Breaker:       resilience.NewBreaker("cache-redis"),
		},
		"semantic": {
			Provider:      "semantic",
			SlowThreshold: 5 * cfg.SlowThreshold,
			Breaker:       resilience.NewBreaker("cache-semantic"),
		},
	}

	return &Manager{
		cfg:      cfg,
		project:  project,
		fp:       fp,
		codec:    codec,
		router:   router,
		observer: NewObserver(logger, metrics),
		executor: resilience.NewExecutor(logger, metrics),
		policies: policies,
		logger:   logger.WithPrefix("cache"),
	}
}

// Project returns the manager's project context
func (m *Manager) Project() *ProjectContext { return m.project }

// Lookup returns the cached result for req, if any backend holds a fresh
// one. Not-cacheable requests and backend failures both come back as
// plain misses.
func (m *Manager) Lookup(ctx context.Context, req OperationRequest) CacheResult {
	if !m.cfg.Enabled {
		return Miss("disabled")
	}

	start := time.Now()

	key, err := m.fp.DeriveKey(req)
	if err != nil {
		if !errors.Is(err, ErrNotCacheable) {
			m.observer.Error("lookup", req.Kind, "fingerprint", err)
		}
		return Miss("none")
	}

	bestMiss := Miss("none")
	stale := false
	for _, backend := range m.router.Route(ctx, req.Kind) {
		policy := m.policy(backend)
		result := resilience.Execute(ctx, m.executor, policy, "lookup", Miss(backend.Name()),
			func(ctx context.Context) (CacheResult, error) {
				return backend.Lookup(ctx, key, req)
			})
		if result.Hit {
			m.observer.Lookup(req.Kind, result, time.Since(start))
			return result
		}
		stale = stale || result.Stale
		if result.Similarity > bestMiss.Similarity {
			bestMiss = result
		}
	}

	bestMiss.Key = key
	bestMiss.Stale = stale
	m.observer.Lookup(req.Kind, bestMiss, time.Since(start))
	return bestMiss
}

// Store caches the result of a completed operation and returns the key
// the entry was stored under. Failed operations are never cached, and a
// key derivation decline is silently skipped; both report an empty key.
func (m *Manager) Store(ctx context.Context, req OperationRequest, payload any, succeeded bool) string {
	if !m.cfg.Enabled || !succeeded {
		return ""
	}

	start := time.Now()

	key, err := m.fp.DeriveKey(req)
	if err != nil {
		return ""
	}

	encoded, ratio, err := m.codec.Encode(payload)
	if err != nil {
		m.observer.Error("store", req.Kind, "codec", err)
		return ""
	}

	entry := CacheEntry{
		Key:              key,
		Kind:             req.Kind,
		Parameters:       req.Parameters,
		Data:             encoded,
		StoredAt:         time.Now(),
		Invalidation:     m.fp.DeriveDescriptor(req),
		Compressed:       IsCompressed(encoded),
		CompressionRatio: ratio,
	}

	storedAny := false
	for _, backend := range m.router.Route(ctx, req.Kind) {
		policy := m.policy(backend)
		stored := resilience.Execute(ctx, m.executor, policy, "store", false,
			func(ctx context.Context) (bool, error) {
				if err := backend.Store(ctx, key, entry); err != nil {
					return false, err
				}
				return true, nil
			})
		if stored {
			storedAny = true
			m.observer.Store(req.Kind, backend.Name(), key, entry.Compressed, entry.CompressionRatio, time.Since(start))
		} else {
			m.observer.Error("store", req.Kind, backend.Name(), ErrBackendUnavailable)
		}
	}
	if !storedAny {
		return ""
	}
	return key
}

// Invalidate removes the entry for req from every backend that would
// serve it, reporting whether every removal went through.
func (m *Manager) Invalidate(ctx context.Context, req OperationRequest) bool {
	if !m.cfg.Enabled {
		return false
	}

	key, err := m.fp.DeriveKey(req)
	if err != nil {
		return false
	}

	ok := true
	for _, backend := range m.router.Route(ctx, req.Kind) {
		policy := m.policy(backend)
		cleared := resilience.Execute(ctx, m.executor, policy, "invalidate", false,
			func(ctx context.Context) (bool, error) {
				if err := backend.Invalidate(ctx, key); err != nil {
					return false, err
				}
				return true, nil
			})
		ok = ok && cleared
	}
	return ok
}

// Cleanup sweeps every backend and returns the total number of entries
// removed.
func (m *Manager) Cleanup(ctx context.Context) int {
	total := 0
	for _, backend := range m.router.All() {
		policy := m.policy(backend)
		removed := resilience.Execute(ctx, m.executor, policy, "cleanup", 0,
			func(ctx context.Context) (int, error) {
				return backend.Cleanup(ctx)
			})
		total += removed
	}
	return total
}

// Clear drops every entry belonging to this project from every backend
func (m *Manager) Clear(ctx context.Context) int {
	total := 0
	for _, backend := range m.router.All() {
		policy := m.policy(backend)
		removed := resilience.Execute(ctx, m.executor, policy, "clear", 0,
			func(ctx context.Context) (int, error) {
				switch b := backend.(type) {
				case *SemanticBackend:
					return 0, b.Clear(ctx)
				case interface {
					Clear(context.Context) (int, error)
				}:
					return b.Clear(ctx)
				default:
					return backend.Cleanup(ctx)
				}
			})
		total += removed
	}
	return total
}

// Stats aggregates per-backend statistics with the running counters
func (m *Manager) Stats(ctx context.Context) Stats {
	hits, misses, errs := m.observer.Counts()
	stats := Stats{
		ProjectID: m.project.ID(),
		Backends:  make(map[string]BackendStats),
		Hits:      hits,
		Misses:    misses,
		Errors:    errs,
	}

	for _, backend := range m.router.All() {
		policy := m.policy(backend)
		bs := resilience.Execute(ctx, m.executor, policy, "stats",
			BackendStats{Provider: backend.Name(), Error: "stats unavailable"},
			func(ctx context.Context) (BackendStats, error) {
				return backend.Stats(ctx)
			})
		stats.Backends[backend.Name()] = bs
	}
	return stats
}

// Close releases backend resources
func (m *Manager) Close() error {
	if m.remote != nil {
		if err := m.remote.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return nil
}

func (m *Manager) policy(b Backend) resilience.Policy {
	if p, ok := m.policies[b.Name()]; ok {
		return p
	}
	return resilience.Policy{Provider: b.Name(), SlowThreshold: m.cfg.SlowThreshold}
}
