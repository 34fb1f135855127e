package cache

import (
	"context"
	"sync"
	"time"

	"github.com/toolmesh/toolcache/pkg/observability"
)

// availabilityProbeTTL is how long a backend availability answer is
// trusted before re-probing.
const availabilityProbeTTL = 30 * time.Second

// Router decides which backends serve each operation kind. Filesystem and
// source-control bound kinds stay on the local store; remote and agent
// kinds go to the shared stores, falling back to local when those are
// unreachable and fallback is enabled.
type Router struct {
	cfg      *Config
	local    *LocalBackend
	remote   *RemoteBackend
	semantic *SemanticBackend
	logger   observability.Logger

	probeMu sync.Mutex
	probes  map[string]probeResult
}

type probeResult struct {
	available bool
	checkedAt time.Time
}

// NewRouter creates a Router. Any backend may be nil; routes simply skip
// it.
func NewRouter(cfg *Config, local *LocalBackend, remote *RemoteBackend, semantic *SemanticBackend, logger observability.Logger) *Router {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Router{
		cfg:      cfg,
		local:    local,
		remote:   remote,
		semantic: semantic,
		logger:   logger.WithPrefix("cache.router"),
		probes:   make(map[string]probeResult),
	}
}

// Route returns the backends serving kind, in lookup order. An empty
// slice means the kind is never cached.
func (r *Router) Route(ctx context.Context, kind OperationKind) []Backend {
	switch kind {
	case KindReadFile, KindListDir, KindSearch, KindShellCommand:
		return r.localOnly()

	case KindRemoteFetch, KindRemoteSearch:
		var backends []Backend
		redisUp := r.remote != nil && r.cfg.Redis.Enabled && r.available(ctx, r.remote)
		if redisUp {
			backends = append(backends, r.remote)
		}
		if r.semantic != nil && r.cfg.Qdrant.Enabled {
			backends = append(backends, r.semantic)
		}
		// Local is the last resort when the shared store is unreachable
		if !redisUp && r.cfg.FallbackToLocal {
			backends = append(backends, r.localOnly()...)
		}
		return backends

	case KindAgentTask:
		var backends []Backend
		if r.semantic != nil && r.cfg.Qdrant.Enabled {
			backends = append(backends, r.semantic)
		}
		backends = append(backends, r.localOnly()...)
		return backends

	default:
		return nil
	}
}

// All returns every configured backend, for fan-out operations
func (r *Router) All() []Backend {
	var backends []Backend
	if r.local != nil && r.cfg.LocalEnabled {
		backends = append(backends, r.local)
	}
	if r.remote != nil && r.cfg.Redis.Enabled {
		backends = append(backends, r.remote)
	}
	if r.semantic != nil && r.cfg.Qdrant.Enabled {
		backends = append(backends, r.semantic)
	}
	return backends
}

func (r *Router) localOnly() []Backend {
	if r.local == nil || !r.cfg.LocalEnabled {
		return nil
	}
	return []Backend{r.local}
}

// available memoizes IsAvailable probes so a down backend costs one
// timeout per probe window instead of one per request.
func (r *Router) available(ctx context.Context, b Backend) bool {
	r.probeMu.Lock()
	cached, ok := r.probes[b.Name()]
	if ok && time.Since(cached.checkedAt) < availabilityProbeTTL {
		r.probeMu.Unlock()
		return cached.available
	}
	r.probeMu.Unlock()

	available := b.IsAvailable(ctx)

	r.probeMu.Lock()
	r.probes[b.Name()] = probeResult{available: available, checkedAt: time.Now()}
	r.probeMu.Unlock()

	if !available {
		r.logger.Warn("backend unavailable, routing around it", map[string]interface{}{
			"provider": b.Name(),
		})
	}
	return available
}
