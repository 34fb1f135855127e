package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendNames(backends []Backend) []string {
	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name())
	}
	return names
}

type routerFixture struct {
	cfg      *Config
	project  *ProjectContext
	fp       *Fingerprinter
	codec    *Codec
	router   *Router
	redis    *miniredis.Miniredis
	index    *memoryIndex
	embedder *fakeEmbedder
}

func newRouterFixture(t *testing.T, mutate func(*Config)) *routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.Redis.Address = mr.Addr()
	if mutate != nil {
		mutate(cfg)
	}

	project := NewProjectContext(t.TempDir())
	fp := NewFingerprinter(project)
	codec := NewCodec(cfg.Compression)

	local, err := NewLocalBackend(cfg, project, fp, codec, nil)
	require.NoError(t, err)
	remote := NewRemoteBackend(cfg, project, fp, codec, nil)
	t.Cleanup(func() { _ = remote.Close() })

	index := &memoryIndex{}
	embedder := &fakeEmbedder{dims: 3, vectors: map[string][]float32{}}
	semantic := NewSemanticBackend(cfg, project, embedder, index, codec, nil)

	return &routerFixture{
		cfg:      cfg,
		project:  project,
		fp:       fp,
		codec:    codec,
		router:   NewRouter(cfg, local, remote, semantic, nil),
		redis:    mr,
		index:    index,
		embedder: embedder,
	}
}

func TestRouteLocalKinds(t *testing.T) {
	f := newRouterFixture(t, nil)

	for _, kind := range []OperationKind{KindReadFile, KindListDir, KindSearch, KindShellCommand} {
		backends := f.router.Route(context.Background(), kind)
		assert.Equal(t, []string{"local"}, backendNames(backends), string(kind))
	}
}

func TestRouteRemoteKinds(t *testing.T) {
	f := newRouterFixture(t, nil)

	for _, kind := range []OperationKind{KindRemoteFetch, KindRemoteSearch} {
		backends := f.router.Route(context.Background(), kind)
		assert.Equal(t, []string{"redis", "semantic"}, backendNames(backends), string(kind))
	}
}

func TestRouteAgentKind(t *testing.T) {
	f := newRouterFixture(t, nil)

	backends := f.router.Route(context.Background(), KindAgentTask)
	assert.Equal(t, []string{"semantic", "local"}, backendNames(backends))
}

func TestRouteUnknownKindNotCached(t *testing.T) {
	f := newRouterFixture(t, nil)

	assert.Empty(t, f.router.Route(context.Background(), OperationKind("Telemetry")))
}

func TestRouteFallsBackToLocalWhenRedisDown(t *testing.T) {
	f := newRouterFixture(t, func(cfg *Config) {
		cfg.Redis.DialTimeout = 50 * time.Millisecond
		cfg.Redis.ReadTimeout = 50 * time.Millisecond
		cfg.Redis.WriteTimeout = 50 * time.Millisecond
	})
	f.redis.Close()

	// Similarity is still consulted first; local is the last resort
	backends := f.router.Route(context.Background(), KindRemoteFetch)
	assert.Equal(t, []string{"semantic", "local"}, backendNames(backends))
}

func TestRouteNoFallbackWhenDisabled(t *testing.T) {
	f := newRouterFixture(t, func(cfg *Config) {
		cfg.FallbackToLocal = false
		cfg.Redis.DialTimeout = 50 * time.Millisecond
	})
	f.redis.Close()

	backends := f.router.Route(context.Background(), KindRemoteFetch)
	assert.Equal(t, []string{"semantic"}, backendNames(backends))
}

func TestRouteRedisDisabledByConfig(t *testing.T) {
	f := newRouterFixture(t, func(cfg *Config) {
		cfg.Redis.Enabled = false
	})

	backends := f.router.Route(context.Background(), KindRemoteFetch)
	assert.Equal(t, []string{"semantic", "local"}, backendNames(backends))
}

func TestRouteAvailabilityProbeMemoized(t *testing.T) {
	f := newRouterFixture(t, nil)

	// First probe sees a live server
	backends := f.router.Route(context.Background(), KindRemoteFetch)
	require.Equal(t, []string{"redis", "semantic"}, backendNames(backends))

	// The server dying inside the probe window is not noticed yet
	f.redis.Close()
	backends = f.router.Route(context.Background(), KindRemoteFetch)
	assert.Equal(t, []string{"redis", "semantic"}, backendNames(backends))
}

func TestRouterAll(t *testing.T) {
	f := newRouterFixture(t, nil)
	assert.Equal(t, []string{"local", "redis", "semantic"}, backendNames(f.router.All()))

	disabled := newRouterFixture(t, func(cfg *Config) {
		cfg.Qdrant.Enabled = false
	})
	assert.Equal(t, []string{"local", "redis"}, backendNames(disabled.router.All()))
}
