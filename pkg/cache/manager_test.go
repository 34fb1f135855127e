package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *routerFixture) {
	t.Helper()
	f := newRouterFixture(t, mutate)
	m := NewManagerWithRouter(f.cfg, f.project, f.fp, f.codec, f.router, nil, nil)
	return m, f
}

func TestManagerReadFileRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "main.go", "package main")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	result := m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)

	m.Store(context.Background(), req, map[string]any{"content": "package main"}, true)

	result = m.Lookup(context.Background(), req)
	require.True(t, result.Hit)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.Equal(t, "local", result.Provider)
	assert.Equal(t, map[string]any{"content": "package main"}, result.Payload)
}

func TestManagerStoreReturnsKey(t *testing.T) {
	m, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	key := m.Store(context.Background(), req, "payload", true)
	require.NotEmpty(t, key)

	result := m.Lookup(context.Background(), req)
	require.True(t, result.Hit)
	assert.Equal(t, key, result.Key)

	// Failed operations and uncacheable requests report no key
	assert.Empty(t, m.Store(context.Background(), req, "payload", false))
	bad := OperationRequest{Kind: KindShellCommand, Parameters: map[string]any{"command": "rm -rf build"}}
	assert.Empty(t, m.Store(context.Background(), bad, "payload", true))
}

func TestManagerInvalidateReportsOutcome(t *testing.T) {
	m, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	m.Store(context.Background(), req, "payload", true)
	assert.True(t, m.Invalidate(context.Background(), req))

	bad := OperationRequest{Kind: OperationKind("Telemetry")}
	assert.False(t, m.Invalidate(context.Background(), bad))
}

func TestManagerFailedOperationNotStored(t *testing.T) {
	m, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	m.Store(context.Background(), req, "partial output", false)

	result := m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)
}

func TestManagerNotCacheableIsAMiss(t *testing.T) {
	m, _ := newTestManager(t, nil)

	req := OperationRequest{Kind: KindShellCommand, Parameters: map[string]any{"command": "rm -rf build"}}
	result := m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)

	// Storing it is silently skipped
	m.Store(context.Background(), req, "output", true)
	result = m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)
}

func TestManagerDisabled(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *Config) {
		cfg.Enabled = false
	})
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	m.Store(context.Background(), req, "payload", true)
	result := m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)
	assert.Equal(t, "disabled", result.Provider)
}

func TestManagerRemoteFetchExactAndSemantic(t *testing.T) {
	m, f := newTestManager(t, nil)
	f.embedder.vectors["fetch https://example.com/docs"] = []float32{1, 0, 0}

	req := OperationRequest{Kind: KindRemoteFetch, Parameters: map[string]any{"url": "https://example.com/docs"}}
	m.Store(context.Background(), req, map[string]any{"body": "install guide"}, true)

	// Exact match from Redis wins first
	result := m.Lookup(context.Background(), req)
	require.True(t, result.Hit)
	assert.Equal(t, MatchExact, result.MatchType)
	assert.Equal(t, "redis", result.Provider)

	// After the exact entry expires, the semantic copy still answers
	f.redis.FastForward(31 * time.Minute)
	result = m.Lookup(context.Background(), req)
	require.True(t, result.Hit)
	assert.Equal(t, MatchSemantic, result.MatchType)
	assert.Equal(t, "semantic", result.Provider)
}

func TestManagerAgentTaskStoredLocallyAndSemantically(t *testing.T) {
	m, f := newTestManager(t, nil)
	f.embedder.vectors["deep-researcher agent - compare redis clients"] = []float32{0, 1, 0}

	req := OperationRequest{
		Kind:       KindAgentTask,
		Parameters: map[string]any{"category": "deep-researcher", "prompt": "compare redis clients"},
	}
	m.Store(context.Background(), req, "go-redis is the common choice", true)

	result := m.Lookup(context.Background(), req)
	require.True(t, result.Hit)
	assert.Equal(t, MatchSemantic, result.MatchType)

	// With the vector store gone, the local copy still serves exact repeats
	f.index.down = true
	result = m.Lookup(context.Background(), req)
	require.True(t, result.Hit)
	assert.Equal(t, "local", result.Provider)
	assert.Equal(t, MatchExact, result.MatchType)
}

func TestManagerContainsBackendFailures(t *testing.T) {
	m, f := newTestManager(t, nil)
	f.index.down = true

	req := OperationRequest{Kind: KindRemoteSearch, Parameters: map[string]any{"query": "anything"}}

	// The vector store erroring must not surface; the lookup just misses
	result := m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)

	m.Store(context.Background(), req, "payload", true)
}

func TestManagerInvalidate(t *testing.T) {
	m, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	m.Store(context.Background(), req, "payload", true)
	require.True(t, m.Lookup(context.Background(), req).Hit)

	m.Invalidate(context.Background(), req)
	assert.False(t, m.Lookup(context.Background(), req).Hit)
}

func TestManagerStats(t *testing.T) {
	m, _ := newTestManager(t, nil)
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	m.Lookup(context.Background(), req)
	m.Store(context.Background(), req, "payload", true)
	m.Lookup(context.Background(), req)

	stats := m.Stats(context.Background())
	assert.Equal(t, m.Project().ID(), stats.ProjectID)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Contains(t, stats.Backends, "local")
	assert.Contains(t, stats.Backends, "redis")
	assert.Contains(t, stats.Backends, "semantic")
	assert.Equal(t, 1, stats.Backends["local"].Entries)
}

func TestManagerClear(t *testing.T) {
	m, f := newTestManager(t, nil)
	f.embedder.vectors["search web for golang generics"] = []float32{1, 0, 0}

	req := OperationRequest{Kind: KindRemoteSearch, Parameters: map[string]any{"query": "golang generics"}}
	m.Store(context.Background(), req, "results", true)

	removed := m.Clear(context.Background())
	assert.GreaterOrEqual(t, removed, 1)

	result := m.Lookup(context.Background(), req)
	assert.False(t, result.Hit)
}

func TestManagerCleanup(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *Config) {
		cfg.TTL.Exact = 50 * time.Millisecond
	})
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "hello")
	req := OperationRequest{Kind: KindReadFile, Parameters: map[string]any{"path": path}}

	m.Store(context.Background(), req, "payload", true)
	time.Sleep(80 * time.Millisecond)

	removed := m.Cleanup(context.Background())
	assert.Equal(t, 1, removed)
}
