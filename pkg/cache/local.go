package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/toolmesh/toolcache/pkg/observability"
)

// localEntry is the on-disk envelope. Data holds the codec-encoded
// payload, so the envelope itself stays small and readable.
type localEntry struct {
	Key              string                 `json:"key"`
	Kind             OperationKind          `json:"kind"`
	Parameters       map[string]any         `json:"parameters,omitempty"`
	Data             []byte                 `json:"data"`
	StoredAt         time.Time              `json:"stored_at"`
	Invalidation     InvalidationDescriptor `json:"invalidation"`
	Compressed       bool                   `json:"compressed"`
	CompressionRatio float64                `json:"compression_ratio"`
}

// LocalBackend stores exact-match entries as one JSON file per key under
// a per-project directory. It is always available and never returns a
// lookup error for a bad entry; expired and corrupt files are deleted and
// the lookup misses.
type LocalBackend struct {
	dir    string
	cfg    *Config
	codec  *Codec
	fp     *Fingerprinter
	logger observability.Logger

	// evictMu serializes cleanup and eviction passes
	evictMu sync.Mutex
}

// NewLocalBackend creates the file backend rooted at the configured cache
// directory, namespaced by project ID.
func NewLocalBackend(cfg *Config, project *ProjectContext, fp *Fingerprinter, codec *Codec, logger observability.Logger) (*LocalBackend, error) {
	root := cfg.CacheDir
	if root == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		root = filepath.Join(base, "toolcache")
	}
	dir := filepath.Join(root, project.ID(), "exact")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &LocalBackend{
		dir:    dir,
		cfg:    cfg,
		codec:  codec,
		fp:     fp,
		logger: logger.WithPrefix("cache.local"),
	}, nil
}

// Name implements Backend
func (b *LocalBackend) Name() string { return "local" }

// Dir returns the backend's entry directory
func (b *LocalBackend) Dir() string { return b.dir }

// Lookup implements Backend
func (b *LocalBackend) Lookup(_ context.Context, key string, req OperationRequest) (CacheResult, error) {
	path := b.entryPath(key)

	data, err := os.ReadFile(path)
	if err != nil {
		return Miss(b.Name()), nil
	}

	var entry localEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		b.logger.Warn("removing corrupt cache file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		_ = os.Remove(path)
		return Miss(b.Name()), nil
	}

	age := time.Since(entry.StoredAt)
	if age > b.cfg.TTLFor(entry.Kind) || !b.fp.Fresh(req, entry.Invalidation) {
		_ = os.Remove(path)
		return StaleMiss(b.Name()), nil
	}

	var payload any
	if err := b.codec.Decode(entry.Data, &payload); err != nil {
		b.logger.Warn("removing undecodable cache file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		_ = os.Remove(path)
		return Miss(b.Name()), nil
	}

	return CacheResult{
		Hit:              true,
		Key:              key,
		Payload:          payload,
		MatchType:        MatchExact,
		Similarity:       1.0,
		Provider:         b.Name(),
		AgeSeconds:       age.Seconds(),
		Compressed:       entry.Compressed,
		CompressionRatio: entry.CompressionRatio,
		Kind:             entry.Kind,
	}, nil
}

// Store implements Backend. Entries are written to a temp file and
// renamed into place, so concurrent readers never observe a partial
// write.
func (b *LocalBackend) Store(_ context.Context, key string, entry CacheEntry) error {
	if _, err := b.enforceBudget(); err != nil {
		b.logger.Warn("size budget enforcement failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stored := localEntry{
		Key:              key,
		Kind:             entry.Kind,
		Parameters:       entry.Parameters,
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

	tmp, err := os.CreateTemp(b.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.entryPath(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}
	return nil
}

// Invalidate implements Backend
func (b *LocalBackend) Invalidate(_ context.Context, key string) error {
	err := os.Remove(b.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cleanup implements Backend. It removes expired entries, then evicts
// oldest entries until the directory is back under 80% of the size
// budget.
func (b *LocalBackend) Cleanup(_ context.Context) (int, error) {
	b.evictMu.Lock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		b.evictMu.Unlock()
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(b.dir, e.Name())
		if b.expired(path) && os.Remove(path) == nil {
			removed++
		}
	}
	b.evictMu.Unlock()

	evicted, err := b.enforceBudget()
	removed += evicted

	b.logger.Info("local cache cleanup complete", map[string]interface{}{
		"removed": removed,
	})
	return removed, err
}

// enforceBudget evicts oldest entries until the directory is at or under
// 80% of the size budget. Under budget it does nothing.
func (b *LocalBackend) enforceBudget() (int, error) {
	b.evictMu.Lock()
	defer b.evictMu.Unlock()

	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, err
	}

	var files []fileInfo
	var totalSize int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(b.dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		totalSize += info.Size()
	}

	budget := int64(b.cfg.MaxCacheSizeMB) * 1024 * 1024
	if totalSize <= budget {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	target := budget * 80 / 100
	removed := 0
	for _, f := range files {
		if totalSize <= target {
			break
		}
		if os.Remove(f.path) == nil {
			totalSize -= f.size
			removed++
		}
	}
	return removed, nil
}

// Clear removes every entry in the project's directory
func (b *LocalBackend) Clear(_ context.Context) (int, error) {
	b.evictMu.Lock()
	defer b.evictMu.Unlock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if os.Remove(filepath.Join(b.dir, e.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

// expired reports whether the entry at path has outlived its TTL. An
// unreadable file counts as expired.
func (b *LocalBackend) expired(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	var entry localEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return true
	}
	return time.Since(entry.StoredAt) > b.cfg.TTLFor(entry.Kind)
}

// Stats implements Backend
func (b *LocalBackend) Stats(_ context.Context) (BackendStats, error) {
	stats := BackendStats{Provider: b.Name(), Available: true}

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		stats.Error = err.Error()
		return stats, nil
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if info, err := e.Info(); err == nil {
			stats.Entries++
			stats.SizeBytes += info.Size()
		}
	}
	stats.Detail = map[string]any{"dir": b.dir}
	return stats, nil
}

// IsAvailable implements Backend; the file backend is always available
func (b *LocalBackend) IsAvailable(_ context.Context) bool { return true }

func (b *LocalBackend) entryPath(key string) string {
	return filepath.Join(b.dir, key+".json")
}
