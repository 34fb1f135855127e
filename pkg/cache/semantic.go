package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolmesh/toolcache/pkg/observability"
)

// SemanticBackend matches requests by meaning rather than by exact key.
// Only remote and agent kinds reach it; those are the operations where
// slightly different phrasings produce the same answer.
type SemanticBackend struct {
	embedder Embedder
	index    VectorIndex
	codec    *Codec
	cfg      *Config
	project  *ProjectContext
	logger   observability.Logger
	now      func() time.Time

	ensureOnce sync.Once
}

// NewSemanticBackend creates the similarity backend. A nil embedder or
// index degrades the backend to always-miss rather than failing.
func NewSemanticBackend(cfg *Config, project *ProjectContext, embedder Embedder, index VectorIndex, codec *Codec, logger observability.Logger) *SemanticBackend {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &SemanticBackend{
		embedder: embedder,
		index:    index,
		codec:    codec,
		cfg:      cfg,
		project:  project,
		logger:   logger.WithPrefix("cache.semantic"),
		now:      time.Now,
	}
}

// Name implements Backend
func (b *SemanticBackend) Name() string { return "semantic" }

// QueryText renders the natural-language form of a request that gets
// embedded. An empty string means the request has no semantic form.
func QueryText(req OperationRequest) string {
	switch req.Kind {
	case KindRemoteFetch:
		url := req.Param("url")
		if url == "" {
			return ""
		}
		if prompt := req.Param("prompt"); prompt != "" {
			return fmt.Sprintf("fetch %s: %s", url, prompt)
		}
		return "fetch " + url
	case KindRemoteSearch:
		query := req.Param("query")
		if query == "" {
			return ""
		}
		return "search web for " + query
	case KindAgentTask:
		category := req.Param("category")
		if category == "" {
			return ""
		}
		text := category + " agent"
		if desc := req.Param("description"); desc != "" {
			text += ": " + desc
		}
		if prompt := req.Param("prompt"); prompt != "" {
			text += " - " + prompt
		}
		return text
	default:
		return ""
	}
}

// Lookup implements Backend. The best candidate at or above the
// similarity threshold wins; below it the lookup misses, reporting the
// best score observed so near misses are visible in events.
func (b *SemanticBackend) Lookup(ctx context.Context, _ string, req OperationRequest) (CacheResult, error) {
	if b.degraded() {
		return Miss(b.Name()), nil
	}

	text := QueryText(req)
	if text == "" {
		return Miss(b.Name()), nil
	}

	vector, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return Miss(b.Name()), err
	}

	notBefore := b.now().Add(-b.cfg.TTL.Semantic)
	candidates, err := b.index.Search(ctx, vector, b.project.ID(), req.Kind, notBefore, b.cfg.MaxCandidates)
	if err != nil {
		return Miss(b.Name()), err
	}
	if len(candidates) == 0 {
		return Miss(b.Name()), nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}

	if best.Score < b.cfg.SimilarityThreshold {
		miss := Miss(b.Name())
		miss.Similarity = best.Score
		return miss, nil
	}

	var payload any
	if err := b.codec.Decode(best.Record.Payload, &payload); err != nil {
		return Miss(b.Name()), nil
	}

	return CacheResult{
		Hit:        true,
		Key:        best.Record.ID,
		Payload:    payload,
		MatchType:  MatchSemantic,
		Similarity: best.Score,
		Provider:   b.Name(),
		AgeSeconds: b.now().Sub(best.Record.StoredAt).Seconds(),
		Compressed: IsCompressed(best.Record.Payload),
		Kind:       best.Record.Kind,
	}, nil
}

// Store implements Backend. Every store gets a fresh point ID; duplicate
// near-identical entries are tolerated and age out via the query-time
// stored_at filter.
func (b *SemanticBackend) Store(ctx context.Context, _ string, entry CacheEntry) error {
	if b.degraded() {
		return nil
	}

	text := QueryText(OperationRequest{Kind: entry.Kind, Parameters: entry.Parameters})
	if text == "" {
		return nil
	}

	b.ensureOnce.Do(func() {
		if err := b.index.EnsureCollection(ctx, b.embedder.Dimensions()); err != nil {
			b.logger.Warn("failed to ensure vector collection", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})

	vector, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}

	return b.index.Upsert(ctx, VectorRecord{
		ID:        uuid.NewString(),
		Embedding: vector,
		Payload:   entry.Data,
		ProjectID: b.project.ID(),
		Kind:      entry.Kind,
		StoredAt:  entry.StoredAt,
	})
}

// Invalidate implements Backend. Exact keys do not address vector points,
// so single-key invalidation is a no-op here; expiry is handled by the
// stored_at filter and Clear.
func (b *SemanticBackend) Invalidate(_ context.Context, _ string) error {
	return nil
}

// Clear removes every vector belonging to this project
func (b *SemanticBackend) Clear(ctx context.Context) error {
	if b.degraded() {
		return nil
	}
	return b.index.DeleteByProject(ctx, b.project.ID())
}

// Cleanup implements Backend. Expired vectors are already excluded at
// query time; the sweep here reclaims their storage.
func (b *SemanticBackend) Cleanup(ctx context.Context) (int, error) {
	if b.degraded() {
		return 0, nil
	}
	cutoff := b.now().Add(-b.cfg.TTL.Semantic)
	return 0, b.index.DeleteOlderThan(ctx, b.project.ID(), cutoff)
}

// Stats implements Backend
func (b *SemanticBackend) Stats(ctx context.Context) (BackendStats, error) {
	stats := BackendStats{Provider: b.Name()}
	if b.degraded() || !b.index.IsAvailable(ctx) {
		stats.Error = ErrBackendUnavailable.Error()
		return stats, nil
	}
	stats.Available = true

	count, err := b.index.Count(ctx, b.project.ID())
	if err != nil {
		stats.Error = err.Error()
		return stats, nil
	}
	stats.Entries = count
	stats.Detail = map[string]any{"threshold": b.cfg.SimilarityThreshold}
	return stats, nil
}

// IsAvailable implements Backend
func (b *SemanticBackend) IsAvailable(ctx context.Context) bool {
	return !b.degraded() && b.index.IsAvailable(ctx)
}

func (b *SemanticBackend) degraded() bool {
	return b.embedder == nil || b.index == nil
}
