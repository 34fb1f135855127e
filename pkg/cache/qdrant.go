package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/toolmesh/toolcache/pkg/observability"
)

// ScoredRecord is one similarity search candidate
type ScoredRecord struct {
	Record VectorRecord
	Score  float64
}

// VectorIndex is the similarity store contract. Searches are always
// scoped to one project and one operation kind.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, rec VectorRecord) error
	Search(ctx context.Context, vector []float32, projectID string, kind OperationKind, notBefore time.Time, limit int) ([]ScoredRecord, error)
	DeleteByProject(ctx context.Context, projectID string) error
	DeleteOlderThan(ctx context.Context, projectID string, before time.Time) error
	Count(ctx context.Context, projectID string) (int, error)
	IsAvailable(ctx context.Context) bool
}

// QdrantIndex talks to Qdrant over its HTTP API
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
	logger     observability.Logger
}

// NewQdrantIndex creates a Qdrant-backed VectorIndex
func NewQdrantIndex(cfg QdrantConfig, logger observability.Logger) *QdrantIndex {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QdrantIndex{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithPrefix("cache.qdrant"),
	}
}

// qdrantPayload is the per-point payload. The entry bytes travel base64
// encoded in "data".
type qdrantPayload struct {
	Key       string `json:"key"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	StoredAt  int64  `json:"stored_at"`
	Data      string `json:"data"`
}

// EnsureCollection creates the collection if it does not exist yet
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dimensions int) error {
	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+q.collection, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to create collection %s: status %d: %s", q.collection, status, respBody)
	}

	q.logger.Info("created vector collection", map[string]interface{}{
		"collection": q.collection,
		"dimensions": dimensions,
	})
	return nil
}

// Upsert implements VectorIndex
func (q *QdrantIndex) Upsert(ctx context.Context, rec VectorRecord) error {
	body := map[string]any{
		"points": []map[string]any{
			{
				"id":     rec.ID,
				"vector": rec.Embedding,
				"payload": qdrantPayload{
					Key:       rec.ID,
					ProjectID: rec.ProjectID,
					Kind:      string(rec.Kind),
					StoredAt:  rec.StoredAt.Unix(),
					Data:      base64.StdEncoding.EncodeToString(rec.Payload),
				},
			},
		},
	}

	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to upsert point: status %d: %s", status, respBody)
	}
	return nil
}

// Search implements VectorIndex. Results are scoped with must filters on
// project and kind, plus a stored_at range that drops expired entries at
// query time.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, projectID string, kind OperationKind, notBefore time.Time, limit int) ([]ScoredRecord, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "project_id", "match": map[string]any{"value": projectID}},
				{"key": "kind", "match": map[string]any{"value": string(kind)}},
				{"key": "stored_at", "range": map[string]any{"gte": notBefore.Unix()}},
			},
		},
	}

	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search failed: status %d: %s", status, respBody)
	}

	var parsed struct {
		Result []struct {
			ID      any           `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	records := make([]ScoredRecord, 0, len(parsed.Result))
	for _, hit := range parsed.Result {
		data, err := base64.StdEncoding.DecodeString(hit.Payload.Data)
		if err != nil {
			continue
		}
		records = append(records, ScoredRecord{
			Score: hit.Score,
			Record: VectorRecord{
				ID:        fmt.Sprintf("%v", hit.ID),
				Payload:   data,
				ProjectID: hit.Payload.ProjectID,
				Kind:      OperationKind(hit.Payload.Kind),
				StoredAt:  time.Unix(hit.Payload.StoredAt, 0),
			},
		})
	}
	return records, nil
}

// DeleteByProject implements VectorIndex
func (q *QdrantIndex) DeleteByProject(ctx context.Context, projectID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "project_id", "match": map[string]any{"value": projectID}},
			},
		},
	}
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("delete failed: status %d: %s", status, respBody)
	}
	return nil
}

// DeleteOlderThan implements VectorIndex, removing a project's points
// stored before the cutoff.
func (q *QdrantIndex) DeleteOlderThan(ctx context.Context, projectID string, before time.Time) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "project_id", "match": map[string]any{"value": projectID}},
				{"key": "stored_at", "range": map[string]any{"lt": before.Unix()}},
			},
		},
	}
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("delete failed: status %d: %s", status, respBody)
	}
	return nil
}

// Count implements VectorIndex
func (q *QdrantIndex) Count(ctx context.Context, projectID string) (int, error) {
	body := map[string]any{
		"exact": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "project_id", "match": map[string]any{"value": projectID}},
			},
		},
	}
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/count", body)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("count failed: status %d: %s", status, respBody)
	}

	var parsed struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, err
	}
	return parsed.Result.Count, nil
}

// IsAvailable implements VectorIndex with a short health probe
func (q *QdrantIndex) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, _, err := q.do(ctx, http.MethodGet, "/healthz", nil)
	return err == nil && status == http.StatusOK
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, nil, NewTransientError(fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
