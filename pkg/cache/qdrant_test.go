package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant emulates the slice of the Qdrant HTTP API the index uses
type fakeQdrant struct {
	mux         *http.ServeMux
	collections map[string]bool
	points      []map[string]any
	lastSearch  map[string]any
}

func newFakeQdrant() *fakeQdrant {
	f := &fakeQdrant{
		mux:         http.NewServeMux(),
		collections: make(map[string]bool),
	}

	f.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.mux.HandleFunc("/collections/testcol", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if !f.collections["testcol"] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.collections["testcol"] = true
			_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
		}
	})
	f.mux.HandleFunc("/collections/testcol/points", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if points, ok := body["points"].([]any); ok {
			for _, p := range points {
				f.points = append(f.points, p.(map[string]any))
			}
		}
		_, _ = w.Write([]byte(`{"result":{"status":"acknowledged"},"status":"ok"}`))
	})
	f.mux.HandleFunc("/collections/testcol/points/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastSearch)

		results := make([]map[string]any, 0, len(f.points))
		for _, p := range f.points {
			results = append(results, map[string]any{
				"id":      p["id"],
				"score":   0.92,
				"payload": p["payload"],
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": results, "status": "ok"})
	})
	f.mux.HandleFunc("/collections/testcol/points/delete", func(w http.ResponseWriter, _ *http.Request) {
		f.points = nil
		_, _ = w.Write([]byte(`{"result":{"status":"acknowledged"},"status":"ok"}`))
	})
	f.mux.HandleFunc("/collections/testcol/points/count", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"count": len(f.points)},
			"status": "ok",
		})
	})
	return f
}

func testQdrantIndex(t *testing.T) (*QdrantIndex, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	server := httptest.NewServer(fake.mux)
	t.Cleanup(server.Close)

	index := NewQdrantIndex(QdrantConfig{
		URL:        server.URL,
		Collection: "testcol",
		Timeout:    2 * time.Second,
	}, nil)
	return index, fake
}

func TestQdrantEnsureCollection(t *testing.T) {
	index, fake := testQdrantIndex(t)

	require.NoError(t, index.EnsureCollection(context.Background(), 384))
	assert.True(t, fake.collections["testcol"])

	// Second call sees the existing collection and does nothing
	require.NoError(t, index.EnsureCollection(context.Background(), 384))
}

func TestQdrantUpsertAndSearch(t *testing.T) {
	index, fake := testQdrantIndex(t)
	require.NoError(t, index.EnsureCollection(context.Background(), 3))

	rec := VectorRecord{
		ID:        "11111111-2222-3333-4444-555555555555",
		Embedding: []float32{1, 0, 0},
		Payload:   []byte(`"cached result"`),
		ProjectID: "abcd1234",
		Kind:      KindRemoteSearch,
		StoredAt:  time.Unix(1_700_000_000, 0),
	}
	require.NoError(t, index.Upsert(context.Background(), rec))
	require.Len(t, fake.points, 1)

	results, err := index.Search(context.Background(), []float32{1, 0, 0}, "abcd1234", KindRemoteSearch, time.Unix(1_600_000_000, 0), 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.92, results[0].Score, 1e-9)
	assert.Equal(t, []byte(`"cached result"`), results[0].Record.Payload)
	assert.Equal(t, "abcd1234", results[0].Record.ProjectID)
	assert.Equal(t, KindRemoteSearch, results[0].Record.Kind)
}

func TestQdrantSearchSendsScopingFilter(t *testing.T) {
	index, fake := testQdrantIndex(t)

	_, err := index.Search(context.Background(), []float32{1, 0, 0}, "abcd1234", KindRemoteSearch, time.Unix(1_600_000_000, 0), 3)
	require.NoError(t, err)

	filter, ok := fake.lastSearch["filter"].(map[string]any)
	require.True(t, ok)
	must, ok := filter["must"].([]any)
	require.True(t, ok)
	require.Len(t, must, 3)

	keys := make([]string, 0, 3)
	for _, clause := range must {
		keys = append(keys, clause.(map[string]any)["key"].(string))
	}
	assert.ElementsMatch(t, []string{"project_id", "kind", "stored_at"}, keys)
	assert.Equal(t, true, fake.lastSearch["with_payload"])
}

func TestQdrantUpsertEncodesPayload(t *testing.T) {
	index, fake := testQdrantIndex(t)

	payload := []byte(`{"result":"data"}`)
	require.NoError(t, index.Upsert(context.Background(), VectorRecord{
		ID:        "id-1",
		Embedding: []float32{0, 1, 0},
		Payload:   payload,
		ProjectID: "p1",
		Kind:      KindAgentTask,
		StoredAt:  time.Now(),
	}))

	stored := fake.points[0]["payload"].(map[string]any)
	decoded, err := base64.StdEncoding.DecodeString(stored["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestQdrantDeleteAndCount(t *testing.T) {
	index, _ := testQdrantIndex(t)

	require.NoError(t, index.Upsert(context.Background(), VectorRecord{
		ID: "id-1", Embedding: []float32{1}, Payload: []byte(`1`), ProjectID: "p1", Kind: KindAgentTask, StoredAt: time.Now(),
	}))

	count, err := index.Count(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, index.DeleteByProject(context.Background(), "p1"))

	count, err = index.Count(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestQdrantUnavailable(t *testing.T) {
	index := NewQdrantIndex(QdrantConfig{
		URL:        "http://127.0.0.1:1",
		Collection: "testcol",
		Timeout:    100 * time.Millisecond,
	}, nil)

	assert.False(t, index.IsAvailable(context.Background()))

	_, err := index.Search(context.Background(), []float32{1}, "p1", KindRemoteSearch, time.Now(), 1)
	assert.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestQdrantIsAvailable(t *testing.T) {
	index, _ := testQdrantIndex(t)
	assert.True(t, index.IsAvailable(context.Background()))
}
