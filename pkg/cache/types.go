package cache

import "time"

// OperationKind identifies the class of tool operation being cached.
type OperationKind string

// Operation kinds
const (
	KindReadFile     OperationKind = "ReadFile"
	KindListDir      OperationKind = "ListDir"
	KindSearch       OperationKind = "Search"
	KindShellCommand OperationKind = "ShellCommand"
	KindRemoteFetch  OperationKind = "RemoteFetch"
	KindRemoteSearch OperationKind = "RemoteSearch"
	KindAgentTask    OperationKind = "AgentTask"
)

// MatchType describes how a lookup was satisfied
type MatchType string

// Match types
const (
	MatchExact    MatchType = "exact"
	MatchSemantic MatchType = "semantic"
	MatchMiss     MatchType = "miss"
)

// OperationRequest is a single tool invocation to look up or store.
// It is immutable for the duration of a call.
type OperationRequest struct {
	Kind       OperationKind  `json:"kind"`
	Parameters map[string]any `json:"parameters"`
	WorkingDir string         `json:"working_dir,omitempty"`
}

// Param returns a string parameter, or "" when absent or not a string.
func (r OperationRequest) Param(name string) string {
	if v, ok := r.Parameters[name].(string); ok {
		return v
	}
	return ""
}

// InvalidationDescriptor is the freshness witness captured when an entry is
// stored. An entry is served only while the current witness still matches.
type InvalidationDescriptor struct {
	// FileMTime is the file modification time for ReadFile, unix nanos
	FileMTime int64 `json:"file_mtime,omitempty"`
	// DirMTime is the directory modification time for ListDir, unix nanos
	DirMTime int64 `json:"dir_mtime,omitempty"`
	// Revision is the source-control HEAD id for Search/ShellCommand
	Revision string `json:"revision,omitempty"`
	// TimeBucket is the coarse time window id for remote and agent kinds
	TimeBucket int64 `json:"time_bucket,omitempty"`
}

// CacheEntry is the stored form of a result. Data holds the
// codec-encoded payload; backends persist it as-is.
type CacheEntry struct {
	Key              string                 `json:"key"`
	Kind             OperationKind          `json:"kind"`
	Parameters       map[string]any         `json:"parameters"`
	Data             []byte                 `json:"data"`
	StoredAt         time.Time              `json:"stored_at"`
	Invalidation     InvalidationDescriptor `json:"invalidation"`
	Compressed       bool                   `json:"compressed"`
	CompressionRatio float64                `json:"compression_ratio"`
}

// CacheResult is returned to callers from Lookup. On a miss only Hit, Key,
// Provider, and possibly Similarity (best score observed) are meaningful.
type CacheResult struct {
	Hit              bool          `json:"hit"`
	Key              string        `json:"key"`
	Payload          any           `json:"payload,omitempty"`
	MatchType        MatchType     `json:"match_type"`
	Similarity       float64       `json:"similarity"`
	Provider         string        `json:"provider"`
	AgeSeconds       float64       `json:"age_seconds"`
	Compressed       bool          `json:"compressed"`
	CompressionRatio float64       `json:"compression_ratio"`
	Kind             OperationKind `json:"kind,omitempty"`
	// Stale marks a miss caused by evicting an entry that was present but
	// no longer fresh
	Stale bool `json:"stale,omitempty"`
}

// Miss returns a miss result attributed to the given provider
func Miss(provider string) CacheResult {
	return CacheResult{Hit: false, MatchType: MatchMiss, Provider: provider}
}

// StaleMiss returns a miss for an entry that was found but had gone stale
func StaleMiss(provider string) CacheResult {
	r := Miss(provider)
	r.Stale = true
	return r
}

// VectorRecord is a stored similarity-match entry. The embedding is unit
// length; payload bytes may be gzip compressed.
type VectorRecord struct {
	ID        string        `json:"id"`
	Embedding []float32     `json:"embedding"`
	Payload   []byte        `json:"payload"`
	ProjectID string        `json:"project_id"`
	Kind      OperationKind `json:"kind"`
	StoredAt  time.Time     `json:"stored_at"`
}

// BackendStats is one backend's contribution to Stats()
type BackendStats struct {
	Provider  string         `json:"provider"`
	Available bool           `json:"available"`
	Entries   int            `json:"entries"`
	SizeBytes int64          `json:"size_bytes,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Stats aggregates per-backend statistics plus observer counters
type Stats struct {
	ProjectID string                  `json:"project_id"`
	Backends  map[string]BackendStats `json:"backends"`
	Hits      int64                   `json:"hits"`
	Misses    int64                   `json:"misses"`
	Errors    int64                   `json:"errors"`
}
