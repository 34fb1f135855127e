package cache

import (
	"sync/atomic"
	"time"

	"github.com/toolmesh/toolcache/pkg/observability"
)

// Event statuses
const (
	StatusHit    = "HIT"
	StatusMiss   = "MISS"
	StatusStale  = "STALE"
	StatusError  = "ERROR"
	StatusStored = "STORED"
)

// Event is the structured record emitted for every cache operation. It is
// the only channel through which contained backend failures surface.
type Event struct {
	Event            string        `json:"event"`
	Kind             OperationKind `json:"kind"`
	Status           string        `json:"status"`
	Provider         string        `json:"provider"`
	MatchType        MatchType     `json:"match_type"`
	LatencyMS        float64       `json:"latency_ms"`
	Similarity       float64       `json:"similarity,omitempty"`
	AgeSeconds       float64       `json:"age_seconds,omitempty"`
	Compressed       bool          `json:"compressed,omitempty"`
	CompressionRatio float64       `json:"compression_ratio,omitempty"`
	Key              string        `json:"key,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Observer emits cache events through the diagnostic logger and mirrors
// them into metrics. It also keeps the running hit/miss/error counters
// reported by Stats.
type Observer struct {
	logger  observability.Logger
	metrics observability.MetricsClient

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewObserver creates an Observer
func NewObserver(logger observability.Logger, metrics observability.MetricsClient) *Observer {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Observer{logger: logger.WithPrefix("cache"), metrics: metrics}
}

// Lookup records the outcome of a lookup
func (o *Observer) Lookup(kind OperationKind, result CacheResult, latency time.Duration) {
	status := StatusMiss
	if result.Hit {
		status = StatusHit
		o.hits.Add(1)
	} else {
		if result.Stale {
			status = StatusStale
		}
		o.misses.Add(1)
	}

	o.metrics.RecordCounter("cache_lookups_total", 1, map[string]string{
		"kind":     string(kind),
		"status":   status,
		"provider": result.Provider,
	})

	o.emit(Event{
		Event:            "cache_lookup",
		Kind:             kind,
		Status:           status,
		Provider:         result.Provider,
		MatchType:        result.MatchType,
		LatencyMS:        float64(latency.Microseconds()) / 1000,
		Similarity:       result.Similarity,
		AgeSeconds:       result.AgeSeconds,
		Compressed:       result.Compressed,
		CompressionRatio: result.CompressionRatio,
		Key:              keyPrefix(result.Key),
	})
}

// Store records a completed store
func (o *Observer) Store(kind OperationKind, provider, key string, compressed bool, ratio float64, latency time.Duration) {
	o.metrics.RecordCounter("cache_stores_total", 1, map[string]string{
		"kind":     string(kind),
		"provider": provider,
	})
	if compressed {
		o.metrics.RecordHistogram("cache_compression_ratio", ratio, map[string]string{
			"provider": provider,
		})
	}

	o.emit(Event{
		Event:            "cache_store",
		Kind:             kind,
		Status:           StatusStored,
		Provider:         provider,
		MatchType:        MatchExact,
		LatencyMS:        float64(latency.Microseconds()) / 1000,
		Compressed:       compressed,
		CompressionRatio: ratio,
		Key:              keyPrefix(key),
	})
}

// Error records a contained backend failure
func (o *Observer) Error(operation string, kind OperationKind, provider string, err error) {
	o.errors.Add(1)
	o.metrics.RecordCounter("cache_errors_total", 1, map[string]string{
		"operation": operation,
		"provider":  provider,
	})

	msg := err.Error()
	if len(msg) > 100 {
		msg = msg[:100]
	}
	o.emit(Event{
		Event:    "cache_" + operation,
		Kind:     kind,
		Status:   StatusError,
		Provider: provider,
		Error:    msg,
	})
}

// Counts returns the running hit/miss/error totals
func (o *Observer) Counts() (hits, misses, errors int64) {
	return o.hits.Load(), o.misses.Load(), o.errors.Load()
}

func (o *Observer) emit(e Event) {
	fields := map[string]interface{}{
		"event":      e.Event,
		"kind":       string(e.Kind),
		"status":     e.Status,
		"provider":   e.Provider,
		"match_type": string(e.MatchType),
		"latency_ms": e.LatencyMS,
	}
	if e.Similarity > 0 {
		fields["similarity"] = e.Similarity
	}
	if e.AgeSeconds > 0 {
		fields["age_seconds"] = e.AgeSeconds
	}
	if e.Compressed {
		fields["compressed"] = true
		fields["compression_ratio"] = e.CompressionRatio
	}
	if e.Key != "" {
		fields["key"] = e.Key
	}
	if e.Error != "" {
		fields["error"] = e.Error
		o.logger.Error("cache operation failed", fields)
		return
	}
	o.logger.Info("cache event", fields)
}

// keyPrefix truncates a key for logging; full keys can embed request
// content hashes and are noisy.
func keyPrefix(key string) string {
	if len(key) > 16 {
		return key[:16] + "..."
	}
	return key
}
