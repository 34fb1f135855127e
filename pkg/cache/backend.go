package cache

import "context"

// Backend is the exact-match storage contract. Implementations must be
// safe for concurrent use and must return (Miss, nil) rather than an
// error for absent, expired, or corrupt entries wherever possible; errors
// are reserved for backend failures the caller may want to count.
type Backend interface {
	// Name identifies the backend in events and stats.
	Name() string

	// Lookup returns the entry stored under key, if fresh. Staleness is
	// decided against the supplied request's current invalidation
	// descriptor.
	Lookup(ctx context.Context, key string, req OperationRequest) (CacheResult, error)

	// Store persists an entry under key with the TTL configured for its
	// kind.
	Store(ctx context.Context, key string, entry CacheEntry) error

	// Invalidate removes the entry stored under key, if any.
	Invalidate(ctx context.Context, key string) error

	// Cleanup removes expired entries and enforces any size budget,
	// returning the number of entries removed.
	Cleanup(ctx context.Context) (int, error)

	// Stats reports entry counts and sizes for this backend.
	Stats(ctx context.Context) (BackendStats, error)

	// IsAvailable reports whether the backend can currently serve
	// requests. Local backends always return true.
	IsAvailable(ctx context.Context) bool
}
