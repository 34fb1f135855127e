package cache

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotCacheable means key derivation declined the request. This is a
	// routing decision, not a failure.
	ErrNotCacheable = errors.New("operation is not cacheable")

	// ErrStaleEntry means the entry's TTL elapsed or its invalidation
	// descriptor no longer matches; the entry is deleted and the lookup
	// misses.
	ErrStaleEntry = errors.New("cache entry is stale")

	// ErrCorruptEntry means an entry could not be decoded or decompressed;
	// it is deleted and the lookup misses.
	ErrCorruptEntry = errors.New("cache entry is corrupt")

	// ErrBackendUnavailable means a remote store could not be reached
	// within its timeout.
	ErrBackendUnavailable = errors.New("cache backend unavailable")
)

// TransientError marks an error as retryable. Only connection and timeout
// class failures are wrapped; data errors are never retried.
type TransientError struct {
	Err error
}

// Error implements the error interface
func (e TransientError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error
func (e TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable
func NewTransientError(err error) TransientError { return TransientError{Err: err} }

// IsTransient reports whether err should be retried: explicit
// TransientError wrappers, network errors, and deadline expiry qualify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient TransientError
	if errors.As(err, &transient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
