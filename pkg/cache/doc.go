// Package cache implements a hybrid memoization cache for tool operations.
//
// Results of repeatable operations (file reads, directory listings,
// searches, shell commands, remote fetches, and agent research tasks) are
// stored so that identical (or, for remote operations, semantically
// similar) requests are served from storage instead of being re-executed.
//
// Three backends share the work:
//
//   - a local file backend for exact matches on filesystem-scoped
//     operations, invalidated by mtime or source-control revision
//   - a Redis backend for exact matches on remote operations, with native
//     key expiry
//   - a Qdrant-backed similarity backend that matches paraphrased remote
//     and agent requests by embedding cosine similarity
//
// The Manager facade routes each operation kind to its backends. Every
// backend call runs behind the resilience wrapper: a cache failure of any
// kind degrades to a miss, never to an error the caller can see.
package cache
