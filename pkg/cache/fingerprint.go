package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Time bucket widths used in key derivation. A bucket rolling over is what
// bounds the freshness of results that have no filesystem or
// source-control witness.
const (
	remoteBucket = 30 * time.Minute
	agentBucket  = time.Hour
	shellBucket  = time.Minute
)

// cacheableShellPrefixes is the allow-list of read-only command prefixes
// that are safe to memoize. Anything else is never cached.
var cacheableShellPrefixes = []string{
	"git status",
	"git log",
	"git diff",
	"git show",
	"git branch",
	"ls -",
	"cat ",
	"head ",
	"tail ",
	"wc -",
	"du -",
	"df -",
	"pwd",
	"whoami",
	"uname",
	"env",
	"printenv",
}

// cacheableAgentCategories is the single allow-list of agent task
// categories worth caching. The fingerprinter and the router both consult
// this set.
var cacheableAgentCategories = map[string]struct{}{
	"deep-researcher":   {},
	"cli-docs-explorer": {},
	"docs-guide":        {},
	"searcher":          {},
}

// CacheableShellCommand reports whether command is on the allow-list
func CacheableShellCommand(command string) bool {
	command = strings.TrimSpace(command)
	for _, prefix := range cacheableShellPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

// CacheableAgentCategory reports whether category is on the allow-list
func CacheableAgentCategory(category string) bool {
	_, ok := cacheableAgentCategories[category]
	return ok
}

// Fingerprinter derives cache keys and invalidation descriptors. Key
// derivation is pure apart from reading filesystem metadata and the
// source-control HEAD, both of which fail open to "not cacheable" or a
// time-bucket witness rather than raising.
type Fingerprinter struct {
	project *ProjectContext
	now     func() time.Time
}

// NewFingerprinter creates a Fingerprinter scoped to the given project
func NewFingerprinter(project *ProjectContext) *Fingerprinter {
	return &Fingerprinter{project: project, now: time.Now}
}

// DeriveKey returns the deterministic cache key for a request, or
// ErrNotCacheable when the request must not be cached: unsupported kind,
// missing file or directory, command or category off the allow-list, or a
// missing mandatory identifying parameter.
func (f *Fingerprinter) DeriveKey(req OperationRequest) (string, error) {
	data, err := f.keyData(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(f.project.ID() + ":" + data))
	return hex.EncodeToString(sum[:]), nil
}

func (f *Fingerprinter) keyData(req OperationRequest) (string, error) {
	switch req.Kind {
	case KindReadFile:
		path := req.Param("path")
		if path == "" {
			return "", ErrNotCacheable
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", ErrNotCacheable
		}
		return fmt.Sprintf("ReadFile:%s:%d:%v:%v",
			path, info.ModTime().UnixNano(), req.Parameters["offset"], req.Parameters["limit"]), nil

	case KindListDir:
		path := req.Param("path")
		if path == "" {
			path = "."
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return "", ErrNotCacheable
		}
		return fmt.Sprintf("ListDir:%s:%s:%d",
			req.Param("pattern"), path, info.ModTime().UnixNano()), nil

	case KindSearch:
		return fmt.Sprintf("Search:%s:%s:%s",
			f.project.HeadRevision(), req.Param("pattern"), canonicalParams(req.Parameters)), nil

	case KindShellCommand:
		command := req.Param("command")
		if !CacheableShellCommand(command) {
			return "", ErrNotCacheable
		}
		if strings.HasPrefix(strings.TrimSpace(command), "git") {
			return fmt.Sprintf("ShellCommand:%s:%s", command, f.project.HeadRevision()), nil
		}
		return fmt.Sprintf("ShellCommand:%s:%d", command, f.bucket(shellBucket)), nil

	case KindRemoteFetch:
		if req.Param("url") == "" {
			return "", ErrNotCacheable
		}
		return fmt.Sprintf("RemoteFetch:%s:%d", canonicalParams(req.Parameters), f.bucket(remoteBucket)), nil

	case KindRemoteSearch:
		if req.Param("query") == "" {
			return "", ErrNotCacheable
		}
		return fmt.Sprintf("RemoteSearch:%s:%d", canonicalParams(req.Parameters), f.bucket(remoteBucket)), nil

	case KindAgentTask:
		category := req.Param("category")
		if !CacheableAgentCategory(category) {
			return "", ErrNotCacheable
		}
		return fmt.Sprintf("AgentTask:%s:%s:%d", category, req.Param("prompt"), f.bucket(agentBucket)), nil

	default:
		return "", ErrNotCacheable
	}
}

// DeriveDescriptor captures the freshness witness for a request at store
// time.
func (f *Fingerprinter) DeriveDescriptor(req OperationRequest) InvalidationDescriptor {
	var desc InvalidationDescriptor

	switch req.Kind {
	case KindReadFile:
		if info, err := os.Stat(req.Param("path")); err == nil {
			desc.FileMTime = info.ModTime().UnixNano()
		}
	case KindListDir:
		path := req.Param("path")
		if path == "" {
			path = "."
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			desc.DirMTime = info.ModTime().UnixNano()
		}
	case KindSearch, KindShellCommand:
		desc.Revision = f.project.HeadRevision()
	case KindRemoteFetch, KindRemoteSearch:
		desc.TimeBucket = f.bucket(remoteBucket)
	case KindAgentTask:
		desc.TimeBucket = f.bucket(agentBucket)
	}

	return desc
}

// Fresh reports whether a stored descriptor still matches the current
// state of the world for the same request.
func (f *Fingerprinter) Fresh(req OperationRequest, stored InvalidationDescriptor) bool {
	current := f.DeriveDescriptor(req)

	switch req.Kind {
	case KindReadFile:
		return current.FileMTime != 0 && current.FileMTime == stored.FileMTime
	case KindListDir:
		return current.DirMTime != 0 && current.DirMTime == stored.DirMTime
	case KindSearch, KindShellCommand:
		return current.Revision == stored.Revision
	case KindRemoteFetch, KindRemoteSearch, KindAgentTask:
		return current.TimeBucket == stored.TimeBucket
	}
	return true
}

func (f *Fingerprinter) bucket(width time.Duration) int64 {
	return f.now().Unix() / int64(width.Seconds())
}

// canonicalParams serializes parameters deterministically: JSON with
// object keys in sorted order.
func canonicalParams(params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}
