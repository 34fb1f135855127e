package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
)

// ProjectContext identifies the project a request belongs to and answers
// the cheap source-control questions key derivation needs. Results are
// cached for the lifetime of the context, which matches a single process
// invocation.
type ProjectContext struct {
	workingDir string

	idOnce sync.Once
	id     string

	revOnce sync.Once
	rev     string
}

// NewProjectContext creates a ProjectContext rooted at dir. An empty dir
// means the process working directory.
func NewProjectContext(dir string) *ProjectContext {
	if dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd
		} else {
			dir = "."
		}
	}
	return &ProjectContext{workingDir: dir}
}

// WorkingDir returns the directory the context was created for
func (p *ProjectContext) WorkingDir() string { return p.workingDir }

// ID returns an 8-character project identifier. The most stable available
// identity wins: the origin remote URL, then the repository root path,
// then the working directory itself. Two projects never share an ID unless
// they genuinely are the same project.
func (p *ProjectContext) ID() string {
	p.idOnce.Do(func() {
		p.id = shortHash(p.identity())
	})
	return p.id
}

func (p *ProjectContext) identity() string {
	repo, err := p.openRepo()
	if err == nil {
		if remote, err := repo.Remote(git.DefaultRemoteName); err == nil {
			if urls := remote.Config().URLs; len(urls) > 0 && urls[0] != "" {
				return urls[0]
			}
		}
		if wt, err := repo.Worktree(); err == nil {
			if root := wt.Filesystem.Root(); root != "" {
				return root
			}
		}
	}
	if abs, err := filepath.Abs(p.workingDir); err == nil {
		return abs
	}
	return p.workingDir
}

// HeadRevision returns the current source-control HEAD id, truncated to 12
// characters. Outside a repository, or on any error, it falls back to a
// per-minute time bucket so shell and search keys still expire rather
// than pinning forever.
func (p *ProjectContext) HeadRevision() string {
	p.revOnce.Do(func() {
		p.rev = p.resolveRevision()
	})
	return p.rev
}

func (p *ProjectContext) resolveRevision() string {
	repo, err := p.openRepo()
	if err == nil {
		if head, err := repo.Head(); err == nil {
			sha := head.Hash().String()
			if len(sha) > 12 {
				sha = sha[:12]
			}
			return sha
		}
	}
	return fmt.Sprintf("t%d", time.Now().Unix()/60)
}

func (p *ProjectContext) openRepo() (*git.Repository, error) {
	return git.PlainOpenWithOptions(p.workingDir, &git.PlainOpenOptions{DetectDotGit: true})
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
