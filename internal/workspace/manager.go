// Package workspace creates and disposes of the per-request scratch
// directories that hold untrusted retrieved content.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// DefaultPrefix names workspace directories when Options.Prefix is empty
const DefaultPrefix = "reposcan-"

// Handle is an exclusively owned workspace directory
type Handle struct {
	ID        string
	Root      string // absolute, symlink-free
	CreatedAt time.Time

	disposed atomic.Bool
}

// Disposed reports whether the workspace has been destroyed
func (h *Handle) Disposed() bool {
	return h.disposed.Load()
}

// Resolve returns the absolute path of rel inside the workspace.
// It refuses absolute names, names that climb above the root, and any
// lookup after the workspace was destroyed.
func (h *Handle) Resolve(rel string) (string, error) {
	if h.Disposed() {
		return "", domain.ErrWorkspaceDisposed
	}
	if utils.IsTraversal(rel) {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsafePath, rel)
	}
	return filepath.Join(h.Root, filepath.FromSlash(rel)), nil
}

// Scope is a Handle narrowed to one directory inside the workspace
type Scope struct {
	handle *Handle
	prefix string
}

// Scope returns a resolver for paths relative to dir, which must be the
// workspace root or lie below it.
func (h *Handle) Scope(dir string) (*Scope, error) {
	rel, err := filepath.Rel(h.Root, dir)
	if err != nil || utils.IsTraversal(rel) {
		return nil, fmt.Errorf("%w: %s is outside the workspace", domain.ErrUnsafePath, dir)
	}
	if rel == "." {
		rel = ""
	}
	return &Scope{handle: h, prefix: filepath.ToSlash(rel)}, nil
}

// Resolve returns the absolute path of rel inside the scoped directory
func (s *Scope) Resolve(rel string) (string, error) {
	if utils.IsTraversal(rel) {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsafePath, rel)
	}
	return s.handle.Resolve(path.Join(s.prefix, filepath.ToSlash(rel)))
}

// Options configures a Manager
type Options struct {
	BaseDir string
	Prefix  string
	Logger  *utils.Logger
}

// Manager creates and destroys workspaces under one base directory
type Manager struct {
	baseDir string
	prefix  string
	logger  *utils.Logger
	now     func() time.Time

	mu   sync.Mutex
	live map[string]struct{}
}

// NewManager creates a workspace manager rooted at opts.BaseDir
func NewManager(opts Options) (*Manager, error) {
	base := strings.TrimSpace(opts.BaseDir)
	if base == "" {
		base = os.TempDir()
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, `/\`) {
		return nil, fmt.Errorf("workspace prefix %q must not contain path separators", prefix)
	}

	return &Manager{
		baseDir: filepath.Clean(base),
		prefix:  prefix,
		logger:  utils.OrNop(opts.Logger).WithComponent("workspace"),
		now:     time.Now,
		live:    make(map[string]struct{}),
	}, nil
}

// BaseDir returns the directory workspaces are created in
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Create allocates a fresh, uniquely named workspace directory
func (m *Manager) Create(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPipelineError(domain.KindCancelled, "", err)
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, domain.NewPipelineError(domain.KindWorkspaceCreateFailed, m.baseDir,
			fmt.Errorf("create workspace base directory: %w", err))
	}

	now := m.now()
	id := fmt.Sprintf("%s%d-%s", m.prefix, now.UnixNano(), uuid.NewString()[:8])
	path := filepath.Join(m.baseDir, id)

	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, domain.NewPipelineError(domain.KindWorkspaceCreateFailed, path,
			fmt.Errorf("create workspace: %w", err))
	}

	root, err := filepath.EvalSymlinks(path)
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, domain.NewPipelineError(domain.KindWorkspaceCreateFailed, path,
			fmt.Errorf("resolve workspace root: %w", err))
	}

	m.mu.Lock()
	m.live[id] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug().Str("workspace", id).Str("root", root).Msg("Workspace created")

	return &Handle{ID: id, Root: root, CreatedAt: now}, nil
}

// Destroy recursively deletes the workspace. Calling it more than once
// is a no-op. Failures are logged and returned for the caller to log.
func (m *Manager) Destroy(h *Handle) error {
	if h == nil || !h.disposed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	delete(m.live, h.ID)
	m.mu.Unlock()

	err := os.RemoveAll(h.Root)
	if err != nil {
		// Hostile content may leave directories without write permission
		restorePermissions(h.Root)
		err = os.RemoveAll(h.Root)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("workspace", h.ID).Msg("Failed to remove workspace")
		return fmt.Errorf("remove workspace %s: %w", h.ID, err)
	}

	m.logger.Debug().Str("workspace", h.ID).Msg("Workspace destroyed")
	return nil
}

// Sweep removes workspaces left behind by crashed runs: directories under
// the base directory carrying this manager's prefix, not owned by a live
// handle, and last modified more than olderThan ago.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), m.prefix) {
			continue
		}
		if m.isLive(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			restorePermissions(path)
			if err := os.RemoveAll(path); err != nil {
				m.logger.Warn().Err(err).Str("workspace", entry.Name()).Msg("Failed to sweep workspace")
				continue
			}
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Swept stale workspaces")
	}
	return removed, nil
}

func (m *Manager) isLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

// restorePermissions makes every directory under root owner-accessible again
func restorePermissions(root string) {
	_ = os.Chmod(root, 0o700)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if d != nil && d.IsDir() {
			_ = os.Chmod(path, 0o700)
		}
		return nil
	})
}
