package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	t.Run("default prefix", func(t *testing.T) {
		m, err := NewManager(Options{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, DefaultPrefix, m.prefix)
	})

	t.Run("prefix with separator", func(t *testing.T) {
		_, err := NewManager(Options{BaseDir: t.TempDir(), Prefix: "a/b"})
		assert.Error(t, err)
	})

	t.Run("empty base dir uses temp dir", func(t *testing.T) {
		m, err := NewManager(Options{})
		require.NoError(t, err)
		assert.Equal(t, filepath.Clean(os.TempDir()), m.BaseDir())
	})
}

func TestManager_Create(t *testing.T) {
	m := newTestManager(t)

	h, err := m.Create(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Destroy(h) })

	assert.True(t, strings.HasPrefix(h.ID, DefaultPrefix))
	assert.True(t, filepath.IsAbs(h.Root))
	assert.False(t, h.Disposed())

	info, err := os.Stat(h.Root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	resolved, err := filepath.EvalSymlinks(h.Root)
	require.NoError(t, err)
	assert.Equal(t, resolved, h.Root)
}

func TestManager_Create_Unique(t *testing.T) {
	m := newTestManager(t)

	const n = 32
	var (
		mu    sync.Mutex
		roots = make(map[string]bool)
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Create(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			roots[h.Root] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, roots, n)
}

func TestManager_Create_Cancelled(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx)
	require.Error(t, err)
	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
}

func TestManager_Create_BaseIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	m, err := NewManager(Options{BaseDir: file})
	require.NoError(t, err)

	_, err = m.Create(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindWorkspaceCreateFailed, domain.KindOf(err))
}

func TestManager_Destroy(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(h.Root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.Root, "a", "b", "c.txt"), []byte("data"), 0o644))

	require.NoError(t, m.Destroy(h))
	assert.True(t, h.Disposed())
	_, err = os.Stat(h.Root)
	assert.True(t, os.IsNotExist(err))

	// Second call is a no-op
	assert.NoError(t, m.Destroy(h))
	assert.NoError(t, m.Destroy(nil))
}

func TestManager_Destroy_RestrictivePermissions(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	m := newTestManager(t)
	h, err := m.Create(context.Background())
	require.NoError(t, err)

	locked := filepath.Join(h.Root, "locked")
	require.NoError(t, os.MkdirAll(filepath.Join(locked, "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "inner", "f"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(filepath.Join(locked, "inner"), 0o500))
	require.NoError(t, os.Chmod(locked, 0o500))

	require.NoError(t, m.Destroy(h))
	_, err = os.Stat(h.Root)
	assert.True(t, os.IsNotExist(err))
}

func TestHandle_Resolve(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Create(context.Background())
	require.NoError(t, err)

	p, err := h.Resolve("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.Root, "src", "main.go"), p)

	_, err = h.Resolve("../../etc/passwd")
	assert.True(t, errors.Is(err, domain.ErrUnsafePath))

	_, err = h.Resolve("/etc/passwd")
	assert.True(t, errors.Is(err, domain.ErrUnsafePath))

	require.NoError(t, m.Destroy(h))
	_, err = h.Resolve("src/main.go")
	assert.True(t, errors.Is(err, domain.ErrWorkspaceDisposed))
}

func TestHandle_Scope(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Create(context.Background())
	require.NoError(t, err)

	root, err := h.Scope(h.Root)
	require.NoError(t, err)
	p, err := root.Resolve("a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.Root, "a.txt"), p)

	sub, err := h.Scope(filepath.Join(h.Root, "repo"))
	require.NoError(t, err)
	p, err = sub.Resolve("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.Root, "repo", "src", "main.go"), p)

	_, err = sub.Resolve("../outside")
	assert.True(t, errors.Is(err, domain.ErrUnsafePath))

	_, err = h.Scope(filepath.Dir(h.Root))
	assert.True(t, errors.Is(err, domain.ErrUnsafePath))

	require.NoError(t, m.Destroy(h))
	_, err = sub.Resolve("src/main.go")
	assert.True(t, errors.Is(err, domain.ErrWorkspaceDisposed))
}

func TestManager_Sweep(t *testing.T) {
	m := newTestManager(t)
	base := m.BaseDir()

	old := filepath.Join(base, DefaultPrefix+"1-aaaaaaaa")
	fresh := filepath.Join(base, DefaultPrefix+"2-bbbbbbbb")
	foreign := filepath.Join(base, "other-dir")
	for _, dir := range []string{old, fresh, foreign} {
		require.NoError(t, os.Mkdir(dir, 0o700))
	}

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(foreign, past, past))

	live, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(live.Root, past, past))
	t.Cleanup(func() { _ = m.Destroy(live) })

	removed, err := m.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, foreign)
	assert.DirExists(t, live.Root)
}

func TestManager_Sweep_InvalidArgs(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Sweep(context.Background(), 0)
	assert.Error(t, err)

	missing, err := NewManager(Options{BaseDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	n, err := missing.Sweep(context.Background(), time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
