package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		root     string
		path     string
		within   bool
		strictly bool
	}{
		{"same path", "/tmp/ws", "/tmp/ws", true, false},
		{"child", "/tmp/ws", "/tmp/ws/repo", true, true},
		{"nested child", "/tmp/ws", "/tmp/ws/a/b/c", true, true},
		{"sibling with shared prefix", "/tmp/ws", "/tmp/ws2", false, false},
		{"parent", "/tmp/ws", "/tmp", false, false},
		{"dotdot collapses outside", "/tmp/ws", "/tmp/ws/../etc", false, false},
		{"trailing slash root", "/tmp/ws/", "/tmp/ws/x", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.within, IsWithin(tt.root, tt.path))
			assert.Equal(t, tt.strictly, IsStrictlyWithin(tt.root, tt.path))
		})
	}
}

func TestIsTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected bool
	}{
		{"a.txt", false},
		{"dir/a.txt", false},
		{"./dir/a.txt", false},
		{"dir/../a.txt", false},
		{"", false},
		{"../../etc/passwd", true},
		{"..", true},
		{"dir/../../x", true},
		{"/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTraversal(tt.name))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	t.Run("existing directory resolves symlinks", func(t *testing.T) {
		base := t.TempDir()
		realDir := filepath.Join(base, "real")
		require.NoError(t, os.Mkdir(realDir, 0o755))
		link := filepath.Join(base, "link")
		require.NoError(t, os.Symlink(realDir, link))

		got, err := Canonicalize(link)
		require.NoError(t, err)

		want, err := filepath.EvalSymlinks(realDir)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("missing suffix is kept", func(t *testing.T) {
		base := t.TempDir()
		resolvedBase, err := filepath.EvalSymlinks(base)
		require.NoError(t, err)

		got, err := Canonicalize(filepath.Join(base, "missing", "deeper"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(resolvedBase, "missing", "deeper"), got)
	})

	t.Run("symlinked ancestor escaping root is exposed", func(t *testing.T) {
		root := t.TempDir()
		outside := t.TempDir()
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

		got, err := Canonicalize(filepath.Join(root, "escape", "repo"))
		require.NoError(t, err)

		resolvedRoot, err := filepath.EvalSymlinks(root)
		require.NoError(t, err)
		assert.False(t, IsWithin(resolvedRoot, got))
	})

	t.Run("dotdot is collapsed", func(t *testing.T) {
		base := t.TempDir()
		resolvedBase, err := filepath.EvalSymlinks(base)
		require.NoError(t, err)

		got, err := Canonicalize(filepath.Join(base, "a", "..", "b"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(resolvedBase, "b"), got)
	})
}

func TestIsHidden(t *testing.T) {
	t.Parallel()

	assert.True(t, IsHidden(".env"))
	assert.True(t, IsHidden(".git"))
	assert.False(t, IsHidden("main.go"))
	assert.False(t, IsHidden("."))
	assert.False(t, IsHidden(".."))
	assert.False(t, IsHidden(""))
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	t.Run("creates directory", func(t *testing.T) {
		tempDir := t.TempDir()
		testPath := filepath.Join(tempDir, "subdir", "file.txt")

		err := EnsureDir(testPath)
		require.NoError(t, err)

		// Check that the directory was created
		info, err := os.Stat(filepath.Dir(testPath))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("existing directory", func(t *testing.T) {
		tempDir := t.TempDir()
		testPath := filepath.Join(tempDir, "file.txt")

		err := EnsureDir(testPath)
		require.NoError(t, err)

		// Should not error if directory already exists
		err = EnsureDir(testPath)
		require.NoError(t, err)
	})
}

func TestExpandPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "home directory with slash",
			input:    "~/test",
			expected: filepath.Join(os.Getenv("HOME"), "test"),
		},
		{
			name:     "home directory only",
			input:    "~",
			expected: os.Getenv("HOME"),
		},
		{
			name:     "regular path",
			input:    "/tmp/test",
			expected: "/tmp/test",
		},
		{
			name:     "relative path",
			input:    "./test",
			expected: "./test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExpandPath(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
