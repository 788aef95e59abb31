package app

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/quantmind-br/reposcan/internal/config"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/git"
	"github.com/quantmind-br/reposcan/internal/metrics"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func tfile(name, body string) tarEntry { return tarEntry{name: name, body: body, typeflag: tar.TypeReg} }

func tarGz(t *testing.T, entries ...tarEntry) []byte {
	t.Helper()
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.typeflag, Linkname: e.linkname, Mode: 0o644}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// serveArchive serves body at /src.tar.gz and returns its URL
func serveArchive(t *testing.T, body []byte) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/src.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/src.tar.gz"
}

// fakeClient materializes a fixed tree instead of cloning
type fakeClient struct {
	files map[string]string
	err   error
	calls int
	setup func(dest string)
}

func (c *fakeClient) Clone(ctx context.Context, dest string, opts git.CloneOptions) (string, error) {
	c.calls++
	if c.err != nil {
		return "fatal: repository not found", c.err
	}
	for name, body := range c.files {
		p := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return "", err
		}
	}
	if c.setup != nil {
		c.setup(dest)
	}
	return "Cloning into '" + dest + "'...", nil
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Workspace.BaseDir = base
	cfg.Retrieval.MaxRetries = 0
	return cfg, base
}

type testEnv struct {
	orch    *Orchestrator
	base    string
	client  *fakeClient
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config, *OrchestratorOptions)) *testEnv {
	t.Helper()
	cfg, base := testConfig(t)
	client := &fakeClient{}
	m := metrics.New()
	opts := OrchestratorOptions{Config: cfg, GitClient: client, Metrics: m}
	for _, fn := range mutate {
		fn(cfg, &opts)
	}

	orch, err := NewOrchestrator(opts)
	require.NoError(t, err)
	return &testEnv{orch: orch, base: base, client: client, metrics: m}
}

// requireNoWorkspaces asserts every workspace under base was removed
func requireNoWorkspaces(t *testing.T, base string) {
	t.Helper()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Empty(t, names, "workspaces left behind")
}

func archiveSource(url string) domain.SourceDescriptor {
	return domain.SourceDescriptor{Kind: domain.SourceArchive, URL: url}
}

func cloneSource() domain.SourceDescriptor {
	return domain.SourceDescriptor{Kind: domain.SourceClone, URL: "https://example.com/team/repo.git"}
}
