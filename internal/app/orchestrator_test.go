package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/quantmind-br/reposcan/internal/config"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/domain/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNewOrchestrator(t *testing.T) {
	t.Run("requires config", func(t *testing.T) {
		_, err := NewOrchestrator(OrchestratorOptions{})
		assert.Error(t, err)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Retrieval.Cloner = "svn"

		_, err := NewOrchestrator(OrchestratorOptions{Config: cfg})
		assert.Error(t, err)
	})

	t.Run("builds defaults", func(t *testing.T) {
		env := newTestEnv(t)

		assert.Len(t, env.orch.retrievers, 2)
		assert.Contains(t, env.orch.retrievers, domain.SourceArchive)
		assert.Contains(t, env.orch.retrievers, domain.SourceClone)
		assert.Equal(t, env.base, env.orch.Workspaces().BaseDir())
		assert.Equal(t, int64(100<<20), env.orch.Defaults().MaxRetrievedBytes)
	})
}

func TestRun_ArchiveSubstring(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, tarGz(t,
		tfile("a.txt", "x\nneedle here\n"),
		tfile("b.txt", "nothing here\n"),
		tfile("sub/c.txt", "a needle\nneedle again\n"),
	))

	resp, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.MatchRecord{
		{File: "a.txt", Line: 2, Text: "needle here"},
		{File: "sub/c.txt", Line: 1, Text: "a needle"},
		{File: "sub/c.txt", Line: 2, Text: "needle again"},
	}, resp.Matches)
	assert.Equal(t, 3, resp.FilesScanned)
	assert.Empty(t, resp.Diagnostics)
	assert.Nil(t, resp.Metrics)
	requireNoWorkspaces(t, env.base)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RunsTotal.WithLabelValues("archive", "substring", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.ActiveWorkspace))
}

func TestRun_Deterministic(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, tarGz(t,
		tfile("z/1.txt", "needle"),
		tfile("a.txt", "needle"),
		tfile("m/n/o.txt", "needle"),
	))

	first, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
	require.NoError(t, err)
	second, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, "a.txt", first.Matches[0].File)
	assert.Equal(t, "z/1.txt", first.Matches[2].File)
}

func TestRun_ArchiveStripAndIgnore(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, tarGz(t,
		tfile("repo-main/.gitignore", "build/\n*.log\n"),
		tfile("repo-main/main.go", "// TODO: needle\n"),
		tfile("repo-main/build/gen.go", "needle"),
		tfile("repo-main/debug.log", "needle"),
		tfile("repo-main/vendor/lib.go", "needle"),
		tfile("repo-main/.env", "needle"),
	))
	src := archiveSource(url)
	src.StripComponents = 1

	resp, err := env.orch.Run(context.Background(), src, domain.NewSubstringQuery("needle"),
		domain.PipelineOptions{ExtraIgnorePatterns: []string{"vendor/"}})
	require.NoError(t, err)

	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "main.go", resp.Matches[0].File)
	requireNoWorkspaces(t, env.base)
}

func TestRun_HiddenFiles(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, tarGz(t,
		tfile(".env", "needle"),
		tfile("visible.txt", "needle"),
	))

	resp, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("needle"),
		domain.PipelineOptions{FollowHiddenFiles: domain.Bool(true)})
	require.NoError(t, err)

	require.Len(t, resp.Matches, 2)
	assert.Equal(t, ".env", resp.Matches[0].File)
}

func TestRun_TarSlip(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, tarGz(t,
		tfile("ok.txt", "fine"),
		tfile("../../etc/passwd", "root:x:0:0"),
	))

	resp, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("root"), domain.PipelineOptions{})

	assert.Nil(t, resp)
	require.Error(t, err)
	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.KindUnsafeArchiveEntry, pe.Kind)
	assert.Equal(t, domain.StageExtract, pe.Stage)
	requireNoWorkspaces(t, env.base)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(env.base), "etc", "passwd"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ErrorsTotal.WithLabelValues("unsafe_archive_entry")))
}

func TestRun_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, make([]byte, 4096))

	resp, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("x"),
		domain.PipelineOptions{MaxRetrievedBytes: 1024})

	assert.Nil(t, resp)
	assert.Equal(t, domain.KindRetrievalTooLarge, domain.KindOf(err))
	assert.True(t, errors.Is(err, domain.ErrTooLarge))
	requireNoWorkspaces(t, env.base)
}

func TestRun_CorruptArchive(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, []byte{0x1f, 0x8b, 0x00, 0x01, 0x02})

	_, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("x"), domain.PipelineOptions{})

	assert.Equal(t, domain.KindExtractionFailed, domain.KindOf(err))
	requireNoWorkspaces(t, env.base)
}

func TestRun_ArchiveNotFound(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, nil)

	_, err := env.orch.Run(context.Background(), archiveSource(url+".missing"), domain.NewSubstringQuery("x"), domain.PipelineOptions{})

	assert.Equal(t, domain.KindRetrievalFailed, domain.KindOf(err))
	requireNoWorkspaces(t, env.base)
}

func TestRun_CloneKeywords(t *testing.T) {
	env := newTestEnv(t)
	env.client.files = map[string]string{
		"main.go":     "// TODO one\n// TODO TODO two\nfunc main() {}\n",
		"util.go":     "// FIXME\n",
		".git/config": "// TODO ignored",
	}

	resp, err := env.orch.Run(context.Background(), cloneSource(), domain.NewKeywordQuery("TODO", "FIXME"), domain.PipelineOptions{})
	require.NoError(t, err)

	require.NotNil(t, resp.Metrics)
	assert.Equal(t, 2, resp.Metrics.FilesScanned)
	assert.Equal(t, 4, resp.Metrics.TotalLines)
	assert.Equal(t, []domain.KeywordCount{{Keyword: "TODO", Lines: 2}, {Keyword: "FIXME", Lines: 1}}, resp.Metrics.Keywords)
	assert.Equal(t, 1, env.client.calls)
	requireNoWorkspaces(t, env.base)
}

func TestRun_ConfiguredKeywords(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *OrchestratorOptions) {
		cfg.Scan.Keywords = []string{"NOTE"}
	})
	env.client.files = map[string]string{"a.txt": "NOTE: x\nTODO\n"}

	resp, err := env.orch.Run(context.Background(), cloneSource(), domain.ScanQuery{Kind: domain.QueryKeywords}, domain.PipelineOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.KeywordCount{{Keyword: "NOTE", Lines: 1}}, resp.Metrics.Keywords)
	assert.Equal(t, []string{"NOTE"}, resp.Query.Keywords)
}

func TestRun_CloneSubdir(t *testing.T) {
	env := newTestEnv(t)
	env.client.files = map[string]string{"a.txt": "needle"}
	src := cloneSource()
	src.Subdir = "checkout"

	resp, err := env.orch.Run(context.Background(), src, domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
	require.NoError(t, err)

	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "a.txt", resp.Matches[0].File)
}

func TestRun_UnsafeCloneDestination(t *testing.T) {
	for _, subdir := range []string{"../escape", "a/../../escape", "/etc"} {
		t.Run(subdir, func(t *testing.T) {
			env := newTestEnv(t)
			src := cloneSource()
			src.Subdir = subdir

			_, err := env.orch.Run(context.Background(), src, domain.NewSubstringQuery("x"), domain.PipelineOptions{})

			assert.Equal(t, domain.KindUnsafeCloneDestination, domain.KindOf(err))
			assert.Equal(t, 0, env.client.calls, "clone tool must not run")
			requireNoWorkspaces(t, env.base)
		})
	}
}

func TestRun_CloneLocalRepositoryRefused(t *testing.T) {
	env := newTestEnv(t)
	src := domain.SourceDescriptor{Kind: domain.SourceClone, URL: "file://" + env.base}

	_, err := env.orch.Run(context.Background(), src, domain.NewSubstringQuery("x"), domain.PipelineOptions{})

	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	assert.Equal(t, 0, env.client.calls, "clone tool must not run")
	requireNoWorkspaces(t, env.base)
}

func TestRun_CloneFailure(t *testing.T) {
	env := newTestEnv(t)
	env.client.err = errors.New("exit status 128")

	_, err := env.orch.Run(context.Background(), cloneSource(), domain.NewSubstringQuery("x"), domain.PipelineOptions{})

	assert.Equal(t, domain.KindRetrievalFailed, domain.KindOf(err))
	assert.Contains(t, err.Error(), "repository not found")
	requireNoWorkspaces(t, env.base)
}

func TestRun_UnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	env := newTestEnv(t)
	env.client.files = map[string]string{
		"a.txt":      "needle",
		"secret.txt": "needle",
		"z.txt":      "needle",
	}
	env.client.setup = func(dest string) {
		_ = os.Chmod(filepath.Join(dest, "secret.txt"), 0o000)
	}

	resp, err := env.orch.Run(context.Background(), cloneSource(), domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
	require.NoError(t, err)

	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "a.txt", resp.Matches[0].File)
	assert.Equal(t, "z.txt", resp.Matches[1].File)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, domain.KindScanFileError, resp.Diagnostics[0].Kind)
	assert.Equal(t, "secret.txt", resp.Diagnostics[0].Path)
	assert.Equal(t, 1, resp.FilesSkipped)
	requireNoWorkspaces(t, env.base)
}

func TestRun_BinaryAndSymlinksSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.client.files = map[string]string{
		"a.txt":   "needle",
		"bin.dat": "needle\x00\x00",
	}
	env.client.setup = func(dest string) {
		_ = os.Symlink("/etc/hostname", filepath.Join(dest, "link"))
	}

	resp, err := env.orch.Run(context.Background(), cloneSource(), domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
	require.NoError(t, err)

	assert.Len(t, resp.Matches, 1)
	assert.Equal(t, 1, resp.FilesScanned)
	assert.Equal(t, 2, resp.FilesSkipped)
	assert.Empty(t, resp.Diagnostics)
}

func TestRun_InvalidRequest(t *testing.T) {
	tests := []struct {
		name  string
		src   domain.SourceDescriptor
		query domain.ScanQuery
	}{
		{"empty substring", archiveSource("https://example.com/a.tgz"), domain.NewSubstringQuery("")},
		{"empty url", archiveSource(" "), domain.NewSubstringQuery("x")},
		{"unknown kind", domain.SourceDescriptor{Kind: "svn", URL: "svn://x"}, domain.NewSubstringQuery("x")},
		{"bad query kind", archiveSource("https://example.com/a.tgz"), domain.ScanQuery{Kind: "regex"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			retriever := mocks.NewMockRetriever(ctrl)
			retriever.EXPECT().Kind().Return(domain.SourceArchive).AnyTimes()
			env := newTestEnv(t, func(_ *config.Config, o *OrchestratorOptions) {
				o.Retrievers = append(o.Retrievers, retriever)
			})

			_, err := env.orch.Run(context.Background(), tt.src, tt.query, domain.PipelineOptions{})

			var pe *domain.PipelineError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, domain.KindInvalidRequest, pe.Kind)
			assert.Equal(t, domain.StageValidate, pe.Stage)
			requireNoWorkspaces(t, env.base)
		})
	}
}

func TestRun_MockRetriever(t *testing.T) {
	t.Run("failure still destroys workspace", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		retriever := mocks.NewMockRetriever(ctrl)
		retriever.EXPECT().Kind().Return(domain.SourceArchive).AnyTimes()

		var root string
		retriever.EXPECT().
			Retrieve(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievedSource, error) {
				root = req.Root
				require.NoError(t, os.WriteFile(filepath.Join(req.Root, "partial"), []byte("x"), 0o644))
				return nil, domain.NewPipelineError(domain.KindRetrievalFailed, "", errors.New("connection reset"))
			})

		env := newTestEnv(t, func(_ *config.Config, o *OrchestratorOptions) {
			o.Retrievers = append(o.Retrievers, retriever)
		})

		_, err := env.orch.Run(context.Background(), archiveSource("https://example.com/a.tgz"), domain.NewSubstringQuery("x"), domain.PipelineOptions{})

		assert.Equal(t, domain.KindRetrievalFailed, domain.KindOf(err))
		require.NotEmpty(t, root)
		_, statErr := os.Stat(root)
		assert.True(t, os.IsNotExist(statErr))
		requireNoWorkspaces(t, env.base)
	})

	t.Run("request carries options", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		retriever := mocks.NewMockRetriever(ctrl)
		retriever.EXPECT().Kind().Return(domain.SourceArchive).AnyTimes()
		retriever.EXPECT().
			Retrieve(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievedSource, error) {
				assert.Equal(t, int64(2048), req.MaxBytes)
				assert.Equal(t, "https://github.com/owner/repo/archive/refs/heads/dev.tar.gz", req.Source.URL)
				assert.Equal(t, 1, req.Source.StripComponents)
				_, ok := ctx.Deadline()
				assert.True(t, ok, "retrieval runs under a deadline")
				return nil, domain.NewPipelineError(domain.KindRetrievalFailed, "", errors.New("stop"))
			})

		env := newTestEnv(t, func(_ *config.Config, o *OrchestratorOptions) {
			o.Retrievers = append(o.Retrievers, retriever)
		})
		src := archiveSource("https://github.com/owner/repo")
		src.Ref = "dev"

		_, err := env.orch.Run(context.Background(), src, domain.NewSubstringQuery("x"), domain.PipelineOptions{MaxRetrievedBytes: 2048})
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		retriever := mocks.NewMockRetriever(ctrl)
		retriever.EXPECT().Kind().Return(domain.SourceArchive).AnyTimes()
		retriever.EXPECT().
			Retrieve(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievedSource, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

		env := newTestEnv(t, func(_ *config.Config, o *OrchestratorOptions) {
			o.Retrievers = append(o.Retrievers, retriever)
		})

		_, err := env.orch.Run(context.Background(), archiveSource("https://example.com/a.tgz"), domain.NewSubstringQuery("x"),
			domain.PipelineOptions{RetrievalTimeout: 50 * time.Millisecond})

		assert.Equal(t, domain.KindRetrievalTimeout, domain.KindOf(err))
		assert.True(t, errors.Is(err, domain.ErrTimeout))
		requireNoWorkspaces(t, env.base)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ctrl := gomock.NewController(t)
		retriever := mocks.NewMockRetriever(ctrl)
		retriever.EXPECT().Kind().Return(domain.SourceArchive).AnyTimes()
		retriever.EXPECT().
			Retrieve(gomock.Any(), gomock.Any()).
			DoAndReturn(func(rctx context.Context, req domain.RetrieveRequest) (*domain.RetrievedSource, error) {
				cancel()
				<-rctx.Done()
				return nil, rctx.Err()
			})

		env := newTestEnv(t, func(_ *config.Config, o *OrchestratorOptions) {
			o.Retrievers = append(o.Retrievers, retriever)
		})

		_, err := env.orch.Run(ctx, archiveSource("https://example.com/a.tgz"), domain.NewSubstringQuery("x"), domain.PipelineOptions{})

		assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
		requireNoWorkspaces(t, env.base)
	})
}

func TestRun_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	url := serveArchive(t, tarGz(t, tfile("a.txt", "x\nneedle\n")))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.orch.Run(context.Background(), archiveSource(url), domain.NewSubstringQuery("needle"), domain.PipelineOptions{})
			if err == nil && len(resp.Matches) != 1 {
				err = errors.New("unexpected matches")
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	requireNoWorkspaces(t, env.base)
}

func TestRetrievalError(t *testing.T) {
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, domain.KindCancelled, domain.KindOf(retrievalError(cancelled, errors.New("x"))))
	assert.Equal(t, domain.KindRetrievalTimeout, domain.KindOf(retrievalError(ctx, context.DeadlineExceeded)))
	assert.Equal(t, domain.KindRetrievalFailed, domain.KindOf(retrievalError(ctx, errors.New("boom"))))
	assert.Equal(t, domain.KindRetrievalTooLarge,
		domain.KindOf(retrievalError(ctx, domain.NewPipelineError(domain.KindRetrievalTooLarge, "", domain.ErrTooLarge))))
}
