package app

import (
	"context"
	"sync"
	"testing"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRequest(t *testing.T) {
	t.Run("substring query wins", func(t *testing.T) {
		src, query, opts, err := ManifestRequest(manifest.Source{
			URL:      "https://example.com/src.tar.gz",
			Query:    "needle",
			Keywords: []string{"TODO"},
			Ignore:   []string{"vendor/"},
			Hidden:   domain.Bool(true),
		})
		require.NoError(t, err)

		assert.Equal(t, domain.SourceArchive, src.Kind)
		assert.Equal(t, domain.NewSubstringQuery("needle"), query)
		assert.Equal(t, []string{"vendor/"}, opts.ExtraIgnorePatterns)
		assert.True(t, opts.Hidden())
	})

	t.Run("keywords", func(t *testing.T) {
		_, query, _, err := ManifestRequest(manifest.Source{URL: "https://example.com/a.tgz", Keywords: []string{"NOTE"}})
		require.NoError(t, err)

		assert.Equal(t, domain.QueryKeywords, query.Kind)
		assert.Equal(t, []string{"NOTE"}, query.Keywords)
	})

	t.Run("no query defers keywords", func(t *testing.T) {
		_, query, _, err := ManifestRequest(manifest.Source{URL: "https://example.com/a.tgz"})
		require.NoError(t, err)

		assert.Equal(t, domain.QueryKeywords, query.Kind)
		assert.Empty(t, query.Keywords)
	})

	t.Run("prefix and explicit kind", func(t *testing.T) {
		src, _, _, err := ManifestRequest(manifest.Source{URL: "git:https://example.com/team/repo", Ref: "dev", Subdir: "co"})
		require.NoError(t, err)
		assert.Equal(t, domain.SourceClone, src.Kind)
		assert.Equal(t, "https://example.com/team/repo", src.URL)
		assert.Equal(t, "dev", src.Ref)
		assert.Equal(t, "co", src.Subdir)

		src, _, _, err = ManifestRequest(manifest.Source{URL: "https://github.com/owner/repo", Kind: "archive", StripComponents: 2})
		require.NoError(t, err)
		assert.Equal(t, domain.SourceArchive, src.Kind)
		assert.Equal(t, 2, src.StripComponents)
	})

	t.Run("undetectable", func(t *testing.T) {
		_, _, _, err := ManifestRequest(manifest.Source{URL: "not a url"})
		assert.ErrorIs(t, err, domain.ErrUnknownSource)
	})
}

func TestRunManifest(t *testing.T) {
	good := serveArchive(t, tarGz(t, tfile("a.txt", "x\nneedle\n")))
	bad := good + ".missing"

	t.Run("all succeed in order", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := &manifest.Config{
			Sources: []manifest.Source{
				{URL: good, Query: "needle"},
				{URL: good, Query: "x"},
				{URL: good, Keywords: []string{"needle"}},
			},
			Options: manifest.Options{Concurrency: 3},
		}

		var mu sync.Mutex
		seen := 0
		results, err := env.orch.RunManifest(context.Background(), cfg, func(BatchResult) {
			mu.Lock()
			seen++
			mu.Unlock()
		})
		require.NoError(t, err)

		require.Len(t, results, 3)
		assert.Equal(t, 3, seen)
		for _, r := range results {
			require.NoError(t, r.Err)
			require.NotNil(t, r.Response)
		}
		assert.Equal(t, "needle", results[0].Response.Matches[0].Text)
		assert.Equal(t, "x", results[1].Response.Matches[0].Text)
		require.NotNil(t, results[2].Response.Metrics)
		assert.Equal(t, 1, results[2].Response.Metrics.Keywords[0].Lines)
		requireNoWorkspaces(t, env.base)
	})

	t.Run("continue on error", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := &manifest.Config{
			Sources: []manifest.Source{
				{URL: bad, Query: "needle"},
				{URL: good, Query: "needle"},
			},
			Options: manifest.Options{ContinueOnError: true, Concurrency: 1},
		}

		results, err := env.orch.RunManifest(context.Background(), cfg, nil)
		require.NoError(t, err)

		require.Len(t, results, 2)
		assert.Equal(t, domain.KindRetrievalFailed, domain.KindOf(results[0].Err))
		assert.Nil(t, results[0].Response)
		assert.NoError(t, results[1].Err)
		assert.Len(t, results[1].Response.Matches, 1)
		requireNoWorkspaces(t, env.base)
	})

	t.Run("fail fast", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := &manifest.Config{
			Sources: []manifest.Source{
				{URL: bad, Query: "needle"},
				{URL: good, Query: "needle"},
			},
			Options: manifest.Options{Concurrency: 1},
		}

		results, err := env.orch.RunManifest(context.Background(), cfg, nil)
		require.Error(t, err)

		assert.Contains(t, err.Error(), "source "+bad+" failed")
		assert.Equal(t, domain.KindRetrievalFailed, domain.KindOf(err))
		assert.Len(t, results, 2)
		requireNoWorkspaces(t, env.base)
	})

	t.Run("invalid source", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := &manifest.Config{
			Sources: []manifest.Source{{URL: "not a url", Query: "x"}},
			Options: manifest.Options{ContinueOnError: true},
		}

		results, err := env.orch.RunManifest(context.Background(), cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(results[0].Err))
	})
}
