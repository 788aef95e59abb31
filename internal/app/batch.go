package app

import (
	"context"
	"fmt"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/manifest"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one manifest source
type BatchResult struct {
	Source   manifest.Source
	Response *domain.ScanResponse
	Err      error
	Duration time.Duration
}

// ManifestRequest converts a manifest source into pipeline arguments
func ManifestRequest(s manifest.Source) (domain.SourceDescriptor, domain.ScanQuery, domain.PipelineOptions, error) {
	kind := domain.SourceKind(s.Kind)
	if kind == "" {
		detected, err := DetectSourceKind(s.URL)
		if err != nil {
			return domain.SourceDescriptor{}, domain.ScanQuery{}, domain.PipelineOptions{}, err
		}
		kind = detected
	}
	target := s.URL
	if parsed, err := ParseSource(s.URL); err == nil {
		target = parsed.URL
	}

	src := domain.SourceDescriptor{
		Kind:            kind,
		URL:             target,
		Ref:             s.Ref,
		Subdir:          s.Subdir,
		StripComponents: s.StripComponents,
	}

	// no keywords lets the orchestrator apply its configured set
	query := domain.ScanQuery{Kind: domain.QueryKeywords}
	if len(s.Keywords) > 0 {
		query = domain.NewKeywordQuery(s.Keywords...)
	}
	if s.Query != "" {
		query = domain.NewSubstringQuery(s.Query)
	}

	opts := domain.PipelineOptions{
		FollowHiddenFiles:   s.Hidden,
		ExtraIgnorePatterns: s.Ignore,
	}
	return src, query, opts, nil
}

// RunManifest scans every manifest source with bounded concurrency.
// Results keep manifest order. Unless continue_on_error is set, the first
// failure cancels the remaining sources and is returned. onResult, when
// set, is called as each source finishes.
func (o *Orchestrator) RunManifest(ctx context.Context, cfg *manifest.Config, onResult func(BatchResult)) ([]BatchResult, error) {
	start := time.Now()
	total := len(cfg.Sources)
	results := make([]BatchResult, total)

	o.logger.Info().
		Int("sources", total).
		Bool("continue_on_error", cfg.Options.ContinueOnError).
		Int("concurrency", cfg.Options.Concurrency).
		Msg("Starting manifest execution")

	group, gctx := errgroup.WithContext(ctx)
	runCtx := ctx
	if !cfg.Options.ContinueOnError {
		runCtx = gctx
	}
	limit := cfg.Options.Concurrency
	if limit <= 0 {
		limit = manifest.DefaultOptions().Concurrency
	}
	group.SetLimit(limit)

	for i, source := range cfg.Sources {
		group.Go(func() error {
			began := time.Now()
			res := BatchResult{Source: source}

			src, query, opts, err := ManifestRequest(source)
			if err != nil {
				res.Err = domain.NewPipelineError(domain.KindInvalidRequest, "", err)
			} else {
				res.Response, res.Err = o.Run(runCtx, src, query, opts)
			}
			res.Duration = time.Since(began)
			results[i] = res

			if onResult != nil {
				onResult(res)
			}

			if res.Err != nil {
				o.logger.Error().
					Err(res.Err).
					Int("source_idx", i).
					Str("source_url", source.URL).
					Msg("Source scan failed")
				if !cfg.Options.ContinueOnError {
					return fmt.Errorf("source %s failed: %w", source.Name(), res.Err)
				}
			}
			return nil
		})
	}

	firstErr := group.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	o.logger.Info().
		Dur("total_duration", time.Since(start)).
		Int("total", total).
		Int("success", total-failed).
		Int("failed", failed).
		Msg("Manifest execution completed")

	if firstErr != nil {
		return results, firstErr
	}
	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}
