package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quantmind-br/reposcan/internal/config"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/extract"
	"github.com/quantmind-br/reposcan/internal/fetcher"
	"github.com/quantmind-br/reposcan/internal/git"
	"github.com/quantmind-br/reposcan/internal/metrics"
	"github.com/quantmind-br/reposcan/internal/output"
	"github.com/quantmind-br/reposcan/internal/scanner"
	"github.com/quantmind-br/reposcan/internal/utils"
	"github.com/quantmind-br/reposcan/internal/walker"
	"github.com/quantmind-br/reposcan/internal/workspace"
)

// Orchestrator runs the ingestion-and-scan pipeline, one independent run per call
type Orchestrator struct {
	workspaces   *workspace.Manager
	retrievers   map[domain.SourceKind]domain.Retriever
	extractor    *extract.Extractor
	defaults     domain.PipelineOptions
	ignoreFiles  []string
	keywords     []string
	scanOpts     scanner.Options
	metrics      *metrics.Metrics
	logger       *utils.Logger
	showProgress bool
}

// OrchestratorOptions contains options for creating an orchestrator.
// Components left nil are built from Config.
type OrchestratorOptions struct {
	Config     *config.Config
	Logger     *utils.Logger
	Metrics    *metrics.Metrics
	Workspaces *workspace.Manager
	Retrievers []domain.Retriever
	GitClient  git.Client
	HTTPClient *http.Client
	// ShowProgress renders a spinner on stderr while files are scanned
	ShowProgress bool
}

// NewOrchestrator creates a new orchestrator with the given configuration
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := utils.OrNop(opts.Logger)

	workspaces := opts.Workspaces
	if workspaces == nil {
		var err error
		workspaces, err = workspace.NewManager(workspace.Options{
			BaseDir: utils.ExpandPath(cfg.Workspace.BaseDir),
			Prefix:  cfg.Workspace.Prefix,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace manager: %w", err)
		}
	}

	retrievers := opts.Retrievers
	if len(retrievers) == 0 {
		retrievers = DefaultRetrievers(cfg, opts.HTTPClient, opts.GitClient, logger)
	}
	byKind := make(map[domain.SourceKind]domain.Retriever, len(retrievers))
	for _, r := range retrievers {
		byKind[r.Kind()] = r
	}

	return &Orchestrator{
		workspaces: workspaces,
		retrievers: byKind,
		extractor: extract.New(extract.Options{
			MaxBytes:   cfg.ExtractMaxBytes(),
			MaxEntries: cfg.Extract.MaxEntries,
			Logger:     logger,
		}),
		defaults:    cfg.PipelineDefaults(),
		ignoreFiles: cfg.Scan.IgnoreFiles,
		keywords:    cfg.Scan.Keywords,
		scanOpts: scanner.Options{
			MaxFileSize:  cfg.ScanMaxFileSize(),
			MaxLineBytes: cfg.ScanMaxLineBytes(),
			Logger:       logger,
		},
		metrics:      opts.Metrics,
		logger:       logger.WithComponent("pipeline"),
		showProgress: opts.ShowProgress,
	}, nil
}

// DefaultRetrievers builds the archive and clone retrievers described by cfg
func DefaultRetrievers(cfg *config.Config, httpClient *http.Client, client git.Client, logger *utils.Logger) []domain.Retriever {
	retrierOpts := fetcher.DefaultRetrierOptions()
	retrierOpts.MaxRetries = cfg.Retrieval.MaxRetries
	retrierOpts.Logger = logger

	if client == nil {
		switch cfg.Retrieval.Cloner {
		case config.ClonerExec:
			client = git.NewExecClient()
		default:
			client = git.NewGoGitClient()
		}
	}

	return []domain.Retriever{
		fetcher.NewArchiveFetcher(fetcher.ArchiveFetcherOptions{
			HTTPClient: httpClient,
			UserAgent:  cfg.Retrieval.UserAgent,
			Retrier:    fetcher.NewRetrier(retrierOpts),
			Logger:     logger,
		}),
		git.NewCloneFetcher(git.CloneFetcherOptions{
			Client: client,
			Depth:  cfg.Retrieval.CloneDepth,
			Logger: logger,
		}),
	}
}

// Workspaces returns the workspace manager
func (o *Orchestrator) Workspaces() *workspace.Manager {
	return o.workspaces
}

// Defaults returns the pipeline options applied to unset request fields
func (o *Orchestrator) Defaults() domain.PipelineOptions {
	return o.defaults
}

// Run executes one pipeline: create a workspace, retrieve the source,
// extract archives, walk and scan, then destroy the workspace on every
// exit path. The first fatal failure aborts the run; the returned error
// is then a *domain.PipelineError and no partial response is returned.
func (o *Orchestrator) Run(ctx context.Context, src domain.SourceDescriptor, query domain.ScanQuery, opts domain.PipelineOptions) (resp *domain.ScanResponse, err error) {
	src.URL = strings.TrimSpace(src.URL)
	if query.Kind == domain.QueryKeywords && len(query.Keywords) == 0 {
		query = domain.NewKeywordQuery(o.keywords...)
	}

	defer func() {
		kind := ""
		if err != nil {
			kind = string(domain.KindOf(err))
		}
		o.metrics.RecordRun(string(src.Kind), string(query.Kind), kind)
	}()

	if err := src.Validate(); err != nil {
		return nil, domain.NewPipelineError(domain.KindInvalidRequest, "", err)
	}
	if err := query.Validate(); err != nil {
		return nil, domain.NewPipelineError(domain.KindInvalidRequest, "", err)
	}
	retriever, ok := o.retrievers[src.Kind]
	if !ok {
		return nil, domain.NewPipelineError(domain.KindInvalidRequest, "",
			fmt.Errorf("%w: no retriever for %q", domain.ErrUnknownSource, src.Kind))
	}

	src = ResolveArchive(src)
	opts = opts.WithDefaults(o.defaults)

	collector := output.NewCollector(output.CollectorOptions{Source: src, Query: query})

	logger := o.logger.WithURL(src.URL)
	logger.Info().
		Str("source", string(src.Kind)).
		Str("query", string(query.Kind)).
		Msg("Starting scan")

	handle, err := o.workspaces.Create(ctx)
	if err != nil {
		return nil, err
	}
	o.metrics.WorkspaceCreated()
	logger = logger.WithWorkspace(handle.ID)
	defer func() {
		derr := o.workspaces.Destroy(handle)
		o.metrics.WorkspaceDestroyed(derr)
		if derr != nil {
			logger.Warn().Err(derr).Msg("Workspace cleanup failed")
		}
	}()

	root, err := o.acquire(ctx, retriever, src, handle, opts, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Scan aborted")
		return nil, err
	}

	if err := o.scan(ctx, handle, root, query, opts, collector); err != nil {
		logger.Warn().Err(err).Msg("Scan aborted")
		return nil, err
	}

	resp = collector.Response()
	logger.Info().
		Int("matches", len(resp.Matches)).
		Int("files_scanned", resp.FilesScanned).
		Int("files_skipped", resp.FilesSkipped).
		Int("diagnostics", len(resp.Diagnostics)).
		Dur("duration", resp.Duration).
		Msg("Scan completed")

	return resp, nil
}

// acquire retrieves the source and, for archives, extracts it. It returns
// the directory to scan.
func (o *Orchestrator) acquire(ctx context.Context, retriever domain.Retriever, src domain.SourceDescriptor, handle *workspace.Handle, opts domain.PipelineOptions, logger *utils.Logger) (string, error) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, opts.RetrievalTimeout)
	retrieved, err := retriever.Retrieve(rctx, domain.RetrieveRequest{
		Source:   src,
		Root:     handle.Root,
		MaxBytes: opts.MaxRetrievedBytes,
	})
	cancel()
	o.metrics.ObserveStage(string(domain.StageRetrieve), time.Since(start))
	if err != nil {
		return "", retrievalError(ctx, err)
	}
	o.metrics.AddRetrievedBytes(string(src.Kind), retrieved.Bytes)

	if retrieved.Kind != domain.SourceArchive {
		logger.Debug().Str("tree", retrieved.Tree).Msg("Repository cloned")
		return retrieved.Tree, nil
	}

	start = time.Now()
	res, err := o.extractor.ExtractFile(ctx, retrieved.Archive, handle.Root, src.StripComponents)
	o.metrics.ObserveStage(string(domain.StageExtract), time.Since(start))
	if err != nil {
		var pe *domain.PipelineError
		if !errors.As(err, &pe) {
			err = domain.NewPipelineError(domain.KindExtractionFailed, "", err)
		}
		return "", err
	}

	logger.Debug().
		Str("compression", string(res.Compression)).
		Int("entries", res.Entries).
		Int64("bytes", res.Bytes).
		Msg("Archive extracted")

	return handle.Root, nil
}

// scan walks root, a directory inside handle, and feeds every candidate
// file to the query's strategy
func (o *Orchestrator) scan(ctx context.Context, handle *workspace.Handle, root string, query domain.ScanQuery, opts domain.PipelineOptions, collector *output.Collector) error {
	start := time.Now()
	defer func() { o.metrics.ObserveStage(string(domain.StageScan), time.Since(start)) }()

	rules, err := walker.LoadRuleSet(ctx, root, walker.RuleOptions{
		IgnoreFiles:  o.ignoreFiles,
		Extra:        opts.ExtraIgnorePatterns,
		FollowHidden: opts.Hidden(),
		Logger:       o.logger,
	})
	if err != nil {
		return err
	}
	for _, d := range rules.Diagnostics {
		o.metrics.RecordDiagnostic(string(d.Kind))
	}
	collector.AddDiagnostics(rules.Diagnostics...)

	strategy, err := scanner.NewStrategy(query, collector)
	if err != nil {
		return domain.NewPipelineError(domain.KindInvalidRequest, "", err)
	}
	scope, err := handle.Scope(root)
	if err != nil {
		return domain.NewPipelineError(domain.KindInternal, "", err)
	}
	scanOpts := o.scanOpts
	scanOpts.Resolver = scope
	sc := scanner.New(root, scanOpts)
	w := walker.New(root, walker.Options{
		Rules:        rules,
		FollowHidden: opts.Hidden(),
		Logger:       o.logger,
	})

	var progress interface{ Add(int) error }
	if o.showProgress {
		bar := utils.NewProgressBar(-1, utils.DescScanning)
		defer bar.Finish()
		progress = bar
	}

	for file, err := range w.Walk(ctx) {
		if err != nil {
			if domain.KindOf(err).Fatal() {
				return err
			}
			o.metrics.RecordDiagnostic(string(domain.KindOf(err)))
			collector.AddDiagnostic(err)
			continue
		}

		outcome, err := sc.ScanFile(ctx, file, strategy.Begin(file.Path))
		if err != nil {
			if domain.KindOf(err).Fatal() {
				return err
			}
			o.metrics.RecordDiagnostic(string(domain.KindOf(err)))
			collector.AddDiagnostic(err)
		}
		if outcome == scanner.Scanned {
			collector.FileScanned()
		} else {
			collector.FileSkipped()
		}
		o.metrics.RecordFile(outcome.String())
		if progress != nil {
			_ = progress.Add(1)
		}
	}

	strategy.Finish()
	return nil
}

// retrievalError maps a retriever failure onto a pipeline error kind
func retrievalError(parent context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return domain.NewPipelineError(domain.KindCancelled, "", parent.Err())
	}
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewPipelineError(domain.KindRetrievalTimeout, "", fmt.Errorf("%w: %w", domain.ErrTimeout, err))
	}
	return domain.NewPipelineError(domain.KindRetrievalFailed, "", err)
}
