// Package fetcher downloads remote archives into a workspace.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// SpoolPattern names the bookkeeping file holding downloaded archive bytes
const SpoolPattern = ".reposcan-*.archive"

// MaxRedirects bounds the redirects followed for one download
const MaxRedirects = 10

// NewHTTPClient creates the HTTP client used for archive downloads
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
}

// ArchiveFetcher retrieves a compressed archive over HTTP and spools it
// into the workspace without interpreting its contents.
type ArchiveFetcher struct {
	httpClient *http.Client
	userAgent  string
	retrier    *Retrier
	logger     *utils.Logger
}

var _ domain.Retriever = (*ArchiveFetcher)(nil)

// ArchiveFetcherOptions contains options for creating an ArchiveFetcher
type ArchiveFetcherOptions struct {
	HTTPClient *http.Client
	UserAgent  string
	Retrier    *Retrier
	Logger     *utils.Logger
}

// NewArchiveFetcher creates a new ArchiveFetcher
func NewArchiveFetcher(opts ArchiveFetcherOptions) *ArchiveFetcher {
	logger := utils.OrNop(opts.Logger).WithComponent("fetcher")
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(0)
	}
	if opts.Retrier == nil {
		ro := DefaultRetrierOptions()
		ro.Logger = logger
		opts.Retrier = NewRetrier(ro)
	}
	return &ArchiveFetcher{
		httpClient: opts.HTTPClient,
		userAgent:  opts.UserAgent,
		retrier:    opts.Retrier,
		logger:     logger,
	}
}

// Name returns the retriever name
func (f *ArchiveFetcher) Name() string {
	return "archive"
}

// Kind returns the source kind
func (f *ArchiveFetcher) Kind() domain.SourceKind {
	return domain.SourceArchive
}

// Retrieve downloads req.Source.URL into a spool file under req.Root.
// Content larger than req.MaxBytes fails without leaving a spool file.
func (f *ArchiveFetcher) Retrieve(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievedSource, error) {
	target := req.Source.URL
	if err := validateArchiveURL(target); err != nil {
		return nil, domain.NewPipelineError(domain.KindRetrievalFailed, "", err)
	}

	logger := f.logger.WithURL(target)
	logger.Debug().Int64("max_bytes", req.MaxBytes).Msg("Downloading archive")

	var (
		spool string
		n     int64
	)
	err := f.retrier.Retry(ctx, func() error {
		var err error
		spool, n, err = f.download(ctx, target, req.Root, req.MaxBytes)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	logger.Debug().Int64("bytes", n).Str("spool", spool).Msg("Archive downloaded")

	return &domain.RetrievedSource{
		Kind:    domain.SourceArchive,
		Archive: spool,
		Bytes:   n,
	}, nil
}

// download performs one attempt. On failure no spool file is left behind.
func (f *ArchiveFetcher) download(ctx context.Context, target, root string, maxBytes int64) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, domain.NewFetchError(target, 0, fmt.Errorf("failed to create request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && isGitHubHost(req.URL.Host) {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return "", 0, err
		}
		return "", 0, &domain.RetryableError{
			Err: domain.NewFetchError(target, 0, fmt.Errorf("request failed: %w", err)),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		fetchErr := domain.NewFetchError(target, resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode))
		if ShouldRetryStatus(resp.StatusCode) {
			return "", 0, &domain.RetryableError{
				Err:        fetchErr,
				RetryAfter: int(ParseRetryAfter(resp.Header.Get("Retry-After")).Seconds()),
			}
		}
		return "", 0, fetchErr
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return "", 0, fmt.Errorf("%w: declared %d bytes, limit %d", domain.ErrTooLarge, resp.ContentLength, maxBytes)
	}

	file, err := os.CreateTemp(root, SpoolPattern)
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}
	spool := file.Name()

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(spool)
		if ctx.Err() != nil || isTimeout(copyErr) {
			return "", 0, copyErr
		}
		return "", 0, &domain.RetryableError{
			Err: domain.NewFetchError(target, resp.StatusCode, fmt.Errorf("read body: %w", copyErr)),
		}
	case maxBytes > 0 && n > maxBytes:
		_ = os.Remove(spool)
		return "", 0, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrTooLarge, maxBytes)
	case closeErr != nil:
		_ = os.Remove(spool)
		return "", 0, fmt.Errorf("write spool file: %w", closeErr)
	}

	return spool, n, nil
}

// classify maps a download failure onto a pipeline error kind
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrTooLarge):
		return domain.NewPipelineError(domain.KindRetrievalTooLarge, "", err)
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return domain.NewPipelineError(domain.KindRetrievalTimeout, "", fmt.Errorf("%w: %v", domain.ErrTimeout, err))
	case errors.Is(err, context.Canceled):
		return domain.NewPipelineError(domain.KindCancelled, "", err)
	default:
		return domain.NewPipelineError(domain.KindRetrievalFailed, "", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || host == "codeload.github.com" || host == "api.github.com"
}

func validateArchiveURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}
	return nil
}
