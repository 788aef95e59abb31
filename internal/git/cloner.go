package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// CloneFetcher materializes a repository into the workspace with a Client
type CloneFetcher struct {
	client Client
	depth  int
	logger *utils.Logger
}

var _ domain.Retriever = (*CloneFetcher)(nil)

// CloneFetcherOptions contains options for creating a CloneFetcher
type CloneFetcherOptions struct {
	Client Client
	Depth  int
	Logger *utils.Logger
}

// NewCloneFetcher creates a new CloneFetcher
func NewCloneFetcher(opts CloneFetcherOptions) *CloneFetcher {
	if opts.Client == nil {
		opts.Client = NewGoGitClient()
	}
	if opts.Depth < 1 {
		opts.Depth = 1
	}
	return &CloneFetcher{
		client: opts.Client,
		depth:  opts.Depth,
		logger: utils.OrNop(opts.Logger).WithComponent("clone"),
	}
}

// Name returns the retriever name
func (f *CloneFetcher) Name() string {
	return "clone"
}

// Kind returns the source kind
func (f *CloneFetcher) Kind() domain.SourceKind {
	return domain.SourceClone
}

// Retrieve clones req.Source.URL into the workspace root, or into
// req.Source.Subdir below it. The URL and the destination are validated
// before the clone tool is invoked.
func (f *CloneFetcher) Retrieve(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievedSource, error) {
	if err := ValidateCloneURL(req.Source.URL); err != nil {
		return nil, domain.NewPipelineError(domain.KindInvalidRequest, "", err)
	}

	dest, err := Destination(req.Root, req.Source.Subdir)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindUnsafeCloneDestination, req.Source.Subdir, err)
	}

	logger := f.logger.WithURL(req.Source.URL)
	logger.Info().Str("dest", dest).Str("ref", req.Source.Ref).Msg("Cloning repository")

	output, err := f.client.Clone(ctx, dest, CloneOptions{
		URL:   req.Source.URL,
		Ref:   req.Source.Ref,
		Depth: f.depth,
	})
	if err != nil {
		logger.Debug().Err(err).Str("output", output).Msg("Clone failed")
		return nil, classify(err, output)
	}

	return &domain.RetrievedSource{
		Kind:   domain.SourceClone,
		Tree:   dest,
		Output: output,
	}, nil
}

// Destination resolves the clone destination for subdir under root.
// An empty subdir selects the root itself; any other value must resolve,
// after symlink and ".." resolution, to a strict descendant of root.
func Destination(root, subdir string) (string, error) {
	canonRoot, err := utils.Canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if strings.TrimSpace(subdir) == "" {
		return canonRoot, nil
	}

	candidate := subdir
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(canonRoot, candidate)
	}
	dest, err := utils.Canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	if !utils.IsStrictlyWithin(canonRoot, dest) {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsafePath, subdir)
	}
	return dest, nil
}

func classify(err error, output string) error {
	output = strings.TrimSpace(output)
	if output != "" {
		err = fmt.Errorf("%w\n%s", err, output)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewPipelineError(domain.KindRetrievalTimeout, "", fmt.Errorf("%w: %w", domain.ErrTimeout, err))
	case errors.Is(err, context.Canceled):
		return domain.NewPipelineError(domain.KindCancelled, "", err)
	default:
		return domain.NewPipelineError(domain.KindRetrievalFailed, "", err)
	}
}
