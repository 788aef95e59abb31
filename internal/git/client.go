// Package git retrieves version-controlled sources by cloning them into
// a workspace.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/quantmind-br/reposcan/internal/domain"
)

// CloneOptions describes one clone invocation
type CloneOptions struct {
	URL   string
	Ref   string // branch name, empty for the remote default
	Depth int
}

// Client clones a repository into a destination directory and returns
// the diagnostic output the clone produced.
type Client interface {
	Clone(ctx context.Context, dest string, opts CloneOptions) (string, error)
}

// PlainCloneFunc matches git.PlainCloneContext
type PlainCloneFunc func(ctx context.Context, path string, isBare bool, o *git.CloneOptions) (*git.Repository, error)

// GoGitClient implements Client using go-git
type GoGitClient struct {
	plainClone PlainCloneFunc
}

// NewGoGitClient creates a new GoGitClient
func NewGoGitClient() *GoGitClient {
	return &GoGitClient{plainClone: git.PlainCloneContext}
}

// Clone calls git.PlainCloneContext
func (c *GoGitClient) Clone(ctx context.Context, dest string, opts CloneOptions) (string, error) {
	var progress bytes.Buffer

	cloneOpts := &git.CloneOptions{
		URL:          opts.URL,
		Depth:        opts.Depth,
		SingleBranch: true,
		Tags:         git.NoTags,
		Progress:     &progress,
	}
	if opts.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Ref)
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && isGitHubHTTPS(opts.URL) {
		cloneOpts.Auth = &githttp.BasicAuth{
			Username: "token",
			Password: token,
		}
	}

	if _, err := c.plainClone(ctx, dest, false, cloneOpts); err != nil {
		return progress.String(), fmt.Errorf("%w: %w", domain.ErrCloneFailed, err)
	}
	return progress.String(), nil
}

// DefaultWaitDelay bounds how long a killed clone may hold its output open
const DefaultWaitDelay = 5 * time.Second

// ExecClient implements Client by running the git binary
type ExecClient struct {
	Binary string
	// WaitDelay applies after ctx ends; helpers such as git-remote-https
	// can outlive git and keep the output pipe open. 0 uses DefaultWaitDelay
	WaitDelay time.Duration
}

// NewExecClient creates an ExecClient using git from PATH
func NewExecClient() *ExecClient {
	return &ExecClient{Binary: "git", WaitDelay: DefaultWaitDelay}
}

// Args returns the command line arguments for a clone into dest
func (c *ExecClient) Args(dest string, opts CloneOptions) []string {
	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", fmt.Sprint(opts.Depth))
	}
	if opts.Ref != "" {
		args = append(args, "--branch", opts.Ref)
	}
	// "--" keeps a hostile URL from being read as an option
	return append(args, "--", opts.URL, dest)
}

// Clone runs git clone and captures its combined output
func (c *ExecClient) Clone(ctx context.Context, dest string, opts CloneOptions) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args(dest, opts)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return string(output), ctxErr
		}
		return string(output), fmt.Errorf("%w: %w", domain.ErrCloneFailed, err)
	}
	return string(output), nil
}
