package walker

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// Options configures a Walker
type Options struct {
	// Rules selects ignored entries; nil ignores only the defaults
	Rules        *RuleSet
	FollowHidden bool
	Logger       *utils.Logger
}

// Walker enumerates candidate files below a workspace root
type Walker struct {
	root         string
	rules        *RuleSet
	followHidden bool
	logger       *utils.Logger
}

// New creates a walker rooted at root
func New(root string, opts Options) *Walker {
	rules := opts.Rules
	if rules == nil {
		rules = NewRuleSet()
	}
	return &Walker{
		root:         root,
		rules:        rules,
		followHidden: opts.FollowHidden,
		logger:       utils.OrNop(opts.Logger).WithComponent("walker"),
	}
}

// Walk returns a lazy depth-first traversal in lexical order.
// Per-entry failures are yielded as non-fatal TraversalError values and
// the walk goes on; a done context is yielded as a Cancelled error and
// ends the sequence. Every call re-reads the filesystem.
func (w *Walker) Walk(ctx context.Context) iter.Seq2[domain.CandidateFile, error] {
	return func(yield func(domain.CandidateFile, error) bool) {
		w.walkDir(ctx, "", yield)
	}
}

// walkDir visits the directory at the slash-separated rel path.
// It returns false once the consumer stops or the walk is cancelled.
func (w *Walker) walkDir(ctx context.Context, rel string, yield func(domain.CandidateFile, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(domain.CandidateFile{}, domain.NewPipelineError(domain.KindCancelled, rel, err))
		return false
	}

	entries, err := os.ReadDir(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil {
		return w.report(rel, err, yield)
	}
	// os.ReadDir sorts already; keep the order explicit
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			yield(domain.CandidateFile{}, domain.NewPipelineError(domain.KindCancelled, rel, err))
			return false
		}

		name := entry.Name()
		childRel := path.Join(rel, name)
		if !w.followHidden && utils.IsHidden(name) {
			continue
		}

		typ := entry.Type()
		isDir := typ.IsDir()
		if w.rules.Match(childRel, isDir) {
			w.logger.Debug().Str("path", childRel).Bool("dir", isDir).Msg("Ignored")
			continue
		}

		switch {
		case isDir:
			if !w.walkDir(ctx, childRel, yield) {
				return false
			}
		case typ.IsRegular():
			info, err := entry.Info()
			if err != nil {
				if !w.report(childRel, err, yield) {
					return false
				}
				continue
			}
			if !yield(domain.CandidateFile{Path: childRel, Kind: domain.FileRegular, Size: info.Size()}, nil) {
				return false
			}
		default:
			// symlinks, devices, sockets and pipes are never followed
			if !yield(domain.CandidateFile{Path: childRel, Kind: domain.FileOther}, nil) {
				return false
			}
		}
	}
	return true
}

func (w *Walker) report(rel string, err error, yield func(domain.CandidateFile, error) bool) bool {
	if rel == "" {
		rel = "."
	}
	w.logger.Debug().Err(err).Str("path", rel).Msg("Traversal error")
	return yield(domain.CandidateFile{}, domain.NewPipelineError(domain.KindTraversalError, rel, unwrapPathError(err)))
}

func unwrapPathError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
