package walker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// DefaultPatterns are always ignored unless a later rule re-includes them
var DefaultPatterns = []string{".git/", ".hg/", ".svn/", ".reposcan-*"}

// DefaultIgnoreFiles are the per-directory ignore files honoured by LoadRuleSet
var DefaultIgnoreFiles = []string{".gitignore", ".ignore"}

// RuleSet is a compiled, read-only set of gitignore-style rules.
// Later rules take precedence over earlier ones.
type RuleSet struct {
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher

	// Sources lists the ignore files that contributed rules, relative to the root
	Sources []string
	// Diagnostics records ignore files that could not be read
	Diagnostics []domain.Diagnostic
}

// RuleOptions configures LoadRuleSet
type RuleOptions struct {
	// IgnoreFiles are the file names read in every visited directory
	IgnoreFiles []string
	// Extra patterns apply on top of everything discovered in the tree
	Extra        []string
	FollowHidden bool
	Logger       *utils.Logger
}

// NewRuleSet compiles the default patterns followed by patterns, all
// anchored at the tree root.
func NewRuleSet(patterns ...string) *RuleSet {
	r := &RuleSet{}
	r.add(DefaultPatterns, nil)
	r.add(patterns, nil)
	r.compile()
	return r
}

// Match reports whether the slash-separated path rel is ignored
func (r *RuleSet) Match(rel string, isDir bool) bool {
	if r == nil || r.matcher == nil {
		return false
	}
	rel = strings.Trim(path.Clean(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	return r.matcher.Match(strings.Split(rel, "/"), isDir)
}

// Len returns the number of compiled rules
func (r *RuleSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}

func (r *RuleSet) add(lines []string, dom []string) int {
	added := 0
	for _, line := range lines {
		p, ok := parseLine(line)
		if !ok {
			continue
		}
		r.patterns = append(r.patterns, gitignore.ParsePattern(p, dom))
		added++
	}
	return added
}

func (r *RuleSet) compile() {
	r.matcher = gitignore.NewMatcher(r.patterns)
}

// LoadRuleSet builds the rule set for the tree at root. Precedence, from
// lowest to highest: DefaultPatterns, ignore files discovered in the tree
// (each scoped to its directory, parents before children), then
// opts.Extra. Directories already ignored are not searched for ignore
// files. Missing ignore files are not errors; unreadable ones are
// recorded as diagnostics.
func LoadRuleSet(ctx context.Context, root string, opts RuleOptions) (*RuleSet, error) {
	logger := utils.OrNop(opts.Logger).WithComponent("ignore")
	files := opts.IgnoreFiles
	if files == nil {
		files = DefaultIgnoreFiles
	}

	// extras are compiled separately so pruning during discovery honours them
	extras := &RuleSet{}
	extras.add(opts.Extra, nil)

	r := &RuleSet{}
	r.add(DefaultPatterns, nil)

	ignored := func(rel string, isDir bool) bool {
		combined := append(append([]gitignore.Pattern(nil), r.patterns...), extras.patterns...)
		return gitignore.NewMatcher(combined).Match(strings.Split(rel, "/"), isDir)
	}

	var visit func(dir string, dom []string) error
	visit = func(dir string, dom []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, name := range files {
			rel := path.Join(append(append([]string(nil), dom...), name)...)
			lines, err := readIgnoreFile(filepath.Join(dir, name))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				r.Diagnostics = append(r.Diagnostics, domain.DiagnosticFromError(
					domain.NewPipelineError(domain.KindTraversalError, rel, err)))
				logger.Debug().Err(err).Str("file", rel).Msg("Unreadable ignore file")
				continue
			}
			if n := r.add(lines, dom); n > 0 {
				r.Sources = append(r.Sources, rel)
			}
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			// The walker reports unreadable directories itself
			return nil
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !opts.FollowHidden && utils.IsHidden(name) {
				continue
			}
			child := append(append([]string(nil), dom...), name)
			if ignored(strings.Join(child, "/"), true) {
				continue
			}
			if err := visit(filepath.Join(dir, name), child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(root, nil); err != nil {
		return nil, domain.NewPipelineError(domain.KindCancelled, "", err)
	}

	r.patterns = append(r.patterns, extras.patterns...)
	r.compile()

	logger.Debug().
		Int("rules", r.Len()).
		Strs("sources", r.Sources).
		Msg("Ignore rules loaded")

	return r, nil
}

// MaxIgnoreFileBytes bounds how much of one ignore file is read
const MaxIgnoreFileBytes = 1 << 20

// readIgnoreFile reads the lines of a regular ignore file. Symlinks and
// other non-regular files are refused rather than followed.
func readIgnoreFile(name string) ([]string, error) {
	info, err := os.Lstat(name)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file (%s)", filepath.Base(name), info.Mode().Type())
	}
	if info.Size() > MaxIgnoreFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", domain.ErrTooLarge, filepath.Base(name), info.Size(), MaxIgnoreFileBytes)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// The entry may have been swapped between Lstat and Open
	if opened, err := f.Stat(); err != nil || !os.SameFile(info, opened) {
		return nil, fmt.Errorf("%s changed while being read", filepath.Base(name))
	}

	var lines []string
	scanner := bufio.NewScanner(io.LimitReader(f, MaxIgnoreFileBytes))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(name), err)
	}
	return lines, nil
}

// parseLine returns the pattern carried by one ignore file line.
// Blank lines and comments carry none.
func parseLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasSuffix(line, "\\ ") {
		line = strings.TrimRight(line, " \t")
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	// "\#" and "\!" escape a literal leading character
	if strings.HasPrefix(line, `\#`) || strings.HasPrefix(line, `\!`) {
		line = line[1:]
	}
	return line, true
}
