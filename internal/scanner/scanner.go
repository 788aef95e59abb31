package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

const (
	// DefaultMaxLineBytes bounds the line buffer
	DefaultMaxLineBytes = 1 << 20
	// DefaultMaxFileSize bounds the files that are scanned at all
	DefaultMaxFileSize = 10 << 20

	initialLineBuffer = 64 << 10
	// ctx is polled once every checkEvery lines
	checkEvery = 1024
)

// Outcome describes what happened to one candidate file
type Outcome int

const (
	// Scanned means every line was read and the findings were committed
	Scanned Outcome = iota
	// Skipped means the file was not text, not regular, or too large
	Skipped
	// Failed means the scan aborted and the file contributed nothing
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Scanned:
		return "scanned"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Resolver maps a tree-relative slash path to the file to open
type Resolver interface {
	Resolve(rel string) (string, error)
}

// Options configures a Scanner
type Options struct {
	// Resolver, when set, replaces joining paths onto the scanner root
	Resolver Resolver
	// MaxFileSize skips larger files with a diagnostic, 0 uses the default
	MaxFileSize int64
	// MaxLineBytes fails files with longer lines, 0 uses the default
	MaxLineBytes int
	Logger       *utils.Logger
}

// Scanner streams candidate files below a workspace root
type Scanner struct {
	root         string
	resolver     Resolver
	maxFileSize  int64
	maxLineBytes int
	logger       *utils.Logger
}

// New creates a scanner for files below root
func New(root string, opts Options) *Scanner {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Scanner{
		root:         root,
		resolver:     opts.Resolver,
		maxFileSize:  opts.MaxFileSize,
		maxLineBytes: opts.MaxLineBytes,
		logger:       utils.OrNop(opts.Logger).WithComponent("scanner"),
	}
}

// ScanFile feeds every line of file to acc and commits on success.
// Binary and non-regular files are skipped without an error. Oversized
// files are skipped with a ScanFileError. Read failures and over-long
// lines fail the file with a ScanFileError; a done context fails it with
// a Cancelled error.
func (s *Scanner) ScanFile(ctx context.Context, file domain.CandidateFile, acc FileAccumulator) (Outcome, error) {
	if !file.IsRegular() {
		return Skipped, nil
	}
	if err := ctx.Err(); err != nil {
		return Failed, domain.NewPipelineError(domain.KindCancelled, file.Path, err)
	}
	if file.Size > s.maxFileSize {
		return Skipped, s.fileError(file.Path,
			fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrTooLarge, file.Size, s.maxFileSize))
	}

	name, err := s.resolve(file.Path)
	if err != nil {
		return Failed, s.fileError(file.Path, err)
	}
	f, err := os.Open(name)
	if err != nil {
		return Failed, s.fileError(file.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Failed, s.fileError(file.Path, err)
	}
	if !info.Mode().IsRegular() {
		return Skipped, nil
	}
	if info.Size() > s.maxFileSize {
		return Skipped, s.fileError(file.Path,
			fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrTooLarge, info.Size(), s.maxFileSize))
	}

	r, binary, err := NewTextReader(f)
	if err != nil {
		return Failed, s.fileError(file.Path, err)
	}
	if binary {
		s.logger.Debug().Str("path", file.Path).Msg("Skipping binary file")
		return Skipped, nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(initialLineBuffer, s.maxLineBytes)), s.maxLineBytes)

	n := 0
	for sc.Scan() {
		n++
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Failed, domain.NewPipelineError(domain.KindCancelled, file.Path, err)
			}
		}
		line := sc.Bytes()
		if !utf8.Valid(line) {
			s.logger.Debug().Str("path", file.Path).Int("line", n).Msg("Skipping non-text file")
			return Skipped, nil
		}
		acc.Line(n, string(line))
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = fmt.Errorf("line %d longer than %d bytes", n+1, s.maxLineBytes)
		}
		return Failed, s.fileError(file.Path, err)
	}

	acc.Commit()
	return Scanned, nil
}

func (s *Scanner) resolve(rel string) (string, error) {
	if s.resolver != nil {
		return s.resolver.Resolve(rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

func (s *Scanner) fileError(path string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	s.logger.Debug().Err(err).Str("path", path).Msg("Scan error")
	return domain.NewPipelineError(domain.KindScanFileError, path, err)
}
