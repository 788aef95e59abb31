// Package extract unpacks untrusted tar archives into a workspace.
package extract

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// Compression identifies the outer encoding of an archive
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Options configures an Extractor
type Options struct {
	// MaxBytes bounds the total size of extracted regular files, 0 means unbounded
	MaxBytes int64
	// MaxEntries bounds the number of archive entries, 0 means unbounded
	MaxEntries int
	Logger     *utils.Logger
}

// Result summarizes one extraction
type Result struct {
	Compression Compression
	Entries     int
	Files       int
	Bytes       int64
	Skipped     int
}

// Extractor unpacks archives while keeping every write inside the root
type Extractor struct {
	maxBytes   int64
	maxEntries int
	logger     *utils.Logger
}

// New creates an Extractor
func New(opts Options) *Extractor {
	return &Extractor{
		maxBytes:   opts.MaxBytes,
		maxEntries: opts.MaxEntries,
		logger:     utils.OrNop(opts.Logger).WithComponent("extract"),
	}
}

// ExtractFile unpacks the archive at archivePath into root and removes
// the archive file afterwards, whatever the outcome.
func (e *Extractor) ExtractFile(ctx context.Context, archivePath, root string, strip int) (*Result, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindExtractionFailed, "", fmt.Errorf("open archive: %w", err))
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn().Err(err).Str("archive", archivePath).Msg("Failed to remove archive spool")
		}
	}()

	return e.Extract(ctx, f, root, strip)
}

// Extract unpacks a tar stream, optionally gzip or zstd compressed, into
// root. It stops at the first unsafe entry; content written before that
// point is left for the caller to dispose of with the workspace.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, root string, strip int) (*Result, error) {
	br := bufio.NewReader(r)
	compression := detect(br)

	var stream io.Reader = br
	switch compression {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, domain.NewPipelineError(domain.KindExtractionFailed, "", fmt.Errorf("gzip reader failed: %w", err))
		}
		defer gz.Close()
		stream = gz
	case CompressionZstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, domain.NewPipelineError(domain.KindExtractionFailed, "", fmt.Errorf("zstd reader failed: %w", err))
		}
		defer zr.Close()
		stream = zr
	}

	res := &Result{Compression: compression}
	tr := tar.NewReader(stream)

	for {
		if err := ctx.Err(); err != nil {
			return res, domain.NewPipelineError(domain.KindCancelled, "", err)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, domain.NewPipelineError(domain.KindExtractionFailed, "", fmt.Errorf("tar read failed: %w", err))
		}

		res.Entries++
		if e.maxEntries > 0 && res.Entries > e.maxEntries {
			return res, domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name,
				fmt.Errorf("%w: more than %d entries", domain.ErrTooLarge, e.maxEntries))
		}

		if err := e.extractEntry(tr, hdr, root, strip, res); err != nil {
			return res, err
		}
	}

	e.logger.Debug().
		Str("compression", string(compression)).
		Int("entries", res.Entries).
		Int("files", res.Files).
		Int64("bytes", res.Bytes).
		Int("skipped", res.Skipped).
		Msg("Archive extracted")

	return res, nil
}

func (e *Extractor) extractEntry(tr *tar.Reader, hdr *tar.Header, root string, strip int, res *Result) error {
	switch hdr.Typeflag {
	case tar.TypeXGlobalHeader, tar.TypeXHeader, tar.TypeGNULongName, tar.TypeGNULongLink:
		return nil
	}

	target, rel, err := resolveEntry(root, hdr.Name, strip)
	if err != nil {
		return domain.NewPipelineError(domain.KindUnsafeArchiveEntry, hdr.Name, err)
	}
	if rel == "" {
		return nil
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, dirMode(hdr)); err != nil {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name, fmt.Errorf("mkdir failed: %w", err))
		}

	case tar.TypeReg:
		if e.maxBytes > 0 && res.Bytes+hdr.Size > e.maxBytes {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name,
				fmt.Errorf("%w: extracted content exceeds %d bytes", domain.ErrTooLarge, e.maxBytes))
		}
		n, err := writeFile(target, tr, fileMode(hdr))
		if err != nil {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name, err)
		}
		res.Files++
		res.Bytes += n

	case tar.TypeSymlink:
		if err := checkSymlink(root, target, hdr.Linkname); err != nil {
			return domain.NewPipelineError(domain.KindUnsafeArchiveEntry, hdr.Name, err)
		}
		if err := makeParent(target); err != nil {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name, err)
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name, fmt.Errorf("symlink failed: %w", err))
		}

	case tar.TypeLink:
		source, srcRel, err := resolveEntry(root, hdr.Linkname, strip)
		if err != nil || srcRel == "" {
			if err == nil {
				err = fmt.Errorf("%w: hard link to archive root", domain.ErrUnsafePath)
			}
			return domain.NewPipelineError(domain.KindUnsafeArchiveEntry, hdr.Name, err)
		}
		if err := makeParent(target); err != nil {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name, err)
		}
		_ = os.Remove(target)
		if err := os.Link(source, target); err != nil {
			return domain.NewPipelineError(domain.KindExtractionFailed, hdr.Name, fmt.Errorf("hard link failed: %w", err))
		}

	default:
		// Devices, fifos and other special files are never materialized
		res.Skipped++
		e.logger.Debug().Str("entry", hdr.Name).Int("type", int(hdr.Typeflag)).Msg("Skipping special entry")
	}

	return nil
}

// resolveEntry validates an archive entry name and returns its
// destination under root together with the stripped relative name.
// An empty relative name means the entry vanished after stripping.
func resolveEntry(root, name string, strip int) (string, string, error) {
	if name == "" {
		return "", "", fmt.Errorf("%w: empty entry name", domain.ErrUnsafePath)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", "", fmt.Errorf("%w: absolute entry name %q", domain.ErrUnsafePath, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", "", fmt.Errorf("%w: parent segment in %q", domain.ErrUnsafePath, name)
		}
	}

	clean := path.Clean(name)
	if clean == "." {
		return "", "", nil
	}
	parts := strings.Split(clean, "/")
	if strip >= len(parts) {
		return "", "", nil
	}
	rel := strings.Join(parts[strip:], "/")

	lexical := filepath.Join(root, filepath.FromSlash(rel))
	if !utils.IsStrictlyWithin(root, lexical) {
		return "", "", fmt.Errorf("%w: %q", domain.ErrUnsafePath, name)
	}

	secure, err := securejoin.SecureJoin(root, filepath.FromSlash(rel))
	if err != nil {
		return "", "", fmt.Errorf("resolve %q: %w", name, err)
	}
	if secure != lexical {
		// A symlink written by an earlier entry redirects this path
		return "", "", fmt.Errorf("%w: %q traverses a symbolic link", domain.ErrUnsafePath, name)
	}

	return lexical, rel, nil
}

// checkSymlink rejects link targets that are absolute or resolve outside root
func checkSymlink(root, target, linkname string) error {
	if linkname == "" {
		return fmt.Errorf("%w: empty symlink target", domain.ErrUnsafePath)
	}
	if strings.HasPrefix(linkname, "/") || filepath.IsAbs(linkname) || filepath.VolumeName(linkname) != "" {
		return fmt.Errorf("%w: absolute symlink target %q", domain.ErrUnsafePath, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	if !utils.IsWithin(root, resolved) {
		return fmt.Errorf("%w: symlink target %q", domain.ErrUnsafePath, linkname)
	}

	// The lexical check above cannot see links written by earlier entries.
	// Resolve the target through them and require the same answer. A final
	// plain name may itself be a link; that one was checked when written.
	dir, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil {
		return fmt.Errorf("%w: symlink %q", domain.ErrUnsafePath, linkname)
	}
	scope := linkname
	if dir != "." {
		scope = filepath.ToSlash(dir) + "/" + linkname
	}
	parts := strings.Split(scope, "/")
	if last := parts[len(parts)-1]; last != "" && last != "." && last != ".." {
		scope = strings.Join(parts[:len(parts)-1], "/")
	}
	lexical := filepath.Join(root, filepath.FromSlash(scope))
	secure, err := securejoin.SecureJoin(root, filepath.FromSlash(scope))
	if err != nil {
		return fmt.Errorf("resolve symlink target %q: %w", linkname, err)
	}
	if secure != lexical {
		return fmt.Errorf("%w: symlink target %q traverses a symbolic link", domain.ErrUnsafePath, linkname)
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) (int64, error) {
	if err := makeParent(target); err != nil {
		return 0, err
	}
	// An earlier entry may have placed a symlink or file here
	if info, err := os.Lstat(target); err == nil && !info.IsDir() {
		_ = os.Remove(target)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("create file failed: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write file failed: %w", err)
	}
	return n, nil
}

func makeParent(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir failed: %w", err)
	}
	return nil
}

// dirMode keeps directories owner-accessible so cleanup can always remove them
func dirMode(hdr *tar.Header) os.FileMode {
	return os.FileMode(hdr.Mode).Perm()&0o755 | 0o700
}

func fileMode(hdr *tar.Header) os.FileMode {
	return os.FileMode(hdr.Mode).Perm()&0o755 | 0o600
}

func detect(br *bufio.Reader) Compression {
	head, _ := br.Peek(len(zstdMagic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(head, zstdMagic):
		return CompressionZstd
	default:
		return CompressionNone
	}
}
