package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/git"
)

// Explicit source prefixes accepted by ParseSource
const (
	PrefixArchive = "archive:"
	PrefixGit     = "git:"
)

// archiveSuffixes are the path endings treated as archives
var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar", ".tar.zst", ".tzst"}

// DetectSourceKind determines how a raw source URL is acquired.
// Archive suffixes win over repository patterns; any other http(s) URL is
// fetched as an archive.
func DetectSourceKind(raw string) (domain.SourceKind, error) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, PrefixArchive):
		return domain.SourceArchive, nil
	case strings.HasPrefix(lower, PrefixGit):
		return domain.SourceClone, nil
	}

	if hasArchiveSuffix(lower) {
		return domain.SourceArchive, nil
	}
	if git.IsGitURL(s) {
		return domain.SourceClone, nil
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return domain.SourceArchive, nil
	}

	return "", fmt.Errorf("%w: %s", domain.ErrUnknownSource, raw)
}

// ParseSource builds a descriptor from untagged CLI input
func ParseSource(raw string) (domain.SourceDescriptor, error) {
	kind, err := DetectSourceKind(raw)
	if err != nil {
		return domain.SourceDescriptor{}, err
	}

	s := strings.TrimSpace(raw)
	for _, prefix := range []string{PrefixArchive, PrefixGit} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	if s == "" {
		return domain.SourceDescriptor{}, fmt.Errorf("%w: empty URL", domain.ErrInvalidURL)
	}

	return domain.SourceDescriptor{Kind: kind, URL: s}, nil
}

// ResolveArchive rewrites a hosted repository URL requested as an archive
// into the platform's tarball URL for src.Ref. Hosted tarballs wrap the
// tree in one top-level directory, so StripComponents defaults to 1.
func ResolveArchive(src domain.SourceDescriptor) domain.SourceDescriptor {
	if src.Kind != domain.SourceArchive || hasArchiveSuffix(strings.ToLower(src.URL)) {
		return src
	}
	info, err := git.ParseURL(src.URL)
	if err != nil || !strings.HasPrefix(strings.ToLower(src.URL), "http") {
		return src
	}

	src.URL = git.BuildArchiveURL(info, src.Ref)
	if src.StripComponents == 0 {
		src.StripComponents = 1
	}
	return src
}

func hasArchiveSuffix(lower string) bool {
	if u, err := url.Parse(lower); err == nil && u.Path != "" {
		lower = u.Path
	}
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
