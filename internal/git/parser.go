package git

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/quantmind-br/reposcan/internal/domain"
)

// Platform represents a git hosting platform
type Platform string

const (
	PlatformGitHub    Platform = "github"
	PlatformGitLab    Platform = "gitlab"
	PlatformBitbucket Platform = "bitbucket"
	PlatformGeneric   Platform = "generic"
)

// DefaultRef is the branch used for hosted archives when none is given
const DefaultRef = "main"

// RepoInfo contains parsed repository information
type RepoInfo struct {
	Platform Platform
	Owner    string
	Repo     string
	URL      string // Original URL
}

var hostedPatterns = []struct {
	platform Platform
	regex    *regexp.Regexp
}{
	{PlatformGitHub, regexp.MustCompile(`^(?:https?://|git@|ssh://git@)github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)},
	{PlatformGitLab, regexp.MustCompile(`^(?:https?://|git@|ssh://git@)gitlab\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)},
	{PlatformBitbucket, regexp.MustCompile(`^(?:https?://|git@|ssh://git@)bitbucket\.org[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)},
}

// ParseURL parses a hosted repository URL such as https://github.com/owner/repo
func ParseURL(rawURL string) (*RepoInfo, error) {
	trimmed := strings.TrimSpace(rawURL)
	for _, pat := range hostedPatterns {
		if matches := pat.regex.FindStringSubmatch(trimmed); len(matches) == 3 {
			return &RepoInfo{
				Platform: pat.platform,
				Owner:    matches[1],
				Repo:     matches[2],
				URL:      rawURL,
			}, nil
		}
	}

	return nil, fmt.Errorf("unsupported git URL format: %s", rawURL)
}

// BuildArchiveURL returns the tar.gz archive URL of a hosted repository at ref
func BuildArchiveURL(info *RepoInfo, ref string) string {
	if ref == "" {
		ref = DefaultRef
	}
	escaped := url.PathEscape(ref)
	switch info.Platform {
	case PlatformGitLab:
		return fmt.Sprintf("https://gitlab.com/%s/%s/-/archive/%s/%s-%s.tar.gz",
			info.Owner, info.Repo, escaped, info.Repo, escaped)
	case PlatformBitbucket:
		return fmt.Sprintf("https://bitbucket.org/%s/%s/get/%s.tar.gz",
			info.Owner, info.Repo, escaped)
	default:
		return fmt.Sprintf("https://github.com/%s/%s/archive/refs/heads/%s.tar.gz",
			info.Owner, info.Repo, escaped)
	}
}

// IsGitURL reports whether rawURL looks like a clonable repository
func IsGitURL(rawURL string) bool {
	s := strings.TrimSpace(rawURL)
	switch {
	case s == "":
		return false
	case strings.HasPrefix(s, "git@"), strings.HasPrefix(s, "git://"), strings.HasPrefix(s, "ssh://"):
		return true
	case strings.HasSuffix(strings.TrimSuffix(s, "/"), ".git"):
		return true
	}
	_, err := ParseURL(s)
	return err == nil
}

// ValidateCloneURL accepts https://, ssh:// and scp-style git@host:path
// remotes. Local paths, file:// and every other transport are refused.
func ValidateCloneURL(rawURL string) error {
	s := strings.TrimSpace(rawURL)
	if rest, ok := strings.CutPrefix(s, "git@"); ok {
		host, repo, found := strings.Cut(rest, ":")
		if !found || host == "" || repo == "" || strings.HasPrefix(host, "-") || strings.ContainsAny(host, "/\\") {
			return fmt.Errorf("%w: malformed ssh remote %q", domain.ErrInvalidURL, rawURL)
		}
		return nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "https", "ssh":
	default:
		return fmt.Errorf("%w: unsupported clone scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host in %q", domain.ErrInvalidURL, rawURL)
	}
	return nil
}

// isGitHubHTTPS reports whether rawURL is an https remote on github.com
func isGitHubHTTPS(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	return err == nil && u.Scheme == "https" && strings.EqualFold(u.Hostname(), "github.com")
}
