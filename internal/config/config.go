package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Extract   ExtractConfig   `mapstructure:"extract" yaml:"extract"`
	Scan      ScanConfig      `mapstructure:"scan" yaml:"scan"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// WorkspaceConfig contains workspace manager settings
type WorkspaceConfig struct {
	BaseDir    string        `mapstructure:"base_dir" yaml:"base_dir"`
	Prefix     string        `mapstructure:"prefix" yaml:"prefix"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// RetrievalConfig contains archive fetch and clone settings
type RetrievalConfig struct {
	MaxBytes   string        `mapstructure:"max_bytes" yaml:"max_bytes"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent" yaml:"user_agent"`
	Cloner     string        `mapstructure:"cloner" yaml:"cloner"` // "go-git" or "exec"
	CloneDepth int           `mapstructure:"clone_depth" yaml:"clone_depth"`
}

// ExtractConfig contains archive extraction bounds
type ExtractConfig struct {
	MaxBytes   string `mapstructure:"max_bytes" yaml:"max_bytes"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries"`
}

// ScanConfig contains traversal and content scanning settings
type ScanConfig struct {
	FollowHidden bool     `mapstructure:"follow_hidden" yaml:"follow_hidden"`
	IgnoreFiles  []string `mapstructure:"ignore_files" yaml:"ignore_files"`
	ExtraIgnore  []string `mapstructure:"extra_ignore" yaml:"extra_ignore"`
	MaxFileSize  string   `mapstructure:"max_file_size" yaml:"max_file_size"`
	MaxLineBytes string   `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	Keywords     []string `mapstructure:"keywords" yaml:"keywords"`
}

// ServerConfig contains HTTP service settings
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Validate validates the configuration, repairing out-of-range values
func (c *Config) Validate() error {
	if c.Workspace.Prefix == "" {
		c.Workspace.Prefix = DefaultWorkspacePrefix
	}
	if strings.ContainsAny(c.Workspace.Prefix, `/\`) {
		return fmt.Errorf("invalid workspace.prefix %q: must not contain path separators", c.Workspace.Prefix)
	}
	if c.Workspace.StaleAfter < time.Minute {
		c.Workspace.StaleAfter = DefaultStaleAfter
	}

	if c.Retrieval.Timeout < time.Second {
		c.Retrieval.Timeout = DefaultRetrievalTimeout
	}
	if c.Retrieval.MaxRetries < 0 {
		c.Retrieval.MaxRetries = DefaultMaxRetries
	}
	if c.Retrieval.CloneDepth < 1 {
		c.Retrieval.CloneDepth = DefaultCloneDepth
	}
	switch c.Retrieval.Cloner {
	case "":
		c.Retrieval.Cloner = DefaultCloner
	case ClonerGoGit, ClonerExec:
	default:
		return fmt.Errorf("invalid retrieval.cloner %q: must be %q or %q", c.Retrieval.Cloner, ClonerGoGit, ClonerExec)
	}

	if c.Extract.MaxEntries < 1 {
		c.Extract.MaxEntries = DefaultExtractMaxEntries
	}

	if c.Server.RequestTimeout < time.Second {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.ShutdownTimeout < time.Second {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	sizes := []struct {
		field string
		value *string
		def   string
	}{
		{"retrieval.max_bytes", &c.Retrieval.MaxBytes, DefaultRetrievalMaxBytes},
		{"extract.max_bytes", &c.Extract.MaxBytes, DefaultExtractMaxBytes},
		{"scan.max_file_size", &c.Scan.MaxFileSize, DefaultScanMaxFileSize},
		{"scan.max_line_bytes", &c.Scan.MaxLineBytes, DefaultScanMaxLineBytes},
	}
	for _, s := range sizes {
		if *s.value == "" {
			*s.value = s.def
			continue
		}
		if _, err := ParseSize(*s.value); err != nil {
			return fmt.Errorf("invalid %s: %w", s.field, err)
		}
	}
	return nil
}

// RetrievalMaxBytes returns the parsed retrieval bound
func (c *Config) RetrievalMaxBytes() int64 {
	return mustSize(c.Retrieval.MaxBytes, DefaultRetrievalMaxBytes)
}

// ExtractMaxBytes returns the parsed extraction bound
func (c *Config) ExtractMaxBytes() int64 {
	return mustSize(c.Extract.MaxBytes, DefaultExtractMaxBytes)
}

// ScanMaxFileSize returns the parsed per-file scan bound
func (c *Config) ScanMaxFileSize() int64 {
	return mustSize(c.Scan.MaxFileSize, DefaultScanMaxFileSize)
}

// ScanMaxLineBytes returns the parsed line buffer bound
func (c *Config) ScanMaxLineBytes() int {
	return int(mustSize(c.Scan.MaxLineBytes, DefaultScanMaxLineBytes))
}

// PipelineDefaults returns the options applied when a request leaves fields unset
func (c *Config) PipelineDefaults() domain.PipelineOptions {
	return domain.PipelineOptions{
		MaxRetrievedBytes:   c.RetrievalMaxBytes(),
		RetrievalTimeout:    c.Retrieval.Timeout,
		FollowHiddenFiles:   domain.Bool(c.Scan.FollowHidden),
		ExtraIgnorePatterns: c.Scan.ExtraIgnore,
	}
}

func mustSize(s, def string) int64 {
	n, err := ParseSize(s)
	if err != nil {
		n, _ = ParseSize(def)
	}
	return n
}

// ParseSize parses a human-readable size such as "100MB"
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	var multiplier int64 = 1
	if strings.HasSuffix(s, "GB") {
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	} else if strings.HasSuffix(s, "MB") {
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	} else if strings.HasSuffix(s, "KB") {
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	} else if strings.HasSuffix(s, "B") {
		s = strings.TrimSuffix(s, "B")
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("no numeric value in size string")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}

	if n < 0 {
		return 0, fmt.Errorf("negative size not allowed")
	}

	return n * multiplier, nil
}
