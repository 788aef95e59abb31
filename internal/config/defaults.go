package config

import (
	"os"
	"path/filepath"
	"time"
)

// Cloner backends
const (
	ClonerGoGit = "go-git"
	ClonerExec  = "exec"
)

// Default values
const (
	// Workspace defaults
	DefaultWorkspacePrefix = "reposcan-"
	DefaultStaleAfter      = time.Hour

	// Retrieval defaults
	DefaultRetrievalMaxBytes = "100MB"
	DefaultRetrievalTimeout  = 2 * time.Minute
	DefaultMaxRetries        = 3
	DefaultUserAgent         = "reposcan"
	DefaultCloner            = ClonerGoGit
	DefaultCloneDepth        = 1

	// Extract defaults
	DefaultExtractMaxBytes   = "1GB"
	DefaultExtractMaxEntries = 200000

	// Scan defaults
	DefaultScanMaxFileSize  = "10MB"
	DefaultScanMaxLineBytes = "1MB"

	// Server defaults
	DefaultListen          = ":8080"
	DefaultRequestTimeout  = 5 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "pretty"
)

// DefaultIgnoreFiles are the ignore files discovered in a workspace
var DefaultIgnoreFiles = []string{".gitignore", ".ignore"}

// DefaultKeywords are counted by analyze when none are given
var DefaultKeywords = []string{"TODO", "FIXME", "HACK", "XXX"}

// ConfigDir returns the config directory path
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reposcan"
	}
	return filepath.Join(home, ".reposcan")
}

// ConfigFilePath returns the config file path
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			BaseDir:    os.TempDir(),
			Prefix:     DefaultWorkspacePrefix,
			StaleAfter: DefaultStaleAfter,
		},
		Retrieval: RetrievalConfig{
			MaxBytes:   DefaultRetrievalMaxBytes,
			Timeout:    DefaultRetrievalTimeout,
			MaxRetries: DefaultMaxRetries,
			UserAgent:  DefaultUserAgent,
			Cloner:     DefaultCloner,
			CloneDepth: DefaultCloneDepth,
		},
		Extract: ExtractConfig{
			MaxBytes:   DefaultExtractMaxBytes,
			MaxEntries: DefaultExtractMaxEntries,
		},
		Scan: ScanConfig{
			FollowHidden: false,
			IgnoreFiles:  DefaultIgnoreFiles,
			MaxFileSize:  DefaultScanMaxFileSize,
			MaxLineBytes: DefaultScanMaxLineBytes,
			Keywords:     DefaultKeywords,
		},
		Server: ServerConfig{
			Listen:          DefaultListen,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
