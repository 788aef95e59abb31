package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (REPOSCAN_*)
const EnvPrefix = "REPOSCAN"

// Load loads configuration from file, environment, and defaults
// Uses the global viper instance to access CLI flag bindings
func Load() (*Config, error) {
	v := viper.GetViper()
	return load(v)
}

// LoadWithViper loads configuration and returns the viper instance
// This is useful for merging CLI flags later
func LoadWithViper() (*Config, *viper.Viper, error) {
	v := viper.New()
	cfg, err := load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath(".")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Environment variables (REPOSCAN_*)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate and apply defaults for invalid values
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Workspace defaults
	v.SetDefault("workspace.base_dir", os.TempDir())
	v.SetDefault("workspace.prefix", DefaultWorkspacePrefix)
	v.SetDefault("workspace.stale_after", DefaultStaleAfter)

	// Retrieval defaults
	v.SetDefault("retrieval.max_bytes", DefaultRetrievalMaxBytes)
	v.SetDefault("retrieval.timeout", DefaultRetrievalTimeout)
	v.SetDefault("retrieval.max_retries", DefaultMaxRetries)
	v.SetDefault("retrieval.user_agent", DefaultUserAgent)
	v.SetDefault("retrieval.cloner", DefaultCloner)
	v.SetDefault("retrieval.clone_depth", DefaultCloneDepth)

	// Extract defaults
	v.SetDefault("extract.max_bytes", DefaultExtractMaxBytes)
	v.SetDefault("extract.max_entries", DefaultExtractMaxEntries)

	// Scan defaults
	v.SetDefault("scan.follow_hidden", false)
	v.SetDefault("scan.ignore_files", DefaultIgnoreFiles)
	v.SetDefault("scan.extra_ignore", []string{})
	v.SetDefault("scan.max_file_size", DefaultScanMaxFileSize)
	v.SetDefault("scan.max_line_bytes", DefaultScanMaxLineBytes)
	v.SetDefault("scan.keywords", DefaultKeywords)

	// Server defaults
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.request_timeout", DefaultRequestTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	dir := ConfigDir()
	return os.MkdirAll(dir, 0755)
}
