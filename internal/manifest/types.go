package manifest

import (
	"fmt"
	"strings"
)

// Config represents the complete manifest configuration
type Config struct {
	Sources []Source `yaml:"sources" json:"sources"`
	Options Options  `yaml:"options" json:"options"`
}

// Source represents one source to scan
type Source struct {
	URL string `yaml:"url" json:"url"`
	// Kind is "archive" or "clone"; empty detects it from the URL
	Kind            string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Ref             string   `yaml:"ref,omitempty" json:"ref,omitempty"`
	Subdir          string   `yaml:"subdir,omitempty" json:"subdir,omitempty"`
	StripComponents int      `yaml:"strip_components,omitempty" json:"strip_components,omitempty"`
	Query           string   `yaml:"query,omitempty" json:"query,omitempty"`
	Keywords        []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Ignore          []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
	Hidden          *bool    `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// Name returns a short label for the source
func (s Source) Name() string {
	if s.Ref != "" {
		return s.URL + "@" + s.Ref
	}
	return s.URL
}

// Options represents global manifest options
type Options struct {
	ContinueOnError bool   `yaml:"continue_on_error" json:"continue_on_error"`
	Concurrency     int    `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	// Output is a directory receiving one report per source; empty prints reports
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Validate validates the manifest configuration
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	for i, src := range c.Sources {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("source %d: %w", i, ErrEmptyURL)
		}
		switch src.Kind {
		case "", "archive", "clone":
		default:
			return fmt.Errorf("source %d: %w: %q", i, ErrInvalidKind, src.Kind)
		}
	}
	return nil
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions() Options {
	return Options{
		ContinueOnError: false,
		Concurrency:     2,
		Format:          "text",
	}
}
