package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.False(t, opts.ContinueOnError, "ContinueOnError should default to false")
	assert.Equal(t, 2, opts.Concurrency)
	assert.Equal(t, "text", opts.Format)
	assert.Empty(t, opts.Output)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
		wantErr error
		errText string
	}{
		{"no sources", []Source{}, ErrNoSources, ""},
		{"empty url", []Source{{URL: "https://example.com/a.tgz"}, {URL: " "}}, ErrEmptyURL, "source 1"},
		{"empty url first source", []Source{{URL: ""}, {URL: "https://example.com/a.tgz"}}, ErrEmptyURL, "source 0"},
		{"bad kind", []Source{{URL: "https://example.com", Kind: "ftp"}}, ErrInvalidKind, `"ftp"`},
		{"valid", []Source{{URL: "https://example.com/a.tgz"}, {URL: "https://github.com/o/r", Kind: "clone"}}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Sources: tt.sources, Options: DefaultOptions()}

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestSource_Name(t *testing.T) {
	assert.Equal(t, "https://github.com/o/r", Source{URL: "https://github.com/o/r"}.Name())
	assert.Equal(t, "https://github.com/o/r@dev", Source{URL: "https://github.com/o/r", Ref: "dev"}.Name())
}
