package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantmind-br/reposcan/internal/app"
	"github.com/quantmind-br/reposcan/internal/domain"
)

// SourceRequest describes the source of a scan request
type SourceRequest struct {
	// Kind is "archive" or "clone"; empty detects it from the URL
	Kind            string `json:"kind,omitempty"`
	URL             string `json:"url"`
	Ref             string `json:"ref,omitempty"`
	Subdir          string `json:"subdir,omitempty"`
	StripComponents int    `json:"strip_components,omitempty"`
}

// OptionsRequest carries per-request pipeline options
type OptionsRequest struct {
	MaxRetrievedBytes int64 `json:"max_retrieved_bytes,omitempty"`
	// RetrievalTimeout is a Go duration such as "30s"
	RetrievalTimeout    string   `json:"retrieval_timeout,omitempty"`
	FollowHiddenFiles   *bool    `json:"follow_hidden_files,omitempty"`
	ExtraIgnorePatterns []string `json:"extra_ignore_patterns,omitempty"`
}

// SearchRequest is the JSON body for POST /search
type SearchRequest struct {
	Source  SourceRequest  `json:"source"`
	Query   string         `json:"query"`
	Options OptionsRequest `json:"options"`
}

// AnalyzeRequest is the JSON body for POST /analyze
type AnalyzeRequest struct {
	Source   SourceRequest  `json:"source"`
	Keywords []string       `json:"keywords,omitempty"`
	Options  OptionsRequest `json:"options"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Kind    domain.Kind  `json:"kind"`
	Stage   domain.Stage `json:"stage,omitempty"`
	Message string       `json:"message"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Descriptor converts the request into a source descriptor
func (r SourceRequest) Descriptor() (domain.SourceDescriptor, error) {
	src := domain.SourceDescriptor{
		Kind:            domain.SourceKind(strings.ToLower(strings.TrimSpace(r.Kind))),
		URL:             strings.TrimSpace(r.URL),
		Ref:             r.Ref,
		Subdir:          r.Subdir,
		StripComponents: r.StripComponents,
	}
	if src.Kind != "" {
		return src, nil
	}

	parsed, err := app.ParseSource(src.URL)
	if err != nil {
		return domain.SourceDescriptor{}, err
	}
	src.Kind = parsed.Kind
	src.URL = parsed.URL
	return src, nil
}

// Pipeline converts the request into pipeline options
func (o OptionsRequest) Pipeline() (domain.PipelineOptions, error) {
	opts := domain.PipelineOptions{
		MaxRetrievedBytes:   o.MaxRetrievedBytes,
		FollowHiddenFiles:   o.FollowHiddenFiles,
		ExtraIgnorePatterns: o.ExtraIgnorePatterns,
	}
	if o.MaxRetrievedBytes < 0 {
		return opts, domain.NewValidationError("options.max_retrieved_bytes", "must not be negative")
	}
	if o.RetrievalTimeout != "" {
		d, err := time.ParseDuration(o.RetrievalTimeout)
		if err != nil || d < 0 {
			return opts, domain.NewValidationError("options.retrieval_timeout", fmt.Sprintf("invalid duration %q", o.RetrievalTimeout))
		}
		opts.RetrievalTimeout = d
	}
	return opts, nil
}
