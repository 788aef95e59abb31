package domain

import "time"

// PipelineOptions are the per-request options of a pipeline run.
// Zero values fall back to the configured defaults.
type PipelineOptions struct {
	MaxRetrievedBytes   int64         `json:"max_retrieved_bytes,omitempty" yaml:"max_retrieved_bytes,omitempty"`
	RetrievalTimeout    time.Duration `json:"retrieval_timeout,omitempty" yaml:"retrieval_timeout,omitempty"`
	FollowHiddenFiles   *bool         `json:"follow_hidden_files,omitempty" yaml:"follow_hidden_files,omitempty"`
	ExtraIgnorePatterns []string      `json:"extra_ignore_patterns,omitempty" yaml:"extra_ignore_patterns,omitempty"`
}

// WithDefaults returns a copy with zero values replaced from def
func (o PipelineOptions) WithDefaults(def PipelineOptions) PipelineOptions {
	if o.MaxRetrievedBytes <= 0 {
		o.MaxRetrievedBytes = def.MaxRetrievedBytes
	}
	if o.RetrievalTimeout <= 0 {
		o.RetrievalTimeout = def.RetrievalTimeout
	}
	if o.FollowHiddenFiles == nil {
		o.FollowHiddenFiles = def.FollowHiddenFiles
	}
	if len(def.ExtraIgnorePatterns) > 0 {
		merged := make([]string, 0, len(def.ExtraIgnorePatterns)+len(o.ExtraIgnorePatterns))
		merged = append(merged, def.ExtraIgnorePatterns...)
		o.ExtraIgnorePatterns = append(merged, o.ExtraIgnorePatterns...)
	}
	return o
}

// Hidden reports whether hidden entries are visited
func (o PipelineOptions) Hidden() bool {
	return o.FollowHiddenFiles != nil && *o.FollowHiddenFiles
}

// Bool returns a pointer to b
func Bool(b bool) *bool {
	return &b
}
