package domain

import (
	"errors"
	"strings"
	"time"
)

// SourceKind tags how a source is acquired
type SourceKind string

const (
	SourceArchive SourceKind = "archive"
	SourceClone   SourceKind = "clone"
)

// SourceDescriptor identifies the remote content of one request
type SourceDescriptor struct {
	Kind SourceKind `json:"kind" yaml:"kind"`
	URL  string     `json:"url" yaml:"url"`
	// Ref is the branch to fetch; empty means the remote default
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`
	// Subdir is a clone destination below the workspace root
	Subdir string `json:"subdir,omitempty" yaml:"subdir,omitempty"`
	// StripComponents drops leading path elements from archive entries
	StripComponents int `json:"strip_components,omitempty" yaml:"strip_components,omitempty"`
}

// Validate checks the descriptor
func (s SourceDescriptor) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return NewValidationError("source.url", "must not be empty")
	}
	switch s.Kind {
	case SourceArchive, SourceClone:
	default:
		return NewValidationError("source.kind", "must be \"archive\" or \"clone\"")
	}
	if s.StripComponents < 0 {
		return NewValidationError("source.strip_components", "must not be negative")
	}
	return nil
}

// RetrievedSource is the output of a Retriever.
// Exactly one of Archive or Tree is set, according to Kind.
type RetrievedSource struct {
	Kind SourceKind
	// Archive is the file holding the raw compressed bytes
	Archive string
	// Tree is the directory the clone tool materialized
	Tree string
	// Bytes is the number of bytes retrieved, when known
	Bytes int64
	// Output is the diagnostic output captured from the clone tool
	Output string
}

// QueryKind selects the analysis strategy
type QueryKind string

const (
	QuerySubstring QueryKind = "substring"
	QueryKeywords  QueryKind = "keywords"
)

// DefaultKeywords are counted when a keyword query names none
var DefaultKeywords = []string{"TODO", "FIXME", "HACK", "XXX"}

// ScanQuery is the caller's analysis request
type ScanQuery struct {
	Kind      QueryKind `json:"kind" yaml:"kind"`
	Substring string    `json:"substring,omitempty" yaml:"substring,omitempty"`
	Keywords  []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// NewSubstringQuery creates a substring query
func NewSubstringQuery(s string) ScanQuery {
	return ScanQuery{Kind: QuerySubstring, Substring: s}
}

// NewKeywordQuery creates a keyword analysis query.
// Empty and duplicate keywords are dropped; DefaultKeywords apply when none remain.
func NewKeywordQuery(keywords ...string) ScanQuery {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	if len(out) == 0 {
		out = append(out, DefaultKeywords...)
	}
	return ScanQuery{Kind: QueryKeywords, Keywords: out}
}

// Validate checks the query
func (q ScanQuery) Validate() error {
	switch q.Kind {
	case QuerySubstring:
		if q.Substring == "" {
			return NewValidationError("query", "substring must not be empty")
		}
	case QueryKeywords:
		if len(q.Keywords) == 0 {
			return NewValidationError("keywords", "at least one keyword is required")
		}
		for _, kw := range q.Keywords {
			if kw == "" {
				return NewValidationError("keywords", "keywords must not be empty")
			}
		}
	default:
		return NewValidationError("query.kind", "must be \"substring\" or \"keywords\"")
	}
	return nil
}

// FileKind classifies a traversed entry
type FileKind string

const (
	FileRegular FileKind = "regular"
	FileOther   FileKind = "other"
)

// CandidateFile is a file surfaced by the tree walker
type CandidateFile struct {
	Path string   // slash-separated, relative to the workspace root
	Kind FileKind // regular or other (symlinks, devices, sockets)
	Size int64
}

// IsRegular reports whether the file can be scanned
func (f CandidateFile) IsRegular() bool {
	return f.Kind == FileRegular
}

// MatchRecord is one reported occurrence or aggregate metric
type MatchRecord struct {
	File  string `json:"file" yaml:"file"`
	Line  int    `json:"line,omitempty" yaml:"line,omitempty"` // 1-based, 0 for aggregates
	Text  string `json:"text,omitempty" yaml:"text,omitempty"`
	Count int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// KeywordCount is the number of lines containing one keyword
type KeywordCount struct {
	Keyword string `json:"keyword" yaml:"keyword"`
	Lines   int    `json:"lines" yaml:"lines"`
}

// KeywordMetrics is the aggregate result of a keyword analysis
type KeywordMetrics struct {
	FilesScanned int            `json:"files_scanned" yaml:"files_scanned"`
	TotalLines   int            `json:"total_lines" yaml:"total_lines"`
	Keywords     []KeywordCount `json:"keywords" yaml:"keywords"`
}

// Diagnostic records a non-fatal per-entry or per-file failure
type Diagnostic struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
}

// DiagnosticFromError converts a non-fatal pipeline error into a Diagnostic
func DiagnosticFromError(err error) Diagnostic {
	d := Diagnostic{Kind: KindOf(err), Message: err.Error()}
	var pe *PipelineError
	if errors.As(err, &pe) {
		d.Path = pe.Path
		if pe.Err != nil {
			d.Message = pe.Err.Error()
		}
	}
	return d
}

// ScanResponse is the result of one pipeline run
type ScanResponse struct {
	Source       SourceDescriptor `json:"source" yaml:"source"`
	Query        ScanQuery        `json:"query" yaml:"query"`
	Matches      []MatchRecord    `json:"matches" yaml:"matches"`
	Metrics      *KeywordMetrics  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Diagnostics  []Diagnostic     `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	FilesScanned int              `json:"files_scanned" yaml:"files_scanned"`
	FilesSkipped int              `json:"files_skipped" yaml:"files_skipped"`
	Duration     time.Duration    `json:"duration" yaml:"duration"`
}
