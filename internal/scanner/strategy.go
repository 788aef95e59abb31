package scanner

import (
	"fmt"
	"strings"

	"github.com/quantmind-br/reposcan/internal/domain"
)

// Sink receives the findings of a strategy
type Sink interface {
	AddMatch(domain.MatchRecord)
	SetMetrics(*domain.KeywordMetrics)
}

// Strategy analyses files one line at a time
type Strategy interface {
	// Name returns the strategy name
	Name() string
	// Begin starts the scan of one file
	Begin(path string) FileAccumulator
	// Finish flushes request-level results into the sink
	Finish()
}

// FileAccumulator buffers the findings of one file.
// Nothing reaches the sink unless Commit is called.
type FileAccumulator interface {
	Line(n int, text string)
	Commit()
}

// NewStrategy returns the strategy for q
func NewStrategy(q domain.ScanQuery, sink Sink) (Strategy, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	switch q.Kind {
	case domain.QuerySubstring:
		return NewSubstring(q.Substring, sink), nil
	case domain.QueryKeywords:
		return NewKeywords(q.Keywords, sink), nil
	}
	return nil, fmt.Errorf("unsupported query kind %q", q.Kind)
}

// Substring reports every line containing a literal needle.
// Matching is case-sensitive and byte-wise.
type Substring struct {
	needle string
	sink   Sink
}

// NewSubstring creates a substring strategy
func NewSubstring(needle string, sink Sink) *Substring {
	return &Substring{needle: needle, sink: sink}
}

// Name implements Strategy
func (s *Substring) Name() string { return string(domain.QuerySubstring) }

// Begin implements Strategy
func (s *Substring) Begin(path string) FileAccumulator {
	return &substringFile{s: s, path: path}
}

// Finish implements Strategy
func (s *Substring) Finish() {}

type substringFile struct {
	s       *Substring
	path    string
	pending []domain.MatchRecord
}

func (f *substringFile) Line(n int, text string) {
	if strings.Contains(text, f.s.needle) {
		f.pending = append(f.pending, domain.MatchRecord{File: f.path, Line: n, Text: text})
	}
}

func (f *substringFile) Commit() {
	for _, m := range f.pending {
		f.s.sink.AddMatch(m)
	}
	f.pending = nil
}

// Keywords counts total lines and, per keyword, the lines containing it.
// A line holding a keyword several times counts once.
type Keywords struct {
	keywords []string
	sink     Sink

	files int
	lines int
	hits  []int
}

// NewKeywords creates a keyword analysis strategy
func NewKeywords(keywords []string, sink Sink) *Keywords {
	return &Keywords{
		keywords: keywords,
		sink:     sink,
		hits:     make([]int, len(keywords)),
	}
}

// Name implements Strategy
func (k *Keywords) Name() string { return string(domain.QueryKeywords) }

// Begin implements Strategy
func (k *Keywords) Begin(string) FileAccumulator {
	return &keywordFile{k: k, hits: make([]int, len(k.keywords))}
}

// Metrics returns the totals committed so far
func (k *Keywords) Metrics() *domain.KeywordMetrics {
	m := &domain.KeywordMetrics{
		FilesScanned: k.files,
		TotalLines:   k.lines,
		Keywords:     make([]domain.KeywordCount, len(k.keywords)),
	}
	for i, kw := range k.keywords {
		m.Keywords[i] = domain.KeywordCount{Keyword: kw, Lines: k.hits[i]}
	}
	return m
}

// Finish emits one aggregate record per keyword and the metrics
func (k *Keywords) Finish() {
	m := k.Metrics()
	for _, kc := range m.Keywords {
		k.sink.AddMatch(domain.MatchRecord{Text: kc.Keyword, Count: kc.Lines})
	}
	k.sink.SetMetrics(m)
}

type keywordFile struct {
	k     *Keywords
	lines int
	hits  []int
}

func (f *keywordFile) Line(_ int, text string) {
	f.lines++
	for i, kw := range f.k.keywords {
		if strings.Contains(text, kw) {
			f.hits[i]++
		}
	}
}

func (f *keywordFile) Commit() {
	f.k.files++
	f.k.lines += f.lines
	for i, n := range f.hits {
		f.k.hits[i] += n
	}
}
