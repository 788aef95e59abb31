package output

import (
	"sync"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
)

// Collector aggregates the findings of one pipeline run in production order
type Collector struct {
	mu          sync.RWMutex
	source      domain.SourceDescriptor
	query       domain.ScanQuery
	matches     []domain.MatchRecord
	metrics     *domain.KeywordMetrics
	diagnostics []domain.Diagnostic
	scanned     int
	skipped     int
	started     time.Time
}

// CollectorOptions contains the request the collector reports on
type CollectorOptions struct {
	Source domain.SourceDescriptor
	Query  domain.ScanQuery
}

// NewCollector creates a collector and starts its clock
func NewCollector(opts CollectorOptions) *Collector {
	return &Collector{
		source:  opts.Source,
		query:   opts.Query,
		matches: make([]domain.MatchRecord, 0),
		started: time.Now(),
	}
}

// AddMatch records one finding
func (c *Collector) AddMatch(m domain.MatchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches = append(c.matches, m)
}

// SetMetrics records the aggregate keyword metrics
func (c *Collector) SetMetrics(m *domain.KeywordMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// AddDiagnostic records a non-fatal failure
func (c *Collector) AddDiagnostic(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diagnostics = append(c.diagnostics, domain.DiagnosticFromError(err))
}

// AddDiagnostics records diagnostics produced elsewhere
func (c *Collector) AddDiagnostics(ds ...domain.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diagnostics = append(c.diagnostics, ds...)
}

// FileScanned counts one fully scanned file
func (c *Collector) FileScanned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanned++
}

// FileSkipped counts one skipped or failed file
func (c *Collector) FileSkipped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped++
}

// Count returns the number of matches recorded
func (c *Collector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.matches)
}

// Response builds the response from everything recorded so far
func (c *Collector) Response() *domain.ScanResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]domain.MatchRecord, len(c.matches))
	copy(matches, c.matches)

	var diagnostics []domain.Diagnostic
	if len(c.diagnostics) > 0 {
		diagnostics = make([]domain.Diagnostic, len(c.diagnostics))
		copy(diagnostics, c.diagnostics)
	}

	return &domain.ScanResponse{
		Source:       c.source,
		Query:        c.query,
		Matches:      matches,
		Metrics:      c.metrics,
		Diagnostics:  diagnostics,
		FilesScanned: c.scanned,
		FilesSkipped: c.skipped,
		Duration:     time.Since(c.started),
	}
}
