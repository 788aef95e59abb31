package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
	"gopkg.in/yaml.v3"
)

// Format selects how a response is rendered
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists the supported formats
var Formats = []Format{FormatText, FormatJSON, FormatYAML}

// ParseFormat parses a format name, defaulting to text
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q (expected text, json or yaml)", s)
}

// Writer renders scan responses
type Writer struct {
	format  Format
	verbose bool
}

// WriterOptions contains options for the writer
type WriterOptions struct {
	Format Format
	// Verbose adds diagnostics to text output
	Verbose bool
}

// NewWriter creates a new response writer
func NewWriter(opts WriterOptions) *Writer {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return &Writer{format: opts.Format, verbose: opts.Verbose}
}

// Format returns the writer's format
func (w *Writer) Format() Format {
	return w.format
}

// Write renders resp to out
func (w *Writer) Write(out io.Writer, resp *domain.ScanResponse) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		return w.writeText(out, resp)
	}
	return fmt.Errorf("unknown format %q", w.format)
}

// WriteFile renders resp into the file at path, creating parent directories
func (w *Writer) WriteFile(path string, resp *domain.ScanResponse) error {
	if err := utils.EnsureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := w.Write(f, resp); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) writeText(out io.Writer, resp *domain.ScanResponse) error {
	if resp.Metrics != nil {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "files\t%d\n", resp.Metrics.FilesScanned)
		fmt.Fprintf(tw, "lines\t%d\n", resp.Metrics.TotalLines)
		for _, kc := range resp.Metrics.Keywords {
			fmt.Fprintf(tw, "%s\t%d\n", kc.Keyword, kc.Lines)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	} else {
		for _, m := range resp.Matches {
			if _, err := fmt.Fprintf(out, "%s:%d:%s\n", m.File, m.Line, m.Text); err != nil {
				return err
			}
		}
	}

	if w.verbose {
		for _, d := range resp.Diagnostics {
			if d.Path != "" {
				fmt.Fprintf(out, "warning: %s: %s: %s\n", d.Kind, d.Path, d.Message)
			} else {
				fmt.Fprintf(out, "warning: %s: %s\n", d.Kind, d.Message)
			}
		}
	}

	_, err := fmt.Fprintf(out, "-- %d match(es), %d file(s) scanned, %d skipped in %s\n",
		len(resp.Matches), resp.FilesScanned, resp.FilesSkipped, resp.Duration.Round(time.Millisecond))
	return err
}
