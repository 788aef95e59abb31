package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/quantmind-br/reposcan/internal/app"
	"github.com/quantmind-br/reposcan/internal/manifest"
	"github.com/quantmind-br/reposcan/internal/output"
	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <manifest>",
		Short: "Scan every source listed in a manifest",
		Long: `Batch loads a YAML or JSON manifest and scans its sources concurrently.

Example manifest:

  sources:
    - url: https://github.com/owner/repo
      kind: archive
      ref: main
      query: needle
    - url: https://example.com/team/repo.git
      keywords: [TODO, FIXME]
  options:
    concurrency: 2
    continue_on_error: true
    output: ./reports
    format: json`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}
	cmd.Flags().Bool("continue-on-error", false, "Keep scanning after a source fails")
	cmd.Flags().IntP("concurrency", "j", 0, "Sources scanned at once (default from manifest)")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	mcfg, err := manifest.NewLoader().Load(args[0])
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("continue-on-error") {
		mcfg.Options.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		mcfg.Options.Concurrency = n
	}
	format, err := output.ParseFormat(mcfg.Options.Format)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	orch, err := app.NewOrchestrator(app.OrchestratorOptions{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, runErr := orch.RunManifest(ctx, mcfg, nil)

	writer := output.NewWriter(output.WriterOptions{Format: format, Verbose: verbose})
	if err := writeBatch(cmd.OutOrStdout(), writer, mcfg.Options.Output, results); err != nil {
		return err
	}
	return runErr
}

// writeBatch prints every finished result in manifest order, or writes one
// report per source into dir when it is set
func writeBatch(out io.Writer, writer *output.Writer, dir string, results []app.BatchResult) error {
	for i, r := range results {
		name := r.Source.Name()
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "== %s: FAILED: %v\n", name, r.Err)
		case r.Response == nil:
			fmt.Fprintf(out, "== %s: not run\n", name)
		case dir != "":
			path := filepath.Join(dir, reportName(i, name, writer.Format()))
			if err := writer.WriteFile(path, r.Response); err != nil {
				return err
			}
			fmt.Fprintf(out, "== %s: %s\n", name, path)
		default:
			fmt.Fprintf(out, "== %s\n", name)
			if err := writer.Write(out, r.Response); err != nil {
				return err
			}
		}
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// reportName derives a file name from a source label
func reportName(i int, name string, format output.Format) string {
	name = strings.TrimPrefix(strings.TrimPrefix(name, "https://"), "http://")
	slug := strings.Trim(unsafeNameChars.ReplaceAllString(name, "-"), "-.")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	ext := string(format)
	if format == output.FormatText {
		ext = "txt"
	}
	return fmt.Sprintf("%02d-%s.%s", i+1, slug, ext)
}
