package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantmind-br/reposcan/internal/app"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/output"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <source> <substring>",
		Short: "Report every line containing a substring",
		Long: `Search retrieves <source> and prints file:line:text for every line that
contains <substring>.

<source> is an archive URL (.tar.gz, .tgz, .tar, .tar.zst), a git URL, or
either one tagged with an "archive:" or "git:" prefix.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], domain.NewSubstringQuery(args[1]))
		},
	}
	addScanFlags(cmd)
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <source>",
		Short: "Count lines containing each keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keywords, _ := cmd.Flags().GetStringSlice("keyword")
			query := domain.ScanQuery{Kind: domain.QueryKeywords}
			if len(keywords) > 0 {
				query = domain.NewKeywordQuery(keywords...)
			}
			return runScan(cmd, args[0], query)
		},
	}
	addScanFlags(cmd)
	cmd.Flags().StringSliceP("keyword", "k", nil, "Keyword to count (repeatable, default from config)")
	return cmd
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().String("ref", "", "Branch or tag to retrieve")
	cmd.Flags().String("subdir", "", "Clone destination below the workspace root")
	cmd.Flags().Int("strip", 0, "Leading path components to strip from archive entries")
	cmd.Flags().StringP("format", "f", string(output.FormatText), "Output format (text, json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().Bool("progress", false, "Show a progress spinner while scanning")
}

func runScan(cmd *cobra.Command, source string, query domain.ScanQuery) error {
	format, _ := cmd.Flags().GetString("format")
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}

	src, err := app.ParseSource(source)
	if err != nil {
		return domain.NewPipelineError(domain.KindInvalidRequest, "", err)
	}
	src.Ref, _ = cmd.Flags().GetString("ref")
	src.Subdir, _ = cmd.Flags().GetString("subdir")
	src.StripComponents, _ = cmd.Flags().GetInt("strip")

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	showProgress, _ := cmd.Flags().GetBool("progress")

	orch, err := app.NewOrchestrator(app.OrchestratorOptions{
		Config:       cfg,
		Logger:       logger,
		ShowProgress: showProgress,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := orch.Run(ctx, src, query, domain.PipelineOptions{})
	if err != nil {
		return err
	}

	writer := output.NewWriter(output.WriterOptions{Format: f, Verbose: verbose})
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		return writer.WriteFile(path, resp)
	}
	return writer.Write(cmd.OutOrStdout(), resp)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
