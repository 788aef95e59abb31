package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/quantmind-br/reposcan/internal/app"
	"github.com/quantmind-br/reposcan/internal/metrics"
	"github.com/quantmind-br/reposcan/internal/server"
	"github.com/quantmind-br/reposcan/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scan service",
		Long: `Serve exposes POST /search, POST /analyze, GET /health and GET /metrics.

A .env file in the working directory is loaded first. Workspaces left behind
by earlier processes are swept at startup.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (default from config, :8080)")
	cmd.Flags().Duration("request-timeout", 0, "Pipeline timeout per request (default from config)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("server.request_timeout", cmd.Flags().Lookup("request-timeout"))
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	m := metrics.New()
	orch, err := app.NewOrchestrator(app.OrchestratorOptions{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := orch.Workspaces().Sweep(ctx, cfg.Workspace.StaleAfter); err != nil {
		logger.Warn().Err(err).Msg("Startup sweep failed")
	} else if n > 0 {
		logger.Info().Int("removed", n).Msg("Removed stale workspaces")
	}

	srv := server.New(server.Config{
		Listen:          cfg.Server.Listen,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Version:         version.Short(),
	}, orch, m, logger)
	return srv.Start(ctx)
}
