package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/quantmind-br/reposcan/internal/config"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/utils"
	"github.com/quantmind-br/reposcan/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode returns 2 for errors caused by the request itself, 1 otherwise
func exitCode(err error) int {
	var pe *domain.PipelineError
	if errors.As(err, &pe) && pe.Kind.IsUserError() {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reposcan",
		Short: "Fetch a repository or archive and scan its contents",
		Long: `reposcan retrieves a source tree, either a remote tar archive or a git
repository, into a throwaway workspace, walks it honoring ignore files and
searches file contents for a substring or counts keyword occurrences.

The workspace is removed when the scan finishes, whatever the outcome.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ~/.reposcan/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", config.DefaultLogFormat, "Log format (pretty, json)")
	flags.String("max-bytes", config.DefaultRetrievalMaxBytes, "Maximum retrieved archive size")
	flags.Duration("timeout", config.DefaultRetrievalTimeout, "Retrieval timeout")
	flags.Bool("hidden", false, "Scan hidden files and directories")
	flags.StringSlice("ignore", nil, "Extra gitignore-style pattern (repeatable)")
	flags.String("cloner", string(config.DefaultCloner), "Clone implementation (go-git, exec)")
	flags.String("workspace-dir", "", "Directory holding workspaces (default is the system temp dir)")

	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("retrieval.max_bytes", flags.Lookup("max-bytes"))
	_ = viper.BindPFlag("retrieval.timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("scan.follow_hidden", flags.Lookup("hidden"))
	_ = viper.BindPFlag("scan.extra_ignore", flags.Lookup("ignore"))
	_ = viper.BindPFlag("retrieval.cloner", flags.Lookup("cloner"))

	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// setup loads configuration and builds the logger for a command
func setup(cmd *cobra.Command) (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dir, _ := cmd.Flags().GetString("workspace-dir"); dir != "" {
		cfg.Workspace.BaseDir = dir
	}

	logger := utils.NewLogger(utils.LoggerOptions{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cmd.ErrOrStderr(),
		Verbose: verbose,
	})
	return cfg, logger, nil
}
