package main

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/quantmind-br/reposcan/internal/config"
	"github.com/quantmind-br/reposcan/internal/utils"
	"github.com/quantmind-br/reposcan/internal/workspace"
	"github.com/quantmind-br/reposcan/pkg/version"
	"github.com/spf13/cobra"
)

// Dependencies for testing
var (
	execLookPath = exec.LookPath
	internetURL  = "https://github.com"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove workspaces left behind by crashed runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			olderThan := cfg.Workspace.StaleAfter
			if cmd.Flags().Changed("older-than") {
				olderThan, _ = cmd.Flags().GetDuration("older-than")
			}

			m, err := workspace.NewManager(workspace.Options{
				BaseDir: utils.ExpandPath(cfg.Workspace.BaseDir),
				Prefix:  cfg.Workspace.Prefix,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			n, err := m.Sweep(commandContext(cmd), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d workspace(s) older than %s from %s\n", n, olderThan, m.BaseDir())
			return nil
		},
	}
	cmd.Flags().Duration("older-than", config.DefaultStaleAfter, "Minimum workspace age")
	return cmd
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system dependencies",
	Long:  "Verifies that the workspace directory is usable and that retrieval dependencies are available.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Checking system dependencies...")
		allPassed := true

		fmt.Fprint(out, "  Config file: ")
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(out, "WARN (%v)\n", err)
			cfg = config.Default()
		} else {
			fmt.Fprintln(out, "OK")
		}

		fmt.Fprint(out, "  Workspace directory: ")
		if dir, err := checkWorkspace(cfg); err == nil {
			fmt.Fprintf(out, "OK (%s)\n", dir)
		} else {
			fmt.Fprintf(out, "FAILED (%v)\n", err)
			allPassed = false
		}

		fmt.Fprint(out, "  git binary: ")
		if path, err := execLookPath("git"); err == nil {
			fmt.Fprintf(out, "OK (%s)\n", path)
		} else if cfg.Retrieval.Cloner == config.ClonerExec {
			fmt.Fprintln(out, "NOT FOUND (required by cloner \"exec\")")
			allPassed = false
		} else {
			fmt.Fprintln(out, "NOT FOUND (go-git cloner in use)")
		}

		fmt.Fprint(out, "  Internet connection: ")
		if checkInternet(internetURL) {
			fmt.Fprintln(out, "OK")
		} else {
			fmt.Fprintln(out, "FAILED")
			allPassed = false
		}

		fmt.Fprintln(out)
		if allPassed {
			fmt.Fprintln(out, "All critical checks passed!")
		} else {
			fmt.Fprintln(out, "Some checks failed. Please resolve the issues above.")
		}
		return nil
	},
}

// checkWorkspace creates and destroys one workspace under the configured base directory
func checkWorkspace(cfg *config.Config) (string, error) {
	m, err := workspace.NewManager(workspace.Options{
		BaseDir: utils.ExpandPath(cfg.Workspace.BaseDir),
		Prefix:  cfg.Workspace.Prefix,
	})
	if err != nil {
		return "", err
	}
	h, err := m.Create(context.Background())
	if err != nil {
		return "", err
	}
	if err := m.Destroy(h); err != nil {
		return "", err
	}
	return m.BaseDir(), nil
}

// checkInternet checks if url is reachable
func checkInternet(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Full())
	},
}
