// scenefix validates and repairs generated manim scene code until it
// renders cleanly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scenefix/internal/config"
	"scenefix/internal/logging"
)

var version = "0.2.0"

var (
	// Global flags
	workspace string
	debug     bool
	apiKey    string

	// Loaded in PersistentPreRunE, shared by all commands.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scenefix",
	Short: "scenefix - validation and refinement engine for generated manim scenes",
	Long: `scenefix takes machine-generated manim scene code and drives it through
a validate/fix loop until it executes cleanly: static analysis and a security
scan first, then sandboxed dry runs, deterministic repairs for known defect
patterns, and model-backed repairs for everything else. Spatial suspicions are
triaged with cheap verification probes and, when a render is available,
confirmed against actual output frames.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.Model.APIKey = apiKey
		}
		if debug {
			cfg.Logging.Debug = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := logging.Initialize(workspace, logging.Options{
			Debug:      cfg.Logging.Debug,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return err
		}
		logging.Boot("scenefix %s starting (workspace=%s)", version, workspace)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Boot("scenefix shutting down")
		logging.CloseAll()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the scenefix version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scenefix %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory (config, logs, audit store)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging to .scenefix/logs/")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "model API key (overrides config and environment)")

	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
