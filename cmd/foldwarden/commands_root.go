package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/config"
	"foldwarden/internal/supervise"
)

var (
	cfgPath  string
	verbose  bool
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "foldwarden",
	Short: "Protein structure prediction with a safety supervisor",
	Long: "foldwarden runs ColabFold under memory admission control and a\n" +
		"watchdog, then gathers confidence, wild-type comparison, literature\n" +
		"and clinical context into a research report per variant.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		useJSON := jsonLogs
		if !cmd.Flags().Changed("json-logs") && cmd.Name() == "watch" {
			// Unattended mode feeds log collectors, not a terminal.
			useJSON = true
		}
		configureLogging(useJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default ~/"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")

	registerRunCommand(rootCmd)
	registerWatchCommand(rootCmd)
	registerStatusCommand(rootCmd)
	registerInitCommand(rootCmd)
}

// configureLogging installs the process-wide slog default. Interactive
// commands keep the log stream quiet so the console output stays
// readable; JSON mode logs at info for collectors.
func configureLogging(jsonOut bool) {
	level := slog.LevelWarn
	if jsonOut {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if jsonOut {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func buildBackend(cfg *config.Config, logger *slog.Logger) (supervise.Backend, error) {
	switch cfg.Fold.Backend {
	case "", "local":
		return supervise.NewLocalBackend(cfg.Fold.Binary, logger), nil
	case "docker":
		return supervise.NewDockerBackend(cfg.Fold.DockerImage, logger)
	default:
		return nil, apperrors.Validation("fold.backend", fmt.Sprintf("unknown backend %q (expected local or docker)", cfg.Fold.Backend))
	}
}
