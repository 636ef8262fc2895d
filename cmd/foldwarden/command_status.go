package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"foldwarden/internal/config"
	"foldwarden/internal/console"
	"foldwarden/internal/summary"
	"foldwarden/internal/supervise"
	"foldwarden/internal/sysmon"
	"foldwarden/internal/version"
)

const probeTimeout = 5 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and system status",
	Long: "Print the effective configuration, whether the fold backend and\n" +
		"AI provider are reachable, and how much memory is available.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func registerStatusCommand(root *cobra.Command) {
	root.AddCommand(statusCmd)
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	con := console.New()
	logger := slog.Default()

	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	configStatus := con.Warn("Not found") + " (using defaults)"
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			configStatus = con.Good("Found") + " at " + path
		}
	}

	backendLabel, backendStatus := probeBackend(ctx, cfg, con, logger)

	gpu := cfg.Fold.GPUDevice
	if gpu == "" {
		gpu = "auto"
	}

	aiProvider := cfg.Summary.Provider
	if aiProvider == "" {
		aiProvider = "none"
	}
	aiModel := cfg.Summary.Model
	if aiModel == "" {
		aiModel = "(provider default)"
	}

	var aiEndpoint string
	switch {
	case aiProvider == "none":
		aiEndpoint = con.Dim("disabled")
	case aiProvider == "ollama":
		aiEndpoint = "Ollama at " + cfg.Summary.OllamaURL
	case cfg.Summary.APIKey != "":
		aiEndpoint = con.Good(maskKey(cfg.Summary.APIKey))
	default:
		aiEndpoint = con.Bad("No API key")
	}

	aiReady := probeProvider(ctx, cfg, con, logger)

	contact := cfg.ContactEmail
	if contact == "" {
		contact = con.Warn("not set") + " (UniProt/NCBI requests go unidentified)"
	}

	snap := sysmon.NewHostMonitor().AvailableMemory()
	mem := con.Warn("unknown")
	if snap.Known {
		style := con.Good
		if snap.AvailableGB < cfg.Safety.MinFreeGB {
			style = con.Warn
		}
		mem = style(fmt.Sprintf("%.1f GB", snap.AvailableGB)) + fmt.Sprintf(" available (%s; %.0f GB required to admit)", snap.Source, cfg.Safety.MinFreeGB)
	}

	con.Banner("foldwarden %s", version.Version)
	con.Table(nil, [][]string{
		{"Config", configStatus},
		{"", ""},
		{"Fold backend", cfg.Fold.Backend},
		{backendLabel, backendStatus},
		{"GPU device", gpu},
		{"", ""},
		{"AI provider", aiProvider},
		{"AI key/endpoint", aiEndpoint},
		{"AI model", aiModel},
		{"AI status", aiReady},
		{"", ""},
		{"Contact email", contact},
		{"Results dir", cfg.ResultsDir},
		{"Free memory", mem},
	})
	return nil
}

// probeBackend reports whether the configured fold engine is usable,
// without launching anything.
func probeBackend(ctx context.Context, cfg *config.Config, con *console.Console, logger *slog.Logger) (label, status string) {
	switch cfg.Fold.Backend {
	case "docker":
		backend, err := supervise.NewDockerBackend(cfg.Fold.DockerImage, logger)
		if err != nil {
			return "Docker image", con.Bad("Docker unavailable: " + err.Error())
		}
		defer backend.Close()
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := backend.Ready(probeCtx); err != nil {
			return "Docker image", con.Bad("Daemon not responding: " + err.Error())
		}
		return "Docker image", con.Good(cfg.Fold.DockerImage)
	default:
		bin, err := exec.LookPath(cfg.Fold.Binary)
		if err != nil {
			return "Backend binary", con.Bad("Not found") + " (" + cfg.Fold.Binary + ")"
		}
		return "Backend binary", con.Good("Found at " + bin)
	}
}

// probeProvider asks the configured AI provider whether it can serve
// requests right now.
func probeProvider(ctx context.Context, cfg *config.Config, con *console.Console, logger *slog.Logger) string {
	provider, err := summary.New(cfg.Summary, logger)
	if err != nil {
		return con.Bad(err.Error())
	}
	if provider == nil {
		return con.Dim("disabled")
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	ok, reason := provider.Available(probeCtx)
	if !ok {
		return con.Warn(reason)
	}
	return con.Good("Ready")
}

// maskKey shows just enough of a credential to recognize it.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
