package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"foldwarden/internal/admission"
	"foldwarden/internal/clinical"
	"foldwarden/internal/config"
	"foldwarden/internal/console"
	"foldwarden/internal/discovery"
	"foldwarden/internal/health"
	"foldwarden/internal/literature"
	"foldwarden/internal/notify"
	"foldwarden/internal/observability"
	"foldwarden/internal/pipeline"
	"foldwarden/internal/queue"
	"foldwarden/internal/statusapi"
	"foldwarden/internal/summary"
	"foldwarden/internal/sysmon"
	"foldwarden/internal/upstream"
)

var (
	watchOut      string
	watchInterval int
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a folder for FASTA files and fold them as they arrive",
	Long: "Poll a drop folder for .fasta files and run the pipeline on each,\n" +
		"oldest first. Processed files are archived or marked done. A status\n" +
		"API with health checks and Prometheus metrics runs alongside.",
	Example: "  foldwarden watch ~/fold-queue\n" +
		"  foldwarden watch ~/fold-queue --interval 30 --out ./results",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Context(), args[0])
	},
}

func registerWatchCommand(root *cobra.Command) {
	root.AddCommand(watchCmd)

	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "Poll interval in seconds (overrides config)")
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "Output directory (default <results_dir>)")
}

func runWatch(ctx context.Context, dir string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if watchInterval > 0 {
		cfg.Watch.PollIntervalSeconds = watchInterval
	}
	outputDir := watchOut
	if outputDir == "" {
		outputDir = cfg.ResultsDir
	}

	con := console.New()
	logger := slog.Default()

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	provider, err := summary.New(cfg.Summary, logger)
	if err != nil {
		logger.Warn("AI summary disabled", "error", err)
		provider = nil
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	monitor := sysmon.NewHostMonitor()
	api := upstream.New(cfg.ContactEmail, logger)
	notifier := notify.New(notify.FromAppConfig(cfg.Notify), metrics, logger)
	tracker := &statusapi.Tracker{}

	runner := pipeline.New(cfg, pipeline.Deps{
		Console: con,
		Logger:  logger,
		Monitor: monitor,
		Backend: backend,
		Admission: admission.New(monitor, &admission.ProcReclaimer{
			Names:  cfg.Safety.StaleProcessNames,
			Logger: logger,
		}, cfg.Safety.StaleSettle, logger),
		Discovery:  discovery.NewClient(api, logger),
		Literature: literature.NewClient(api, cfg.ContactEmail, cfg.Literature.APIKey, logger),
		Clinical:   clinical.NewClient(api, cfg.ContactEmail, cfg.Literature.APIKey, logger),
		Summarizer: provider,
		Metrics:    metrics,
		Notifier:   notifier,
		Tracker:    tracker,
	})

	q := queue.New(dir, cfg.Watch.ArchiveProcessed, logger)
	watcher := queue.NewWatcher(q, runner, queue.WatcherConfig{
		OutputDir: outputDir,
		Interval:  cfg.Watch.PollInterval(),
	}, con, logger)

	checker := health.NewChecker(cfg.ResultsDir, monitor, backend)
	router := statusapi.NewRouter(statusapi.RouterConfig{
		Checker:        checker,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Monitor:        monitor,
		Breakers:       api.Breakers(),
		Runs:           tracker,
		Logger:         logger,
	})
	server := statusapi.NewServer(cfg.Status.Addr, router, logger)

	con.Banner("foldwarden  watch mode")
	con.Printf("Watching: %s", dir)
	con.Printf("Output:   %s", outputDir)
	con.Printf("Interval: %ds", cfg.Watch.PollIntervalSeconds)
	con.Printf("Status:   http://%s/status", cfg.Status.Addr)
	con.Printf("")
	con.Printf("%s", con.Dim("Drop .fasta files into the watch folder to process them."))
	con.Printf("%s", con.Dim("Press Ctrl-C to stop."))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- watcher.Run(watchCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveFailure error
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig.String())
		// Phase 1: mark not-ready so probes drain, then stop the queue
		// loop. Cancellation kills any in-flight fold process.
		checker.SetShuttingDown()
		cancel()
		<-watchDone
	case err := <-serverErr:
		if err != nil {
			serveFailure = fmt.Errorf("status server: %w", err)
		}
		checker.SetShuttingDown()
		cancel()
		<-watchDone
	case <-watchDone:
		// Parent context ended; the loop already unwound.
		checker.SetShuttingDown()
	}

	// Phase 2: stop the status server, finishing in-flight requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Status server shutdown error", "error", err)
	}

	// Phase 3: drain pending notifications.
	if err := notifier.Close(shutdownCtx); err != nil {
		logger.Warn("Notifier shutdown error", "error", err)
	}
	stats := notifier.Stats()
	logger.Info("Notify stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	logger.Info("Shutdown complete")
	return serveFailure
}
