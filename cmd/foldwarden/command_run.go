package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"foldwarden/internal/admission"
	"foldwarden/internal/clinical"
	"foldwarden/internal/config"
	"foldwarden/internal/console"
	"foldwarden/internal/discovery"
	"foldwarden/internal/fasta"
	"foldwarden/internal/literature"
	"foldwarden/internal/notify"
	"foldwarden/internal/pipeline"
	"foldwarden/internal/summary"
	"foldwarden/internal/sysmon"
	"foldwarden/internal/upstream"
)

var (
	runOut            string
	runVariant        string
	runReason         string
	runTimeoutHours   float64
	runModels         int
	runBackend        string
	runSkipLiterature bool
	runSkipSummary    bool
)

var runCmd = &cobra.Command{
	Use:   "run <protein|file.fasta> [variant]",
	Short: "Fold one protein variant and write the research report",
	Long: "Run the full pipeline for a single job: resolve the protein,\n" +
		"predict its structure, score confidence, compare against the\n" +
		"wild-type model and gather literature, clinical context and an\n" +
		"AI summary into the output directory.",
	Example: "  foldwarden run SOD1 A4V\n" +
		"  foldwarden run SOD1 A4V --reason \"ALS-linked variant\"\n" +
		"  foldwarden run ~/seqs/tp53_R175H.fasta --out ./results/tp53",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFold(cmd.Context(), args)
	},
}

func registerRunCommand(root *cobra.Command) {
	root.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "Output directory (default <results_dir>/<job>)")
	runCmd.Flags().StringVar(&runVariant, "variant", "", "Variant label, e.g. R175H")
	runCmd.Flags().StringVar(&runReason, "reason", "", "Why this variant is being folded, carried into the report")
	runCmd.Flags().Float64Var(&runTimeoutHours, "timeout-hours", 0, "Fold timeout in hours (overrides config)")
	runCmd.Flags().IntVar(&runModels, "models", 0, "Number of models to predict (overrides config)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "Fold backend: local or docker (overrides config)")
	runCmd.Flags().BoolVar(&runSkipLiterature, "skip-literature", false, "Skip the PubMed search")
	runCmd.Flags().BoolVar(&runSkipSummary, "skip-summary", false, "Skip the AI narrative")
}

func runFold(ctx context.Context, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if runTimeoutHours > 0 {
		cfg.Fold.TimeoutHours = runTimeoutHours
	}
	if runModels > 0 {
		cfg.Fold.NumModels = runModels
	}
	if runBackend != "" {
		cfg.Fold.Backend = runBackend
	}

	job := jobFromArgs(args)
	job.OutputDir = runOut
	if job.OutputDir == "" {
		job.OutputDir = filepath.Join(cfg.ResultsDir, job.Name())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := console.New()
	logger := slog.Default()

	title := job.Protein
	if title == "" {
		title = "custom FASTA"
	}
	if job.Variant != "" {
		title += " " + job.Variant
	}
	con.Banner("foldwarden  %s", title)
	if job.Rationale != "" {
		con.Printf("%s", con.Dim(job.Rationale))
	}

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	provider, err := summary.New(cfg.Summary, logger)
	if err != nil {
		con.Warnf("AI summary disabled: %v", err)
		provider = nil
	}

	monitor := sysmon.NewHostMonitor()
	reaper := &admission.ProcReclaimer{
		Names:  cfg.Safety.StaleProcessNames,
		Logger: logger,
	}
	api := upstream.New(cfg.ContactEmail, logger)
	notifier := notify.New(notify.FromAppConfig(cfg.Notify), nil, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.HTTPTimeout())
		defer cancel()
		notifier.Close(drainCtx)
	}()

	runner := pipeline.New(cfg, pipeline.Deps{
		Console:    con,
		Logger:     logger,
		Monitor:    monitor,
		Backend:    backend,
		Admission:  admission.New(monitor, reaper, cfg.Safety.StaleSettle, logger),
		Discovery:  discovery.NewClient(api, logger),
		Literature: literature.NewClient(api, cfg.ContactEmail, cfg.Literature.APIKey, logger),
		Clinical:   clinical.NewClient(api, cfg.ContactEmail, cfg.Literature.APIKey, logger),
		Summarizer: provider,
		Notifier:   notifier,
	})

	if _, err := runner.Run(ctx, job); err != nil {
		con.Printf("\n%s", con.Bad("Pipeline failed. Check errors above."))
		return err
	}

	con.Printf("\nResults written to %s", job.OutputDir)
	con.Printf("  %s  %s", "summary.md        ", con.Dim("human-readable report"))
	con.Printf("  %s  %s", "fold_metadata.json", con.Dim("structured run record"))
	con.Printf("  %s  %s", "structure/        ", con.Dim("predicted PDB models"))
	con.Printf("  %s  %s", "analysis/         ", con.Dim("pLDDT and RMSD results"))
	return nil
}

// jobFromArgs builds the job from the positional arguments. A first
// argument ending in a FASTA extension is the input file and the job
// name derives from it; anything else is a protein query.
func jobFromArgs(args []string) pipeline.Job {
	job := pipeline.Job{
		Rationale:      runReason,
		SkipLiterature: runSkipLiterature,
		SkipSummary:    runSkipSummary,
	}
	arg := args[0]
	lower := strings.ToLower(arg)
	if strings.HasSuffix(lower, ".fasta") || strings.HasSuffix(lower, ".fa") {
		job.FastaPath = arg
		job.Protein, job.Variant = fasta.JobName(arg)
	} else {
		job.Protein = arg
	}
	if len(args) > 1 {
		job.Variant = args[1]
	}
	if runVariant != "" {
		job.Variant = runVariant
	}
	return job
}
