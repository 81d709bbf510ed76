package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/texharvest/internal/batch"
	"github.com/matsen/texharvest/internal/config"
	"github.com/matsen/texharvest/internal/index"
	"github.com/matsen/texharvest/internal/logger"
	"github.com/matsen/texharvest/internal/mirror"
	"github.com/matsen/texharvest/internal/pipeline"
	"github.com/matsen/texharvest/internal/report"
)

var (
	runPrefix    string
	runStart     int
	runEnd       int
	runWorkers   int
	runBatchSize int
	runOutput    string
	runNoIndex   bool
	runNoMirror  bool
)

func init() {
	runCmd.Flags().StringVar(&runPrefix, "prefix", "", "ID prefix (YYMM)")
	runCmd.Flags().IntVar(&runStart, "start", 0, "First sequence number")
	runCmd.Flags().IntVar(&runEnd, "end", 0, "Last sequence number (inclusive)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Concurrent items per batch")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "Items per batch")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output root directory")
	runCmd.Flags().BoolVar(&runNoIndex, "no-index", false, "Do not record the run in the SQLite index")
	runCmd.Flags().BoolVar(&runNoMirror, "no-mirror", false, "Do not upload items to the configured S3 bucket")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest every ID in the configured range",
	Long: `Harvest every ID <prefix>.<NNNNN> from --start to --end inclusive.

IDs are processed in fixed-size batches by a bounded worker pool; all
network calls share one rate limiter. Per-item metrics are appended to
<output>/performance.csv and the run summary is written to
<output>/performance_report.json.

Interrupting (Ctrl-C) stops submitting new items; items already running
finish and the report is still written.

Examples:
  texharvest run
  texharvest run --prefix 2501 --start 1 --end 200 --workers 8`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// applyRunFlags overrides file values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("prefix") {
		cfg.Prefix = runPrefix
	}
	if flags.Changed("start") {
		cfg.Start = runStart
	}
	if flags.Changed("end") {
		cfg.End = runEnd
	}
	if flags.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = runBatchSize
	}
	if flags.Changed("output") {
		cfg.Output = config.ExpandPath(runOutput)
	}
	if runNoIndex {
		cfg.Index.Enabled = false
	}
	if runNoMirror {
		cfg.Mirror.Bucket = ""
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	log := newLogger(cfg)

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		exitWithError(ExitConfigError, "creating output root: %v", err)
	}

	ids := batch.GenerateIDs(cfg.Prefix, cfg.Start, cfg.End)
	runID := report.NewRunID()
	start := time.Now()

	var extra []pipeline.Option
	var db *index.DB
	if cfg.Index.Enabled {
		var err error
		db, err = index.Open(cfg.IndexPath())
		if err != nil {
			exitWithError(ExitConfigError, "opening index: %v", err)
		}
		defer db.Close()
		if err := db.BeginRun(runID, start, len(ids)); err != nil {
			exitWithError(ExitError, "recording run: %v", err)
		}
		extra = append(extra, pipeline.WithRecorder(db, runID))
	}
	if cfg.Mirror.Enabled() {
		up, err := mirror.NewUploader(cfg.Mirror.Bucket, cfg.Mirror.Prefix, cfg.Mirror.Region)
		if err != nil {
			exitWithError(ExitConfigError, "configuring mirror: %v", err)
		}
		extra = append(extra, pipeline.WithMirror(up))
	}

	p, err := newPipeline(cfg, log, extra...)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(fmt.Sprintf("starting harvest of %d items", len(ids)), map[string]interface{}{
		"run_id":     runID,
		"workers":    cfg.Workers,
		"batch_size": cfg.BatchSize,
	})
	sched := batch.New(batch.FromPipeline(p),
		batch.WithWorkers(cfg.Workers),
		batch.WithBatchSize(cfg.BatchSize),
		batch.WithPause(cfg.BatchPause),
		batch.WithLogger(log),
		batch.WithProgress(func(pr batch.Progress) {
			if humanOutput {
				fmt.Fprintf(os.Stderr, "batch %d/%d: %d/%d items, %d with sources\n",
					pr.Batch, pr.Batches, pr.Done, pr.Total, pr.Succeeded)
			}
		}),
	)
	papers := sched.Run(ctx, ids)
	end := time.Now()

	rep := report.Summarize(runID, papers, len(ids), start, end, report.Configuration{
		MaxWorkers: cfg.Workers,
		BatchSize:  cfg.BatchSize,
		S2Delay:    cfg.Delay.Seconds(),
	})
	if err := rep.Write(cfg.ReportPath()); err != nil {
		log.Error("writing report failed", err)
		exitWithError(ExitError, "writing report: %v", err)
	}
	if db != nil {
		if err := db.FinishRun(runID, end, rep.Metrics.SuccessfulPapers); err != nil {
			log.Error("finishing run in index failed", err)
		}
	}
	logRunSummary(log, rep, end.Sub(start))

	if humanOutput {
		printRunSummary(rep, cfg, end.Sub(start))
		return nil
	}
	return outputJSON(rep.Metrics)
}

func logRunSummary(log *logger.Logger, rep *report.Report, elapsed time.Duration) {
	m := rep.Metrics
	log.InfoWithDuration("harvest finished", elapsed, map[string]interface{}{
		"run_id":       rep.RunID,
		"total":        m.TotalPapers,
		"successful":   m.SuccessfulPapers,
		"failed":       m.FailedPapers,
		"success_rate": m.SuccessRate,
	})
}

func printRunSummary(rep *report.Report, cfg *config.Config, elapsed time.Duration) {
	m := rep.Metrics
	outputHuman("Run %s\n\n", rep.RunID)
	outputHuman("  Items:        %d\n", m.TotalPapers)
	outputHuman("  With sources: %d (%s)\n", m.SuccessfulPapers, m.SuccessRate)
	outputHuman("  No sources:   %d\n", m.NoTexPapers)
	outputHuman("  Errored:      %d\n", m.ErroredPapers)
	outputHuman("  Elapsed:      %s (%.3f items/s)\n", formatDuration(elapsed), m.PapersPerSecond)
	outputHuman("  Peak memory:  %.1f MB\n", m.PeakMemoryMB)
	if m.SuccessfulPapers > 0 {
		outputHuman("  Avg size:     %s -> %s\n",
			formatBytes(int64(m.AvgSizeBeforeBytes)), formatBytes(int64(m.AvgSizeAfterBytes)))
		outputHuman("  References:   %.2f per item, metadata for %s\n",
			m.AvgReferencesPerPaper, m.ReferenceMetadataRate)
	}
	outputHuman("\nReport: %s\n", cfg.ReportPath())
}
