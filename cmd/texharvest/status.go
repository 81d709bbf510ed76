package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/texharvest/internal/index"
	"github.com/matsen/texharvest/internal/report"
)

var (
	statusLimit int
	statusItem  string
)

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to list")
	statusCmd.Flags().StringVar(&statusItem, "item", "", "Show the retained files of one arXiv ID")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recorded runs and their items",
	Long: `Without arguments, list the most recent runs recorded in the index.
With a run ID (or "latest"), list that run's items; add --item to list the
retained source files of one item with their digests.

Examples:
  texharvest status --human
  texharvest status latest --item 2412.15272`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

// RunDetail is the output of status <run-id>.
type RunDetail struct {
	RunID string             `json:"run_id"`
	Items []index.ItemRow    `json:"items,omitempty"`
	Files []index.FileRecord `json:"files,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	path := cfg.IndexPath()
	if _, err := os.Stat(path); err != nil {
		exitWithError(ExitConfigError, "no index at %s (run 'texharvest run' first)", path)
	}
	db, err := index.Open(path)
	if err != nil {
		exitWithError(ExitConfigError, "opening index: %v", err)
	}
	defer db.Close()

	if len(args) == 0 {
		runs, err := db.Runs(statusLimit)
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if humanOutput {
			printRuns(runs)
			return nil
		}
		if runs == nil {
			runs = []index.RunSummary{}
		}
		return outputJSON(runs)
	}

	runID := args[0]
	if runID == "latest" {
		if runID, err = db.LatestRunID(); err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if runID == "" {
			exitWithError(ExitDataError, "no runs recorded")
		}
	}

	detail := RunDetail{RunID: runID}
	if statusItem != "" {
		detail.Files, err = db.Files(runID, statusItem)
	} else {
		detail.Items, err = db.Items(runID)
	}
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		printRunDetail(detail)
		return nil
	}
	return outputJSON(detail)
}

func printRuns(runs []index.RunSummary) {
	if len(runs) == 0 {
		outputHuman("No runs recorded.\n")
		return
	}
	for _, r := range runs {
		state := "running"
		if r.FinishedAt != "" {
			state = "finished " + r.FinishedAt
		}
		outputHuman("%s  %s  %d/%d with sources, %d recorded, %d files  (%s)\n",
			r.RunID, r.StartedAt, r.Successful, r.Total, r.Recorded, r.Files, state)
	}
}

func printRunDetail(d RunDetail) {
	outputHuman("Run %s\n\n", d.RunID)
	if d.Files != nil || statusItem != "" {
		if len(d.Files) == 0 {
			outputHuman("No files recorded for %s.\n", statusItem)
		}
		for _, f := range d.Files {
			outputHuman("  %-50s %10s  %s\n", truncate(f.Path, 50), formatBytes(f.Size), f.Digest[:min(16, len(f.Digest))])
		}
		return
	}
	for _, it := range d.Items {
		line := it.ArxivID + "  " + it.Status
		if it.Status != report.StatusFailed {
			outputHuman("  %-30s %d tex, %d bib, %d refs, %s\n", line, it.TexFiles, it.BibFiles, it.References, formatBytes(it.SizeAfter))
		} else {
			outputHuman("  %-30s %s\n", line, truncate(it.Error, 60))
		}
	}
}
