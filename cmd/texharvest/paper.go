package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/texharvest/internal/arxiv"
	"github.com/matsen/texharvest/internal/pipeline"
)

var paperOutput string

func init() {
	paperCmd.Flags().StringVarP(&paperOutput, "output", "o", "", "Output root directory")
	rootCmd.AddCommand(paperCmd)
}

var paperCmd = &cobra.Command{
	Use:   "paper <arxiv-id>",
	Short: "Harvest a single arXiv ID",
	Long: `Harvest one arXiv ID: metadata, references and the sources of every
version, written under <output>/<YYMM-NNNNN>/.

Example:
  texharvest paper 2412.15272 --human`,
	Args: cobra.ExactArgs(1),
	RunE: runPaper,
}

func runPaper(cmd *cobra.Command, args []string) error {
	id := strings.TrimPrefix(strings.TrimSpace(args[0]), "arXiv:")
	if !arxiv.ValidID(id) {
		exitWithError(ExitDataError, "invalid arXiv ID %q (want YYMM.NNNNN)", args[0])
	}

	cfg := mustLoadConfig()
	if cmd.Flags().Changed("output") {
		cfg.Output = paperOutput
	}
	log := newLogger(cfg)
	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		exitWithError(ExitConfigError, "creating output root: %v", err)
	}

	p, err := newPipeline(cfg, log)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := p.Process(ctx, id)
	if err != nil {
		exitWithError(ExitError, "processing %s: %v", id, err)
	}

	if humanOutput {
		printItem(res)
		return nil
	}
	return outputJSON(res)
}

func printItem(res *pipeline.ItemResult) {
	outputHuman("%s  [%s]\n", res.ID, res.Status)
	if res.Metadata.Title != "" {
		outputHuman("  %s\n", truncate(res.Metadata.Title, 70))
	}
	if len(res.Metadata.Authors) > 0 {
		outputHuman("  %s\n", truncate(strings.Join(res.Metadata.Authors, ", "), 70))
	}
	if res.Metadata.Venue != "" {
		outputHuman("  Venue: %s\n", res.Metadata.Venue)
	}
	outputHuman("  References: %d\n\n", res.ReferencesCount)

	for _, v := range res.Versions {
		switch {
		case !v.Downloaded:
			outputHuman("  %s  not available\n", v.Version)
		case v.Error != "":
			outputHuman("  %s  %s: %s\n", v.Version, v.Format, v.Error)
			if v.PDF != nil {
				outputHuman("      pdf only: %d pages", v.PDF.Pages)
				if v.PDF.DOI != "" {
					outputHuman(", doi %s", v.PDF.DOI)
				}
				outputHuman("\n")
			}
		default:
			outputHuman("  %s  %d tex, %d bib, %s -> %s, %d figures dropped\n",
				v.Version, v.TexFiles, v.BibFiles,
				formatBytes(v.SizeBefore), formatBytes(v.SizeAfter), v.FiguresRemoved)
		}
	}
	outputHuman("\nOutput: %s\n", res.Dir)
}
