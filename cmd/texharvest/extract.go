package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matsen/texharvest/internal/collect"
	"github.com/matsen/texharvest/internal/extract"
)

var extractKeepFigures bool

func init() {
	extractCmd.Flags().BoolVar(&extractKeepFigures, "keep-figures", false, "Do not delete figure files from the destination")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract <archive> <dest>",
	Short: "Unpack a local e-print and keep only its sources",
	Long: `Unpack a local e-print artifact (tar, tar.gz, tar.bz2, tar.xz, or a single
gzipped file), following nested archives up to the configured depth, and copy
the LaTeX and BibTeX files into <dest> with their relative paths.

Example:
  texharvest extract 2412-15272v1.tar.gz ./out --human`,
	Args: cobra.ExactArgs(2),
	RunE: runExtract,
}

// ExtractResponse is the output of the extract command.
type ExtractResponse struct {
	Archive        string `json:"archive"`
	Dest           string `json:"dest"`
	Format         string `json:"format"`
	ExtractedFiles int    `json:"extracted_files"`
	TexFiles       int    `json:"tex_files"`
	BibFiles       int    `json:"bib_files"`
	FiguresRemoved int    `json:"figures_removed"`
	SizeBefore     int64  `json:"size_before"`
	SizeAfter      int64  `json:"size_after"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	archive, dest := args[0], args[1]
	cfg := mustLoadConfig()
	log := newLogger(cfg)

	ext, err := newExtractor(cfg, log)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	scratch, err := os.MkdirTemp(cfg.TempDir, "texharvest_extract_")
	if err != nil {
		exitWithError(ExitError, "creating scratch directory: %v", err)
	}
	defer os.RemoveAll(scratch)
	extracted := filepath.Join(scratch, "extracted")

	res, err := ext.Extract(archive, extracted)
	if err != nil {
		code := ExitDataError
		if !errors.Is(err, extract.ErrNoSourceFiles) && !errors.Is(err, extract.ErrUnsupportedFormat) &&
			!errors.Is(err, extract.ErrMissingArchive) && !errors.Is(err, extract.ErrDepthExceeded) {
			code = ExitError
		}
		os.RemoveAll(scratch)
		exitWithError(code, "extracting %s: %v", archive, err)
	}

	resp := ExtractResponse{
		Archive:        archive,
		Dest:           dest,
		Format:         res.Format.String(),
		ExtractedFiles: res.Files,
		SizeBefore:     collect.TreeSize(extracted),
	}
	counts, err := newCollector(cfg, log).Collect(extracted, dest)
	if err != nil {
		os.RemoveAll(scratch)
		exitWithError(ExitError, "collecting sources: %v", err)
	}
	resp.TexFiles, resp.BibFiles = counts.Markup, counts.Bib
	resp.SizeAfter = collect.TreeSize(dest)
	if !extractKeepFigures {
		resp.FiguresRemoved = collect.StripFigures(dest, cfg.Extract.FigureExts)
	}

	if humanOutput {
		outputHuman("%s (%s): %d files extracted\n", resp.Archive, resp.Format, resp.ExtractedFiles)
		outputHuman("  kept %d tex, %d bib in %s\n", resp.TexFiles, resp.BibFiles, resp.Dest)
		outputHuman("  %s -> %s\n", formatBytes(resp.SizeBefore), formatBytes(resp.SizeAfter))
		if resp.FiguresRemoved > 0 {
			outputHuman("  removed %d figure files\n", resp.FiguresRemoved)
		}
		return nil
	}
	return outputJSON(resp)
}
