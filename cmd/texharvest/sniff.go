package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/texharvest/internal/classify"
)

func init() {
	rootCmd.AddCommand(sniffCmd)
}

var sniffCmd = &cobra.Command{
	Use:   "sniff <file>...",
	Short: "Classify files as binary, LaTeX markup, or other text",
	Long: `Read the head of each file and report its binary signature (if any),
whether it looks binary, and whether it looks like LaTeX source regardless
of its extension.

Example:
  texharvest sniff main paper.tex figure.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSniff,
}

// SniffResult describes one file.
type SniffResult struct {
	Path      string `json:"path"`
	Signature string `json:"signature,omitempty"`
	Binary    bool   `json:"binary"`
	Markup    bool   `json:"markup"`
	Error     string `json:"error,omitempty"`
}

func sniffPath(path string) SniffResult {
	r := SniffResult{Path: path}
	f, err := os.Open(path)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	defer f.Close()

	head := make([]byte, classify.SniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		r.Error = err.Error()
		return r
	}
	head = head[:n]
	r.Signature = classify.Sniff(head)
	r.Binary = classify.IsBinary(head)
	r.Markup = !r.Binary && classify.IsMarkupFile(path)
	return r
}

func runSniff(cmd *cobra.Command, args []string) error {
	results := make([]SniffResult, 0, len(args))
	for _, path := range args {
		results = append(results, sniffPath(path))
	}

	if humanOutput {
		for _, r := range results {
			switch {
			case r.Error != "":
				outputHuman("%s: error: %s\n", r.Path, r.Error)
			case r.Markup:
				outputHuman("%s: latex\n", r.Path)
			case r.Signature != "":
				outputHuman("%s: binary (%s)\n", r.Path, r.Signature)
			case r.Binary:
				outputHuman("%s: binary\n", r.Path)
			default:
				outputHuman("%s: text\n", r.Path)
			}
		}
		return nil
	}
	return outputJSON(results)
}
