package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matsen/texharvest/internal/config"
)

func TestSniffPath(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"main":    []byte("\\documentclass{article}\n\\begin{document}\nHi\n\\end{document}\n"),
		"fig.png": append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...),
		"notes":   []byte("just some plain notes about the paper\n"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name       string
		wantBinary bool
		wantMarkup bool
		wantSig    string
	}{
		{"main", false, true, ""},
		{"fig.png", true, false, "png"},
		{"notes", false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sniffPath(filepath.Join(dir, tt.name))
			if got.Error != "" {
				t.Fatalf("sniffPath() error = %s", got.Error)
			}
			if got.Binary != tt.wantBinary || got.Markup != tt.wantMarkup || got.Signature != tt.wantSig {
				t.Errorf("sniffPath(%s) = %+v, want binary=%t markup=%t sig=%q",
					tt.name, got, tt.wantBinary, tt.wantMarkup, tt.wantSig)
			}
		})
	}

	if got := sniffPath(filepath.Join(dir, "missing")); got.Error == "" {
		t.Error("sniffPath() on a missing file should report an error")
	}
}

func TestApplyRunFlags(t *testing.T) {
	defer func() {
		runNoIndex = false
		runNoMirror = false
	}()
	for name, value := range map[string]string{"prefix": "2501", "end": "99", "workers": "9"} {
		if err := runCmd.Flags().Set(name, value); err != nil {
			t.Fatal(err)
		}
	}
	runNoIndex = true

	cfg := config.Default()
	cfg.Mirror.Bucket = "b"
	applyRunFlags(runCmd, cfg)

	if cfg.Prefix != "2501" || cfg.End != 99 || cfg.Workers != 9 {
		t.Errorf("applyRunFlags() = prefix %s, end %d, workers %d", cfg.Prefix, cfg.End, cfg.Workers)
	}
	if cfg.Start != config.Default().Start {
		t.Errorf("Start = %d, unset flag must keep the file value", cfg.Start)
	}
	if cfg.Index.Enabled {
		t.Error("Index.Enabled = true after --no-index")
	}
	if !cfg.Mirror.Enabled() {
		t.Error("mirror disabled without --no-mirror")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"Sparse Attention for Long Documents", 12, "Sparse At..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatBytes(2048); got != "2.0 KiB" {
		t.Errorf("formatBytes(2048) = %q", got)
	}
	if got := formatBytes(-5); got != "0 B" {
		t.Errorf("formatBytes(-5) = %q", got)
	}
	if got := formatDuration(1234567 * time.Microsecond); got != "1.2s" {
		t.Errorf("formatDuration() = %q", got)
	}
}
