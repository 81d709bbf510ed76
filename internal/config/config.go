// Package config handles run configuration and the output layout.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/matsen/texharvest/internal/fetch"
)

// Files written at the output root.
const (
	MetricsFile = "performance.csv"
	ReportFile  = "performance_report.json"
	IndexFile   = "index.db"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var prefixPattern = regexp.MustCompile(`^\d{4}$`)

// Config is the full run configuration.
type Config struct {
	Output     string        `yaml:"output"`
	Prefix     string        `yaml:"prefix"` // YYMM
	Start      int           `yaml:"start"`
	End        int           `yaml:"end"`
	Workers    int           `yaml:"workers"`
	BatchSize  int           `yaml:"batch_size"`
	BatchPause time.Duration `yaml:"batch_pause"`
	Delay      time.Duration `yaml:"request_delay"` // minimum spacing of all outbound calls
	LogLevel   string        `yaml:"log_level"`
	TempDir    string        `yaml:"temp_dir,omitempty"`

	ArXiv   ArXivConfig   `yaml:"arxiv"`
	S2      S2Config      `yaml:"semantic_scholar"`
	Extract ExtractConfig `yaml:"extract"`
	Index   IndexConfig   `yaml:"index"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

// ArXivConfig configures the document server.
type ArXivConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     RetryConfig   `yaml:"retry,omitempty"`
}

// S2Config configures the bibliographic API.
type S2Config struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key,omitempty"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     RetryConfig   `yaml:"retry,omitempty"`
}

// RetryConfig overrides fields of a fetch.RetryPolicy. Zero fields keep the
// policy's value.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts,omitempty"`
	Backoff          time.Duration `yaml:"backoff,omitempty"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff,omitempty"`
	TransportBackoff time.Duration `yaml:"transport_backoff,omitempty"`
}

// Apply returns base with the configured overrides.
func (r RetryConfig) Apply(base fetch.RetryPolicy) fetch.RetryPolicy {
	if r.MaxAttempts > 0 {
		base.MaxAttempts = r.MaxAttempts
	}
	if r.Backoff > 0 {
		base.Backoff = r.Backoff
	}
	if r.TransportBackoff > 0 {
		base.TransportBackoff = r.TransportBackoff
	}
	if r.RateLimitBackoff > 0 {
		sb := make(map[int]time.Duration, len(base.StatusBackoff)+1)
		for k, v := range base.StatusBackoff {
			sb[k] = v
		}
		sb[429] = r.RateLimitBackoff
		base.StatusBackoff = sb
	}
	return base
}

// ExtractConfig configures extraction and retention.
type ExtractConfig struct {
	MaxDepth      int      `yaml:"max_depth"`
	MaxMemberSize string   `yaml:"max_member_size"` // e.g. "100MiB"
	MarkupExts    []string `yaml:"markup_exts,flow"`
	BibExts       []string `yaml:"bib_exts,flow"`
	FigureExts    []string `yaml:"figure_exts,flow"`
}

// MaxMemberBytes parses MaxMemberSize.
func (e ExtractConfig) MaxMemberBytes() (int64, error) {
	n, err := humanize.ParseBytes(e.MaxMemberSize)
	if err != nil {
		return 0, fmt.Errorf("%w: max_member_size %q: %v", ErrInvalid, e.MaxMemberSize, err)
	}
	return int64(n), nil
}

// IndexConfig configures the SQLite run index.
type IndexConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"` // default <output>/index.db
}

// MirrorConfig configures the optional S3 mirror. An empty bucket disables
// mirroring.
type MirrorConfig struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// Enabled reports whether a bucket is configured.
func (m MirrorConfig) Enabled() bool {
	return m.Bucket != ""
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Output:     "23120195",
		Prefix:     "2412",
		Start:      15272,
		End:        15274,
		Workers:    5,
		BatchSize:  50,
		BatchPause: 2 * time.Second,
		Delay:      500 * time.Millisecond,
		LogLevel:   "info",
		ArXiv: ArXivConfig{
			BaseURL:   "https://arxiv.org",
			UserAgent: "lab-scraper/1.0 (your_email@example.com)",
			Timeout:   60 * time.Second,
		},
		S2: S2Config{
			BaseURL:   "https://api.semanticscholar.org/graph/v1",
			UserAgent: "Academic-Research-Crawler/1.0 (for educational use)",
			Timeout:   30 * time.Second,
		},
		Extract: ExtractConfig{
			MaxDepth:      3,
			MaxMemberSize: "100MiB",
			MarkupExts:    []string{".tex"},
			BibExts:       []string{".bib"},
			FigureExts:    []string{".png", ".jpg", ".jpeg", ".pdf", ".eps", ".svg", ".bmp", ".tiff", ".gif", ".ico"},
		},
		Index: IndexConfig{Enabled: true},
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Output == "" {
		bad("output must be set")
	}
	if !prefixPattern.MatchString(c.Prefix) {
		bad("prefix %q must be four digits (YYMM)", c.Prefix)
	}
	if c.Start < 0 || c.End > 99999 {
		bad("id range [%d, %d] must lie within [0, 99999]", c.Start, c.End)
	}
	if c.Start > c.End {
		bad("start %d is after end %d", c.Start, c.End)
	}
	if c.Workers < 1 {
		bad("workers must be positive, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		bad("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchPause < 0 || c.Delay < 0 {
		bad("batch_pause and request_delay must not be negative")
	}
	if c.Extract.MaxDepth < 0 {
		bad("extract.max_depth must not be negative, got %d", c.Extract.MaxDepth)
	}
	if len(c.Extract.MarkupExts) == 0 {
		bad("extract.markup_exts must not be empty")
	}
	if len(c.Extract.BibExts) == 0 {
		bad("extract.bib_exts must not be empty")
	}
	if _, err := c.Extract.MaxMemberBytes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// normalize lower-cases extensions and makes sure each has a leading dot.
func (c *Config) normalize() {
	c.Extract.MarkupExts = normalizeExts(c.Extract.MarkupExts)
	c.Extract.BibExts = normalizeExts(c.Extract.BibExts)
	c.Extract.FigureExts = normalizeExts(c.Extract.FigureExts)
	c.Output = ExpandPath(c.Output)
	c.TempDir = ExpandPath(c.TempDir)
	if c.Index.Path != "" {
		c.Index.Path = ExpandPath(c.Index.Path)
	}
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// MetricsPath returns the per-item metrics CSV path.
func (c *Config) MetricsPath() string {
	return filepath.Join(c.Output, MetricsFile)
}

// ReportPath returns the run report path.
func (c *Config) ReportPath() string {
	return filepath.Join(c.Output, ReportFile)
}

// IndexPath returns the SQLite index path.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.Output, IndexFile)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.S2.APIKey != "" {
		cp.S2.APIKey = "********"
	}
	return &cp
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
