// Package collect copies the retained source files out of an extraction tree
// and strips figure assets from the result.
package collect

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/texharvest/internal/logger"
)

// DefaultMarkupExts are the markup extensions retained by default.
var DefaultMarkupExts = []string{".tex"}

// DefaultBibExts are the bibliography extensions retained by default.
var DefaultBibExts = []string{".bib"}

// DefaultFigureExts are removed from a SourceTree after collection.
var DefaultFigureExts = []string{".png", ".jpg", ".jpeg", ".pdf", ".eps", ".svg", ".bmp", ".tiff", ".gif", ".ico"}

// Counts holds the number of retained files copied, by kind.
type Counts struct {
	Markup int `json:"tex_files"`
	Bib    int `json:"bib_files"`
}

// Total is the number of files copied.
func (c Counts) Total() int {
	return c.Markup + c.Bib
}

// Collector copies markup and bibliography files into a destination tree.
type Collector struct {
	markup map[string]bool
	bib    map[string]bool
	log    *logger.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithExtensions overrides the retained extension sets.
func WithExtensions(markup, bib []string) Option {
	return func(c *Collector) {
		c.markup = extSet(markup)
		c.bib = extSet(bib)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Collector) {
		c.log = l
	}
}

// New creates a Collector for .tex and .bib files.
func New(opts ...Option) *Collector {
	c := &Collector{
		markup: extSet(DefaultMarkupExts),
		bib:    extSet(DefaultBibExts),
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect copies retained files from root into dest. A root that is itself a
// retained file is copied directly. Otherwise the tree is walked and relative
// paths are preserved; if the walk finds nothing, the immediate children of
// root are tried once more. Per-file failures are logged and skipped, so the
// only error returned is a failure to create dest.
func (c *Collector) Collect(root, dest string) (Counts, error) {
	var counts Counts
	if err := os.MkdirAll(dest, 0755); err != nil {
		return counts, logger.WrapError(err, logger.ErrorTypeFilesystem, "creating source destination")
	}

	info, err := os.Stat(root)
	if err != nil {
		c.log.Warn("collection root missing", map[string]interface{}{"root": root, "error": err.Error()})
		return counts, nil
	}

	if info.Mode().IsRegular() {
		if c.retained(root) {
			c.copyOne(root, filepath.Join(dest, filepath.Base(root)), &counts)
		}
		return counts, nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.log.Warn("skipping unreadable path", map[string]interface{}{"path": path, "error": err.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !c.retained(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		c.copyOne(path, filepath.Join(dest, rel), &counts)
		return nil
	})
	if walkErr != nil {
		c.log.Warn("walk of extraction tree stopped early", map[string]interface{}{"root": root, "error": walkErr.Error()})
	}

	if counts.Total() == 0 {
		c.shallow(root, dest, &counts)
	}
	return counts, nil
}

// shallow copies retained files among root's immediate children.
func (c *Collector) shallow(root, dest string, counts *Counts) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if c.retained(path) {
			c.copyOne(path, filepath.Join(dest, entry.Name()), counts)
		}
	}
}

func (c *Collector) copyOne(src, dst string, counts *Counts) {
	if err := copyFile(src, dst); err != nil {
		c.log.Warn("copy failed", map[string]interface{}{"src": src, "error": err.Error()})
		return
	}
	if c.markup[ext(src)] {
		counts.Markup++
	} else {
		counts.Bib++
	}
}

func (c *Collector) retained(path string) bool {
	e := ext(path)
	return c.markup[e] || c.bib[e]
}

// StripFigures deletes every file under root whose extension is in exts and
// returns the number removed. Deletion failures are ignored.
func StripFigures(root string, exts []string) int {
	set := extSet(exts)
	removed := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !set[ext(path)] {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed
}

// TreeSize returns the total size in bytes of regular files under root.
func TreeSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func extSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m[e] = true
	}
	return m
}
