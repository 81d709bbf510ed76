// Package extract unpacks downloaded e-print artifacts of unknown format into
// a directory tree. Tar-family archives (plain, gzip, bzip2, xz) are unpacked
// member by member; anything else is tried as a single gzip stream. Archives
// found inside an archive are unpacked in depth-indexed arena directories and
// merged back into their parent, up to a fixed depth.
package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/texharvest/internal/logger"
)

// DefaultMaxDepth is the deepest recursion level that may still be unpacked.
const DefaultMaxDepth = 3

// DefaultMaxMemberSize caps any single extracted file (100MB).
const DefaultMaxMemberSize int64 = 100 * 1024 * 1024

// Format is the outcome of probing an artifact.
type Format int

const (
	FormatUnknown Format = iota
	FormatTar
	FormatGzipSingle
	FormatFailed
)

func (f Format) String() string {
	switch f {
	case FormatTar:
		return "tar"
	case FormatGzipSingle:
		return "gzip"
	case FormatFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingArchive means the artifact does not exist or is empty.
	ErrMissingArchive = errors.New("archive missing or empty")

	// ErrUnsupportedFormat means neither tar nor gzip could read the stream.
	ErrUnsupportedFormat = errors.New("unsupported or corrupt archive")

	// ErrDepthExceeded means a nested archive sits deeper than the bound.
	ErrDepthExceeded = errors.New("maximum archive nesting depth exceeded")

	// ErrNoSourceFiles means extraction finished but produced nothing to keep.
	ErrNoSourceFiles = errors.New("extraction produced no markup or bibliography files")
)

// nestedSuffixes mark a file as an archive that should be unpacked in turn.
var nestedSuffixes = []string{".tar", ".gz", ".tgz", ".bz2", ".tbz", ".tbz2", ".xz", ".txz"}

// Result summarises a successful extraction.
type Result struct {
	Format      Format `json:"format"`
	Files       int    `json:"files"`
	MarkupFiles int    `json:"markup_files"`
	BibFiles    int    `json:"bib_files"`
}

// Extractor unpacks artifacts.
type Extractor struct {
	maxDepth      int
	maxMemberSize int64
	markupExts    map[string]bool
	bibExts       map[string]bool
	log           *logger.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxDepth sets the recursion bound.
func WithMaxDepth(depth int) Option {
	return func(e *Extractor) {
		e.maxDepth = depth
	}
}

// WithMaxMemberSize caps the size of any single extracted file.
func WithMaxMemberSize(n int64) Option {
	return func(e *Extractor) {
		e.maxMemberSize = n
	}
}

// WithExtensions sets the markup and bibliography extensions that make an
// extraction count as successful.
func WithExtensions(markup, bib []string) Option {
	return func(e *Extractor) {
		e.markupExts = extSet(markup)
		e.bibExts = extSet(bib)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

// New creates an Extractor with defaults for LaTeX sources.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		maxDepth:      DefaultMaxDepth,
		maxMemberSize: DefaultMaxMemberSize,
		markupExts:    extSet([]string{".tex"}),
		bibExts:       extSet([]string{".bib"}),
		log:           logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract unpacks archivePath into destDir and checks that at least one
// markup or bibliography file came out. Every failure is returned as an
// error; nothing panics or escapes as an unexpected exception.
func (e *Extractor) Extract(archivePath, destDir string) (*Result, error) {
	info, err := os.Stat(archivePath)
	if err != nil || info.Size() == 0 || !info.Mode().IsRegular() {
		e.log.Warn("archive missing or empty", map[string]interface{}{"path": archivePath})
		return nil, fmt.Errorf("%w: %s", ErrMissingArchive, archivePath)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, logger.WrapError(err, logger.ErrorTypeFilesystem, "creating extraction directory")
	}

	format, err := e.extract(archivePath, destDir, 0)
	if err != nil {
		e.log.Error("extraction failed", err, map[string]interface{}{"path": archivePath})
		return nil, err
	}

	res, err := e.count(destDir)
	if err != nil {
		return nil, logger.WrapError(err, logger.ErrorTypeFilesystem, "scanning extraction")
	}
	res.Format = format
	e.log.Info("extraction result", map[string]interface{}{
		"path":   filepath.Base(archivePath),
		"format": format.String(),
		"files":  res.Files,
		"markup": res.MarkupFiles,
		"bib":    res.BibFiles,
	})

	if res.MarkupFiles == 0 && res.BibFiles == 0 {
		return res, ErrNoSourceFiles
	}
	return res, nil
}

// extract is the recursive step. depth 0 is the downloaded artifact.
func (e *Extractor) extract(archivePath, destDir string, depth int) (Format, error) {
	if depth > e.maxDepth {
		e.log.Warn("maximum recursion depth reached", map[string]interface{}{
			"path":  filepath.Base(archivePath),
			"depth": depth,
		})
		return FormatFailed, logger.NewAppError(logger.ErrorTypeDepth, filepath.Base(archivePath), ErrDepthExceeded)
	}
	if _, err := os.Stat(archivePath); err != nil {
		return FormatFailed, fmt.Errorf("%w: %s", ErrMissingArchive, archivePath)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return FormatFailed, err
	}

	ok, err := e.untar(archivePath, destDir)
	if err != nil {
		return FormatFailed, err
	}
	if ok {
		e.log.Debug("extracted tar archive", map[string]interface{}{"path": filepath.Base(archivePath), "depth": depth})
		if err := e.unpackNested(destDir, depth); err != nil {
			return FormatFailed, err
		}
		return FormatTar, nil
	}

	out, ok, err := e.gunzip(archivePath, destDir)
	if err != nil {
		return FormatFailed, err
	}
	if !ok {
		return FormatFailed, logger.NewAppError(logger.ErrorTypeArchive, filepath.Base(archivePath), ErrUnsupportedFormat)
	}
	e.log.Debug("decompressed gzip stream", map[string]interface{}{"output": filepath.Base(out), "depth": depth})

	if strings.EqualFold(filepath.Ext(out), ".tar") {
		arena, err := newArena(destDir, depth)
		if err != nil {
			return FormatFailed, err
		}
		_, err = e.extract(out, arena, depth+1)
		if err == nil {
			err = mergeArena(arena, destDir)
		}
		os.RemoveAll(arena)
		if err == nil {
			os.Remove(out)
			return FormatGzipSingle, nil
		}
		e.log.Debug("decompressed stream is not a tar archive", map[string]interface{}{"path": filepath.Base(out), "error": err.Error()})
	}

	e.renameIfMarkup(out)
	return FormatGzipSingle, nil
}

// unpackNested unpacks every archive among destDir's immediate children into
// an arena directory for the next depth, merges the arena back and removes
// the nested artifact. A nested failure drops only that subtree.
func (e *Extractor) unpackNested(destDir string, depth int) error {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isNestedArchive(entry.Name()) {
			continue
		}
		nested := filepath.Join(destDir, entry.Name())

		arena, err := newArena(destDir, depth)
		if err != nil {
			return err
		}

		if _, err := e.extract(nested, arena, depth+1); err != nil {
			e.log.Warn("dropping nested archive", map[string]interface{}{
				"path":  entry.Name(),
				"depth": depth + 1,
				"error": err.Error(),
			})
		} else if err := mergeArena(arena, destDir); err != nil {
			e.log.Warn("merging nested archive failed", map[string]interface{}{"path": entry.Name(), "error": err.Error()})
		}

		os.RemoveAll(arena)
		os.Remove(nested)
	}
	return nil
}

// newArena creates the scratch directory for one recursion level. The name
// is depth-indexed; a numeric suffix is added if the archive itself already
// shipped an entry with that name.
func newArena(parent string, depth int) (string, error) {
	base := fmt.Sprintf("nested_extract_%d", depth)
	name := base
	for i := 1; ; i++ {
		path := filepath.Join(parent, name)
		err := os.Mkdir(path, 0755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// mergeArena moves every entry of arena into parent. On a name clash the
// entry is renamed with the arena's name as prefix.
func mergeArena(arena, parent string) error {
	entries, err := os.ReadDir(arena)
	if err != nil {
		return err
	}
	prefix := filepath.Base(arena)
	var firstErr error
	for _, entry := range entries {
		src := filepath.Join(arena, entry.Name())
		dst := freePath(parent, entry.Name(), prefix)
		if err := os.Rename(src, dst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// freePath returns a path in dir for name that no existing entry occupies:
// name itself, then prefix_name, then prefix_name_1, prefix_name_2, ... with
// the extension kept last.
func freePath(dir, name, prefix string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); err != nil {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := prefix + "_" + strings.TrimSuffix(name, ext)
	candidate = filepath.Join(dir, stem+ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); err != nil {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

// renameIfMarkup gives a sniffed LaTeX file a .tex extension.
func (e *Extractor) renameIfMarkup(path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if e.markupExts[ext] {
		return
	}
	if !isMarkup(path) {
		return
	}
	dir, base := filepath.Split(path)
	target := freePath(dir, strings.TrimSuffix(base, filepath.Ext(base))+".tex", "sniffed")
	if err := os.Rename(path, target); err != nil {
		if err := copyFile(path, target); err != nil {
			e.log.Warn("could not rename sniffed markup", map[string]interface{}{"path": path, "error": err.Error()})
			return
		}
	}
	e.log.Info("markup detected, renamed", map[string]interface{}{"to": filepath.Base(target)})
}

func (e *Extractor) count(root string) (*Result, error) {
	res := &Result{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		res.Files++
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case e.markupExts[ext]:
			res.MarkupFiles++
		case e.bibExts[ext]:
			res.BibFiles++
		}
		return nil
	})
	return res, err
}

func isNestedArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range nestedSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func extSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		m[ext] = true
	}
	return m
}
