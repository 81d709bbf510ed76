// Package pipeline processes one arXiv item end to end: metadata, references,
// and the retained sources of every version.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/matsen/texharvest/internal/arxiv"
	"github.com/matsen/texharvest/internal/classify"
	"github.com/matsen/texharvest/internal/collect"
	"github.com/matsen/texharvest/internal/extract"
	"github.com/matsen/texharvest/internal/logger"
	"github.com/matsen/texharvest/internal/memstat"
	"github.com/matsen/texharvest/internal/mirror"
	"github.com/matsen/texharvest/internal/pdf"
	"github.com/matsen/texharvest/internal/report"
	"github.com/matsen/texharvest/internal/s2"
)

// Output file names inside an item directory.
const (
	MetadataFile   = "metadata.json"
	ReferencesFile = "references.json"
	SourceDir      = "tex"
)

// jsonIndent is used for the per-item JSON records.
const jsonIndent = "    "

// DocSource provides abstract pages and e-prints. *arxiv.Client satisfies it.
type DocSource interface {
	Abstract(ctx context.Context, id string) (*arxiv.Abstract, error)
	DownloadEprint(ctx context.Context, id, version, dir string) (string, error)
}

// BiblioSource provides venue and references. *s2.Client satisfies it.
type BiblioSource interface {
	Lookup(ctx context.Context, id string) (s2.Result, error)
}

// Recorder stores a finished item. *index.DB satisfies it.
type Recorder interface {
	RecordItem(runID string, p report.Paper, texRoot string) error
}

// Mirror copies a finished item directory elsewhere. *mirror.Uploader
// satisfies it.
type Mirror interface {
	UploadDir(ctx context.Context, item, dir, status string) (*mirror.UploadResult, error)
}

// VersionResult is the outcome of one version of an item.
type VersionResult struct {
	Version        string    `json:"version"`
	Downloaded     bool      `json:"downloaded"`
	Format         string    `json:"format,omitempty"`
	TexFiles       int       `json:"tex_files"`
	BibFiles       int       `json:"bib_files"`
	FiguresRemoved int       `json:"figures_removed"`
	SizeBefore     int64     `json:"size_before"`
	SizeAfter      int64     `json:"size_after"`
	PDF            *pdf.Info `json:"pdf,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	report.Paper
	Versions   []VersionResult         `json:"versions"`
	Metadata   arxiv.Metadata          `json:"metadata"`
	References map[string]s2.Reference `json:"-"`
	Dir        string                  `json:"dir"`
}

// Pipeline runs items. It is safe for concurrent use; items write only to
// their own directories and to sinks that serialise internally.
type Pipeline struct {
	docs       DocSource
	biblio     BiblioSource
	outputRoot string

	extractor  *extract.Extractor
	collector  *collect.Collector
	figureExts []string

	metrics  *report.MetricsLog
	recorder Recorder
	runID    string
	mirror   Mirror

	sampleInterval time.Duration
	tempDir        string
	log            *logger.Logger
	now            func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExtractor sets the archive extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) {
		p.extractor = e
	}
}

// WithCollector sets the source collector.
func WithCollector(c *collect.Collector) Option {
	return func(p *Pipeline) {
		p.collector = c
	}
}

// WithFigureExts sets the extensions stripped from every SourceTree.
func WithFigureExts(exts []string) Option {
	return func(p *Pipeline) {
		p.figureExts = exts
	}
}

// WithMetricsLog sets the shared per-item metrics log.
func WithMetricsLog(m *report.MetricsLog) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRecorder records every finished item under runID.
func WithRecorder(r Recorder, runID string) Option {
	return func(p *Pipeline) {
		p.recorder = r
		p.runID = runID
	}
}

// WithMirror uploads every finished item directory.
func WithMirror(m Mirror) Option {
	return func(p *Pipeline) {
		p.mirror = m
	}
}

// WithMemorySampling sets the sampling interval; zero disables sampling.
func WithMemorySampling(interval time.Duration) Option {
	return func(p *Pipeline) {
		p.sampleInterval = interval
	}
}

// WithTempDir sets where per-version scratch directories are created.
func WithTempDir(dir string) Option {
	return func(p *Pipeline) {
		p.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// New creates a pipeline writing item directories under outputRoot.
func New(docs DocSource, biblio BiblioSource, outputRoot string, opts ...Option) *Pipeline {
	p := &Pipeline{
		docs:           docs,
		biblio:         biblio,
		outputRoot:     outputRoot,
		extractor:      extract.New(),
		collector:      collect.New(),
		figureExts:     collect.DefaultFigureExts,
		sampleInterval: memstat.DefaultInterval,
		log:            logger.Discard(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one item. Network and per-version failures are absorbed
// into the result; an error is returned only when the item directory
// cannot be created.
func (p *Pipeline) Process(ctx context.Context, id string) (*ItemResult, error) {
	start := p.now()
	var sampler *memstat.Sampler
	if p.sampleInterval > 0 {
		sampler = memstat.Start(p.sampleInterval)
		defer sampler.Stop()
	}
	log := p.log.WithItem(id)
	log.Info("start processing")

	dashed := arxiv.DashedID(id)
	itemDir := filepath.Join(p.outputRoot, dashed)
	texRoot := filepath.Join(itemDir, SourceDir)
	if err := os.MkdirAll(texRoot, 0755); err != nil {
		return nil, logger.WrapError(err, logger.ErrorTypeFilesystem, "creating item directory")
	}

	abs, err := p.docs.Abstract(ctx, id)
	if err != nil {
		log.Warn("abstract page unavailable", map[string]interface{}{"error": err.Error()})
	}
	if abs == nil {
		abs = &arxiv.Abstract{Metadata: arxiv.EmptyMetadata()}
	}
	md := abs.Metadata
	versions := abs.Versions
	if len(versions) == 0 {
		versions = arxiv.DefaultVersions()
	}
	log.Info("discovered versions", map[string]interface{}{"versions": versions})

	bib, err := p.biblio.Lookup(ctx, id)
	if err != nil {
		log.Warn("bibliographic data unavailable", map[string]interface{}{"error": err.Error()})
	}
	if bib.References == nil {
		bib.References = map[string]s2.Reference{}
	}
	if bib.Venue != "" {
		md.Venue = bib.Venue
	}

	res := &ItemResult{
		Paper: report.Paper{
			ID:              id,
			VersionsFound:   versions,
			ReferencesCount: len(bib.References),
		},
		Metadata:   md,
		References: bib.References,
		Dir:        itemDir,
	}

	gotTex := false
	for _, ver := range versions {
		vr := p.processVersion(ctx, log, id, ver, texRoot)
		res.Versions = append(res.Versions, vr)
		res.TexFiles += vr.TexFiles
		res.BibFiles += vr.BibFiles
		res.SizeBefore += vr.SizeBefore
		res.SizeAfter += vr.SizeAfter
		if vr.TexFiles > 0 {
			gotTex = true
		}
	}
	res.Status = report.StatusNoTex
	if gotTex {
		res.Status = report.StatusSuccess
	}

	if err := writeJSON(filepath.Join(itemDir, MetadataFile), md); err != nil {
		log.Error("saving metadata failed", err)
	}
	if err := writeJSON(filepath.Join(itemDir, ReferencesFile), bib.References); err != nil {
		log.Error("saving references failed", err)
	}

	if sampler != nil {
		st := sampler.Stop()
		res.MaxRAMMB, res.AvgRAMMB = st.MaxMB, st.AvgMB
	}
	end := p.now()

	if p.metrics != nil {
		row := report.MetricsRow{
			ID:         id,
			Start:      start,
			End:        end,
			SizeBefore: res.SizeBefore,
			SizeAfter:  res.SizeAfter,
			MaxRAMMB:   res.MaxRAMMB,
			AvgRAMMB:   res.AvgRAMMB,
			Status:     res.Status,
		}
		if err := p.metrics.Append(row); err != nil {
			log.Error("writing metrics row failed", err)
		}
	}

	if p.recorder != nil {
		if err := p.recorder.RecordItem(p.runID, res.Paper, texRoot); err != nil {
			log.Error("recording item in index failed", err)
		}
	}
	if p.mirror != nil {
		if up, err := p.mirror.UploadDir(ctx, dashed, itemDir, res.Status); err != nil {
			log.Error("mirroring item failed", err)
		} else {
			log.Info("mirrored item", map[string]interface{}{"key": up.Key, "bytes": up.CompressedSize})
		}
	}

	log.InfoWithDuration("finished processing", end.Sub(start), map[string]interface{}{
		"status":     res.Status,
		"tex_files":  res.TexFiles,
		"bib_files":  res.BibFiles,
		"references": res.ReferencesCount,
	})
	return res, nil
}

// processVersion downloads, extracts and collects one version. Its scratch
// directory is removed on every path; the version's destination directory
// is created up front and left empty when nothing could be retained.
func (p *Pipeline) processVersion(ctx context.Context, log *logger.Logger, id, ver, texRoot string) VersionResult {
	vr := VersionResult{Version: ver}
	dest := filepath.Join(texRoot, arxiv.DashedID(id)+ver)
	if err := os.MkdirAll(dest, 0755); err != nil {
		vr.Error = err.Error()
		log.Error("creating version directory failed", err, map[string]interface{}{"version": ver})
		return vr
	}

	scratch, err := os.MkdirTemp(p.tempDir, "texharvest_dl_")
	if err != nil {
		vr.Error = err.Error()
		log.Error("creating scratch directory failed", err, map[string]interface{}{"version": ver})
		return vr
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("removing scratch directory failed", map[string]interface{}{"path": scratch, "error": err.Error()})
		}
	}()

	artifact, err := p.docs.DownloadEprint(ctx, id, ver, scratch)
	if err != nil {
		vr.Error = err.Error()
		log.Warn("no source for version, keeping empty directory", map[string]interface{}{"version": ver, "error": err.Error()})
		return vr
	}
	vr.Downloaded = true

	extracted := filepath.Join(scratch, "extracted")
	ex, err := p.extractor.Extract(artifact, extracted)
	if err != nil {
		vr.Error = err.Error()
		if ex != nil {
			vr.Format = ex.Format.String()
		}
		if !errors.Is(err, extract.ErrNoSourceFiles) && sniffFile(artifact) == "pdf" {
			vr.PDF = p.probePDF(log, artifact, ver)
		}
		log.Warn("extraction failed, skipping version", map[string]interface{}{"version": ver, "error": err.Error()})
		return vr
	}
	vr.Format = ex.Format.String()

	vr.SizeBefore = collect.TreeSize(extracted)
	counts, err := p.collector.Collect(extracted, dest)
	if err != nil {
		vr.Error = err.Error()
		log.Error("collecting sources failed", err, map[string]interface{}{"version": ver})
		return vr
	}
	vr.TexFiles, vr.BibFiles = counts.Markup, counts.Bib
	vr.SizeAfter = collect.TreeSize(dest)
	vr.FiguresRemoved = collect.StripFigures(dest, p.figureExts)

	log.Info("version processed", map[string]interface{}{
		"version":     ver,
		"tex_files":   vr.TexFiles,
		"bib_files":   vr.BibFiles,
		"size_before": vr.SizeBefore,
		"size_after":  vr.SizeAfter,
		"figures":     vr.FiguresRemoved,
	})
	return vr
}

func (p *Pipeline) probePDF(log *logger.Logger, path, ver string) *pdf.Info {
	info, err := pdf.Probe(path)
	if err != nil {
		log.Debug("pdf probe failed", map[string]interface{}{"version": ver, "error": err.Error()})
		return nil
	}
	log.Info("e-print is a bare pdf", map[string]interface{}{"version": ver, "pages": info.Pages, "doi": info.DOI})
	return info
}

// sniffFile names the binary signature at the head of path, or "".
func sniffFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 16)
	n, _ := io.ReadFull(f, head)
	return classify.Sniff(head[:n])
}

func writeJSON(path string, v any) error {
	data, err := report.EncodeJSON(v, jsonIndent)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}
