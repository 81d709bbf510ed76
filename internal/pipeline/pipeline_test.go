package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/texharvest/internal/arxiv"
	"github.com/matsen/texharvest/internal/fetch"
	"github.com/matsen/texharvest/internal/mirror"
	"github.com/matsen/texharvest/internal/report"
	"github.com/matsen/texharvest/internal/s2"
)

const testID = "2412.15272"

type fakeDocs struct {
	abs      *arxiv.Abstract
	absErr   error
	archives map[string][]byte

	mu        sync.Mutex
	downloads []string
}

func (f *fakeDocs) Abstract(_ context.Context, _ string) (*arxiv.Abstract, error) {
	if f.absErr != nil {
		return &arxiv.Abstract{Metadata: arxiv.EmptyMetadata(), Versions: arxiv.DefaultVersions()}, f.absErr
	}
	return f.abs, nil
}

func (f *fakeDocs) DownloadEprint(_ context.Context, id, version, dir string) (string, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, version)
	f.mu.Unlock()
	data, ok := f.archives[version]
	if !ok {
		return "", &fetch.StatusError{StatusCode: 404, URL: "https://arxiv.org/e-print/" + id + version, Attempts: 1}
	}
	path := filepath.Join(dir, arxiv.DashedID(id)+version+".tar.gz")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeBiblio struct {
	res s2.Result
	err error
}

func (f fakeBiblio) Lookup(context.Context, string) (s2.Result, error) {
	return f.res, f.err
}

type fakeRecorder struct {
	runID string
	paper report.Paper
	root  string
}

func (f *fakeRecorder) RecordItem(runID string, p report.Paper, texRoot string) error {
	f.runID, f.paper, f.root = runID, p, texRoot
	return nil
}

type fakeMirror struct {
	item, dir, status string
}

func (f *fakeMirror) UploadDir(_ context.Context, item, dir, status string) (*mirror.UploadResult, error) {
	f.item, f.dir, f.status = item, dir, status
	return &mirror.UploadResult{Key: item + ".tar.gz"}, nil
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sampleAbstract(versions ...string) *arxiv.Abstract {
	return &arxiv.Abstract{
		Metadata: arxiv.Metadata{
			Title:          "Sparse Attention for Long Documents",
			Authors:        []string{"Jane Doe", "Wei Zhang"},
			SubmissionDate: "19 Dec 2024",
			RevisedDates:   []string{},
			Venue:          "Machine Learning (cs.LG)",
		},
		Versions: versions,
	}
}

func newTestPipeline(t *testing.T, docs DocSource, biblio BiblioSource, opts ...Option) (*Pipeline, string, string) {
	t.Helper()
	root := t.TempDir()
	scratch := t.TempDir()
	opts = append([]Option{WithTempDir(scratch), WithMemorySampling(0)}, opts...)
	return New(docs, biblio, root, opts...), root, scratch
}

func TestProcess_Success(t *testing.T) {
	docs := &fakeDocs{
		abs: sampleAbstract("v1"),
		archives: map[string][]byte{"v1": tarGz(t, map[string]string{
			"main.tex":      `\documentclass{article}`,
			"refs.bib":      `@article{a, title={A}}`,
			"figs/plot.png": "\x89PNG....",
		})},
	}
	biblio := fakeBiblio{res: s2.Result{
		Venue: "NeurIPS",
		References: map[string]s2.Reference{
			"2401-00001": {Title: "Prior Work", Authors: []string{"A. Author"}, SubmissionDate: "2024", S2ID: "abc"},
		},
	}}
	metricsPath := filepath.Join(t.TempDir(), "metrics.csv")
	rec := &fakeRecorder{}
	mir := &fakeMirror{}

	p, root, scratch := newTestPipeline(t, docs, biblio,
		WithMetricsLog(report.NewMetricsLog(metricsPath)),
		WithRecorder(rec, "run-1"),
		WithMirror(mir),
	)
	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)

	assert.Equal(t, report.StatusSuccess, res.Status)
	assert.Equal(t, []string{"v1"}, res.VersionsFound)
	assert.Equal(t, 1, res.TexFiles)
	assert.Equal(t, 1, res.BibFiles)
	assert.Equal(t, 1, res.ReferencesCount)
	assert.Equal(t, "NeurIPS", res.Metadata.Venue)
	assert.Greater(t, res.SizeBefore, res.SizeAfter)
	require.Len(t, res.Versions, 1)
	assert.Equal(t, "tar", res.Versions[0].Format)

	versionDir := filepath.Join(root, "2412-15272", "tex", "2412-15272v1")
	assert.FileExists(t, filepath.Join(versionDir, "main.tex"))
	assert.FileExists(t, filepath.Join(versionDir, "refs.bib"))
	assert.NoFileExists(t, filepath.Join(versionDir, "figs", "plot.png"))
	assert.FileExists(t, filepath.Join(root, "2412-15272", MetadataFile))
	assert.FileExists(t, filepath.Join(root, "2412-15272", ReferencesFile))

	leftover, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftover, "scratch directories must be removed")

	assert.Equal(t, "run-1", rec.runID)
	assert.Equal(t, testID, rec.paper.ID)
	assert.Equal(t, filepath.Join(root, "2412-15272", "tex"), rec.root)
	assert.Equal(t, "2412-15272", mir.item)
	assert.Equal(t, report.StatusSuccess, mir.status)

	f, err := os.Open(metricsPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, testID, rows[1][0])
	assert.Equal(t, report.StatusSuccess, rows[1][len(rows[1])-1])
}

func TestProcess_NoVersionsAndNoDownload(t *testing.T) {
	docs := &fakeDocs{absErr: errors.New("abstract page: connection refused")}
	metricsPath := filepath.Join(t.TempDir(), "metrics.csv")

	p, root, _ := newTestPipeline(t, docs, fakeBiblio{res: s2.Empty()},
		WithMetricsLog(report.NewMetricsLog(metricsPath)))
	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)

	assert.Equal(t, report.StatusNoTex, res.Status)
	assert.Equal(t, []string{"v1"}, res.VersionsFound)
	assert.Equal(t, []string{"v1"}, docs.downloads)
	assert.Zero(t, res.SizeBefore)
	assert.Zero(t, res.SizeAfter)
	require.Len(t, res.Versions, 1)
	assert.False(t, res.Versions[0].Downloaded)
	assert.NotEmpty(t, res.Versions[0].Error)

	versionDir := filepath.Join(root, "2412-15272", "tex", "2412-15272v1")
	entries, err := os.ReadDir(versionDir)
	require.NoError(t, err, "version directory is kept even when empty")
	assert.Empty(t, entries)

	md, err := os.ReadFile(filepath.Join(root, "2412-15272", MetadataFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), `"paper_title": ""`)
	assert.Contains(t, string(md), `"authors": []`)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), ",0,0,")
	assert.Contains(t, string(data), report.StatusNoTex)
}

func TestProcess_BiblioMissKeepsVenue(t *testing.T) {
	docs := &fakeDocs{abs: sampleAbstract("v1")}
	p, root, _ := newTestPipeline(t, docs, fakeBiblio{res: s2.Empty()})

	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, "Machine Learning (cs.LG)", res.Metadata.Venue)
	assert.Zero(t, res.ReferencesCount)

	refs, err := os.ReadFile(filepath.Join(root, "2412-15272", ReferencesFile))
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(refs))
}

func TestProcess_BiblioErrorAbsorbed(t *testing.T) {
	docs := &fakeDocs{abs: sampleAbstract("v1")}
	biblio := fakeBiblio{res: s2.Empty(), err: errors.New("retries exhausted")}
	p, _, _ := newTestPipeline(t, docs, biblio)

	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusNoTex, res.Status)
	assert.Equal(t, "Machine Learning (cs.LG)", res.Metadata.Venue)
}

func TestProcess_PartialVersions(t *testing.T) {
	docs := &fakeDocs{
		abs: sampleAbstract("v1", "v2"),
		archives: map[string][]byte{
			"v2": tarGz(t, map[string]string{"paper.tex": `\begin{document}\end{document}`}),
		},
	}
	p, root, _ := newTestPipeline(t, docs, fakeBiblio{res: s2.Empty()})

	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, res.Status)
	assert.Equal(t, []string{"v1", "v2"}, docs.downloads)
	assert.DirExists(t, filepath.Join(root, "2412-15272", "tex", "2412-15272v1"))
	assert.FileExists(t, filepath.Join(root, "2412-15272", "tex", "2412-15272v2", "paper.tex"))
}

func TestProcess_CorruptArchive(t *testing.T) {
	docs := &fakeDocs{
		abs:      sampleAbstract("v1"),
		archives: map[string][]byte{"v1": []byte("this is not an archive at all")},
	}
	p, _, scratch := newTestPipeline(t, docs, fakeBiblio{res: s2.Empty()})

	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusNoTex, res.Status)
	require.Len(t, res.Versions, 1)
	assert.True(t, res.Versions[0].Downloaded)
	assert.NotEmpty(t, res.Versions[0].Error)
	assert.Nil(t, res.Versions[0].PDF)

	leftover, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestProcess_OutputsAreDeterministic(t *testing.T) {
	biblio := fakeBiblio{res: s2.Result{
		Venue: "ICML",
		References: map[string]s2.Reference{
			"2401-00002": {Title: "B", Authors: []string{}, SubmissionDate: "2023", S2ID: "b"},
			"2401-00001": {Title: "A", Authors: []string{"X"}, SubmissionDate: "2024", S2ID: "a"},
		},
	}}
	run := func() (string, []byte, []byte) {
		docs := &fakeDocs{
			abs:      sampleAbstract("v1"),
			archives: map[string][]byte{"v1": tarGz(t, map[string]string{"main.tex": "x", "a.bib": "y"})},
		}
		p, root, _ := newTestPipeline(t, docs, biblio)
		_, err := p.Process(context.Background(), testID)
		require.NoError(t, err)
		md, err := os.ReadFile(filepath.Join(root, "2412-15272", MetadataFile))
		require.NoError(t, err)
		refs, err := os.ReadFile(filepath.Join(root, "2412-15272", ReferencesFile))
		require.NoError(t, err)
		return root, md, refs
	}

	_, md1, refs1 := run()
	_, md2, refs2 := run()
	assert.Equal(t, md1, md2)
	assert.Equal(t, refs1, refs2)
	assert.Less(t, bytes.Index(refs1, []byte("2401-00001")), bytes.Index(refs1, []byte("2401-00002")))
}

func TestProcess_MemorySampling(t *testing.T) {
	docs := &fakeDocs{abs: sampleAbstract("v1")}
	p := New(docs, fakeBiblio{res: s2.Empty()}, t.TempDir(),
		WithTempDir(t.TempDir()), WithMemorySampling(time.Millisecond))

	res, err := p.Process(context.Background(), testID)
	require.NoError(t, err)
	assert.Greater(t, res.MaxRAMMB, 0.0)
	assert.GreaterOrEqual(t, res.MaxRAMMB, res.AvgRAMMB)
}

func TestProcess_UnwritableRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	p := New(&fakeDocs{abs: sampleAbstract("v1")}, fakeBiblio{res: s2.Empty()}, file, WithMemorySampling(0))
	_, err := p.Process(context.Background(), testID)
	assert.Error(t, err)
}
