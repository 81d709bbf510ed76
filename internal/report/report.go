// Package report records per-item metrics during a run and writes the
// aggregate run report at the end.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Item statuses.
const (
	StatusSuccess = "success"
	StatusNoTex   = "no_tex"
	StatusFailed  = "failed"
)

// Paper is one item's entry in the run report.
type Paper struct {
	ID              string   `json:"arxiv_id"`
	VersionsFound   []string `json:"versions_found"`
	TexFiles        int      `json:"tex_files"`
	BibFiles        int      `json:"bib_files"`
	ReferencesCount int      `json:"references_count"`
	SizeBefore      int64    `json:"total_size_before"`
	SizeAfter       int64    `json:"total_size_after"`
	Status          string   `json:"status"`
	MaxRAMMB        float64  `json:"max_ram_mb"`
	AvgRAMMB        float64  `json:"avg_ram_mb"`
	Error           string   `json:"error,omitempty"`
}

// Failed builds the entry for an item whose processing broke.
func Failed(id string, err error) Paper {
	return Paper{ID: id, VersionsFound: []string{}, Status: StatusFailed, Error: err.Error()}
}

// Configuration echoes the run settings into the report.
type Configuration struct {
	MaxWorkers int     `json:"max_workers"`
	BatchSize  int     `json:"batch_size"`
	S2Delay    float64 `json:"s2_delay"`
}

// Metrics are the aggregate statistics of a run.
type Metrics struct {
	TotalPapers           int           `json:"total_papers"`
	SuccessfulPapers      int           `json:"successful_papers"`
	FailedPapers          int           `json:"failed_papers"`
	NoTexPapers           int           `json:"no_tex_papers"`
	ErroredPapers         int           `json:"errored_papers"`
	SuccessRate           string        `json:"success_rate"`
	TotalSeconds          float64       `json:"total_processing_time_seconds"`
	TotalMinutes          float64       `json:"total_processing_time_minutes"`
	PapersPerSecond       float64       `json:"papers_per_second"`
	PapersPerMinute       float64       `json:"papers_per_minute"`
	TotalMemoryMB         float64       `json:"total_memory_usage_mb"`
	PeakMemoryMB          float64       `json:"peak_memory_usage_mb"`
	AvgSizeBeforeBytes    float64       `json:"avg_paper_size_before_bytes"`
	AvgSizeAfterBytes     float64       `json:"avg_paper_size_after_bytes"`
	AvgReferencesPerPaper float64       `json:"avg_references_per_paper"`
	ReferenceMetadataRate string        `json:"reference_metadata_success_rate"`
	StartTime             string        `json:"start_time"`
	EndTime               string        `json:"end_time"`
	Configuration         Configuration `json:"configuration"`
}

// Report is the run-level summary written once at the end of a run.
type Report struct {
	RunID   string  `json:"run_id"`
	Metrics Metrics `json:"performance_metrics"`
	Papers  []Paper `json:"papers"`
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// Summarize aggregates papers into a report. total is the number of items
// the run was asked to process; every item not counted as successful is
// counted as failed, including items never reached after an interrupt.
func Summarize(runID string, papers []Paper, total int, start, end time.Time, cfg Configuration) *Report {
	m := Metrics{
		TotalPapers:   total,
		StartTime:     start.Format(timestampLayout),
		EndTime:       end.Format(timestampLayout),
		Configuration: cfg,
	}

	var sizeBefore, sizeAfter int64
	var refs, withRefs int
	for _, p := range papers {
		switch p.Status {
		case StatusSuccess:
			m.SuccessfulPapers++
			sizeBefore += p.SizeBefore
			sizeAfter += p.SizeAfter
			refs += p.ReferencesCount
			if p.ReferencesCount > 0 {
				withRefs++
			}
		case StatusNoTex:
			m.NoTexPapers++
		case StatusFailed:
			m.ErroredPapers++
		}
		if p.Status != StatusFailed {
			m.TotalMemoryMB += p.MaxRAMMB
			if p.MaxRAMMB > m.PeakMemoryMB {
				m.PeakMemoryMB = p.MaxRAMMB
			}
		}
	}
	m.FailedPapers = total - m.SuccessfulPapers
	m.TotalMemoryMB = round(m.TotalMemoryMB, 3)
	m.PeakMemoryMB = round(m.PeakMemoryMB, 3)

	m.SuccessRate = "0%"
	if total > 0 {
		m.SuccessRate = percent(m.SuccessfulPapers, total)
	}

	m.ReferenceMetadataRate = "0.0%"
	if s := m.SuccessfulPapers; s > 0 {
		m.AvgSizeBeforeBytes = round(float64(sizeBefore)/float64(s), 2)
		m.AvgSizeAfterBytes = round(float64(sizeAfter)/float64(s), 2)
		m.AvgReferencesPerPaper = round(float64(refs)/float64(s), 2)
		m.ReferenceMetadataRate = percent(withRefs, s)
	}

	elapsed := end.Sub(start).Seconds()
	m.TotalSeconds = round(elapsed, 2)
	m.TotalMinutes = round(elapsed/60, 2)
	if elapsed > 0 {
		m.PapersPerSecond = round(float64(total)/elapsed, 3)
		m.PapersPerMinute = round(float64(total)/(elapsed/60), 1)
	}

	if papers == nil {
		papers = []Paper{}
	}
	return &Report{RunID: runID, Metrics: m, Papers: papers}
}

// Write stores the report as indented JSON at path.
func (r *Report) Write(path string) error {
	data, err := EncodeJSON(r, "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// EncodeJSON encodes v the way every JSON output of a run is encoded:
// indented, non-ASCII and HTML characters left as is, trailing newline.
func EncodeJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func percent(n, d int) string {
	return fmt.Sprintf("%.1f%%", float64(n)/float64(d)*100)
}
