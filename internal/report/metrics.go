package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"
)

// MetricsHeader is the first row of the metrics log.
var MetricsHeader = []string{
	"arxiv_id", "start_time", "end_time", "duration_sec",
	"size_before_mb", "size_after_mb", "output_size_mb",
	"max_ram_mb", "avg_ram_mb", "status",
}

// timestampLayout matches the microsecond ISO form used throughout the run
// outputs.
const timestampLayout = "2006-01-02T15:04:05.000000"

// MetricsRow is one item's line in the metrics log.
type MetricsRow struct {
	ID         string
	Start      time.Time
	End        time.Time
	SizeBefore int64
	SizeAfter  int64
	MaxRAMMB   float64
	AvgRAMMB   float64
	Status     string
}

func (r MetricsRow) record() []string {
	return []string{
		r.ID,
		r.Start.Format(timestampLayout),
		r.End.Format(timestampLayout),
		formatFloat(r.End.Sub(r.Start).Seconds(), 3),
		formatFloat(bytesToMB(r.SizeBefore), 3),
		formatFloat(bytesToMB(r.SizeAfter), 3),
		formatFloat(bytesToMB(r.SizeAfter), 3),
		formatFloat(r.MaxRAMMB, 3),
		formatFloat(r.AvgRAMMB, 3),
		r.Status,
	}
}

// MetricsLog is the append-only per-item CSV shared by all workers.
type MetricsLog struct {
	mu   sync.Mutex
	path string
}

// NewMetricsLog returns a log appending to path. The file is created on
// the first Append.
func NewMetricsLog(path string) *MetricsLog {
	return &MetricsLog{path: path}
}

// Path returns the log's file path.
func (m *MetricsLog) Path() string {
	return m.path
}

// Append writes row, preceded by the header if the file does not exist yet.
func (m *MetricsLog) Append(row MetricsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, statErr := os.Stat(m.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening metrics log: %w", err)
	}

	w := csv.NewWriter(f)
	if writeHeader {
		w.Write(MetricsHeader)
	}
	w.Write(row.record())
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing metrics log: %w", err)
	}
	return f.Close()
}

func bytesToMB(n int64) float64 {
	return float64(n) / (1024 * 1024)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func formatFloat(x float64, places int) string {
	return strconv.FormatFloat(round(x, places), 'f', -1, 64)
}
