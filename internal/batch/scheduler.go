// Package batch drives item processing over an ID range in fixed-size
// batches with a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matsen/texharvest/internal/logger"
	"github.com/matsen/texharvest/internal/pipeline"
	"github.com/matsen/texharvest/internal/report"
)

// Defaults for a scheduler.
const (
	DefaultWorkers   = 5
	DefaultBatchSize = 50
	DefaultPause     = 2 * time.Second
)

// GenerateIDs returns "<prefix>.<NNNNN>" for every number in [start, end].
func GenerateIDs(prefix string, start, end int) []string {
	if end < start {
		return []string{}
	}
	ids := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		ids = append(ids, fmt.Sprintf("%s.%05d", prefix, i))
	}
	return ids
}

// ProcessFunc processes one item and returns its report entry.
type ProcessFunc func(ctx context.Context, id string) (report.Paper, error)

// FromPipeline adapts a pipeline to a ProcessFunc.
func FromPipeline(p *pipeline.Pipeline) ProcessFunc {
	return func(ctx context.Context, id string) (report.Paper, error) {
		res, err := p.Process(ctx, id)
		if err != nil {
			return report.Paper{}, err
		}
		return res.Paper, nil
	}
}

// Progress is reported after every batch.
type Progress struct {
	Batch     int
	Batches   int
	Done      int
	Total     int
	Succeeded int
}

// Scheduler runs items batch by batch.
type Scheduler struct {
	process   ProcessFunc
	workers   int
	batchSize int
	pause     time.Duration
	sleep     func(context.Context, time.Duration) error
	progress  func(Progress)
	log       *logger.Logger
	handler   *logger.ErrorHandler
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds how many items run at once.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithBatchSize sets how many items are submitted per batch.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		s.batchSize = n
	}
}

// WithPause sets the wait between batches.
func WithPause(d time.Duration) Option {
	return func(s *Scheduler) {
		s.pause = d
	}
}

// WithSleep replaces the inter-batch wait, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleep = fn
	}
}

// WithProgress registers a callback invoked after each batch.
func WithProgress(fn func(Progress)) Option {
	return func(s *Scheduler) {
		s.progress = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// New creates a scheduler around process.
func New(process ProcessFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		process:   process,
		workers:   DefaultWorkers,
		batchSize: DefaultBatchSize,
		pause:     DefaultPause,
		sleep:     sleepContext,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.batchSize < 1 {
		s.batchSize = 1
	}
	s.handler = logger.NewErrorHandler(s.log)
	return s
}

// Run processes ids and returns one entry per processed item, in input
// order. Cancelling ctx stops submission; items already running finish on
// a context detached from the cancellation and are included.
func (s *Scheduler) Run(ctx context.Context, ids []string) []report.Paper {
	papers := make([]report.Paper, 0, len(ids))
	batches := (len(ids) + s.batchSize - 1) / s.batchSize
	succeeded := 0

	for b := 0; b < batches; b++ {
		if ctx.Err() != nil {
			s.log.Warn("run interrupted, not submitting further batches", map[string]interface{}{"batch": b + 1})
			break
		}
		lo := b * s.batchSize
		hi := min(lo+s.batchSize, len(ids))
		s.log.Info(fmt.Sprintf("processing batch %d: items %d-%d", b+1, lo+1, hi))

		start := time.Now()
		got := s.runBatch(ctx, ids[lo:hi])
		papers = append(papers, got...)
		for _, p := range got {
			if p.Status == report.StatusSuccess {
				succeeded++
			}
		}
		s.log.InfoWithDuration("batch finished", time.Since(start), map[string]interface{}{
			"batch":     b + 1,
			"processed": len(got),
		})
		if s.progress != nil {
			s.progress(Progress{Batch: b + 1, Batches: batches, Done: len(papers), Total: len(ids), Succeeded: succeeded})
		}

		if b < batches-1 && s.pause > 0 {
			if err := s.sleep(ctx, s.pause); err != nil {
				break
			}
		}
	}
	return papers
}

// runBatch runs one batch on at most s.workers goroutines and waits for it.
func (s *Scheduler) runBatch(ctx context.Context, ids []string) []report.Paper {
	results := make([]report.Paper, len(ids))
	ran := make([]bool, len(ids))
	detached := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

submit:
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break submit
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = s.runOne(detached, id)
			ran[idx] = true
		}(i, id)
	}
	wg.Wait()

	out := results[:0]
	for i := range results {
		if ran[i] {
			out = append(out, results[i])
		}
	}
	return out
}

// runOne converts errors and panics from process into failed entries.
func (s *Scheduler) runOne(ctx context.Context, id string) (p report.Paper) {
	defer func() {
		if r := recover(); r != nil {
			err := s.handler.Recover(r, "processing "+id)
			p = report.Failed(id, err)
		}
	}()
	p, err := s.process(ctx, id)
	if err != nil {
		s.log.WithItem(id).Error("item failed", err)
		return report.Failed(id, err)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
