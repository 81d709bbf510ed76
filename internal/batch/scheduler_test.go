package batch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsen/texharvest/internal/report"
)

func TestGenerateIDs(t *testing.T) {
	assert.Equal(t, []string{"2412.15272", "2412.15273", "2412.15274"}, GenerateIDs("2412", 15272, 15274))
	assert.Equal(t, []string{"2401.00007"}, GenerateIDs("2401", 7, 7))
	assert.Empty(t, GenerateIDs("2401", 5, 4))
}

func successFunc(_ context.Context, id string) (report.Paper, error) {
	return report.Paper{ID: id, Status: report.StatusSuccess}, nil
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return nil
}

func TestRun_PreservesInputOrder(t *testing.T) {
	ids := GenerateIDs("2412", 1, 20)
	process := func(_ context.Context, id string) (report.Paper, error) {
		n, err := strconv.Atoi(id[len("2412."):])
		if err != nil {
			return report.Paper{}, err
		}
		// later items finish first
		time.Sleep(time.Duration(21-n) * time.Millisecond)
		return report.Paper{ID: id, Status: report.StatusSuccess}, nil
	}
	s := New(process, WithWorkers(4), WithBatchSize(8), WithPause(0))

	papers := s.Run(context.Background(), ids)
	require.Len(t, papers, len(ids))
	for i, p := range papers {
		assert.Equal(t, ids[i], p.ID)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	process := func(_ context.Context, id string) (report.Paper, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return report.Paper{ID: id, Status: report.StatusSuccess}, nil
	}
	s := New(process, WithWorkers(3), WithBatchSize(12), WithPause(0))

	papers := s.Run(context.Background(), GenerateIDs("2412", 1, 12))
	assert.Len(t, papers, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRun_ErrorsAndPanicsBecomeFailed(t *testing.T) {
	process := func(_ context.Context, id string) (report.Paper, error) {
		switch id {
		case "2412.00002":
			return report.Paper{}, errors.New("disk full")
		case "2412.00003":
			panic("unexpected nil archive")
		}
		return report.Paper{ID: id, Status: report.StatusNoTex}, nil
	}
	s := New(process, WithWorkers(2), WithPause(0))

	papers := s.Run(context.Background(), GenerateIDs("2412", 1, 4))
	require.Len(t, papers, 4)
	assert.Equal(t, report.StatusNoTex, papers[0].Status)

	assert.Equal(t, report.StatusFailed, papers[1].Status)
	assert.Equal(t, "2412.00002", papers[1].ID)
	assert.Contains(t, papers[1].Error, "disk full")

	assert.Equal(t, report.StatusFailed, papers[2].Status)
	assert.Equal(t, "2412.00003", papers[2].ID)
	assert.Contains(t, papers[2].Error, "unexpected nil archive")

	assert.Equal(t, report.StatusNoTex, papers[3].Status)
}

func TestRun_PausesBetweenBatchesOnly(t *testing.T) {
	rec := &sleepRecorder{}
	var progress []Progress
	s := New(successFunc,
		WithBatchSize(2),
		WithPause(2*time.Second),
		WithSleep(rec.sleep),
		WithProgress(func(p Progress) { progress = append(progress, p) }),
	)

	papers := s.Run(context.Background(), GenerateIDs("2412", 1, 5))
	assert.Len(t, papers, 5)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.calls)

	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Batch: 3, Batches: 3, Done: 5, Total: 5, Succeeded: 5}, progress[2])
}

func TestRun_SingleBatchNoPause(t *testing.T) {
	rec := &sleepRecorder{}
	s := New(successFunc, WithBatchSize(50), WithSleep(rec.sleep))

	assert.Len(t, s.Run(context.Background(), GenerateIDs("2412", 15272, 15274)), 3)
	assert.Empty(t, rec.calls)
}

func TestRun_Empty(t *testing.T) {
	s := New(successFunc)
	assert.Empty(t, s.Run(context.Background(), nil))
}

func TestRun_CancelStopsSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancelled atomic.Bool
	process := func(pctx context.Context, id string) (report.Paper, error) {
		if id == "2412.00001" {
			cancel()
			time.Sleep(10 * time.Millisecond)
		}
		if pctx.Err() != nil {
			sawCancelled.Store(true)
		}
		return report.Paper{ID: id, Status: report.StatusSuccess}, nil
	}
	s := New(process, WithWorkers(1), WithBatchSize(2), WithPause(0))

	papers := s.Run(ctx, GenerateIDs("2412", 1, 6))
	require.NotEmpty(t, papers)
	assert.Less(t, len(papers), 6)
	assert.Equal(t, "2412.00001", papers[0].ID)
	assert.Equal(t, report.StatusSuccess, papers[0].Status)
	assert.False(t, sawCancelled.Load(), "in-flight items must not observe cancellation")
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
