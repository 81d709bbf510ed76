// Package memstat samples process memory while an item is being processed.
package memstat

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 100 * time.Millisecond

// Stats summarises the samples of one sampling window, in MB.
type Stats struct {
	MaxMB float64
	AvgMB float64
}

// ReadFunc returns the current memory footprint in bytes.
type ReadFunc func() uint64

var self = sync.OnceValues(func() (*process.Process, error) {
	return process.NewProcess(int32(os.Getpid()))
})

// ProcessBytes is the resident set size of this process. Where the platform
// cannot report RSS it falls back to the memory the Go runtime holds from
// the OS.
func ProcessBytes() uint64 {
	if p, err := self(); err == nil {
		if mi, err := p.MemoryInfo(); err == nil && mi.RSS > 0 {
			return mi.RSS
		}
	}
	return runtimeBytes()
}

func runtimeBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys - ms.HeapReleased
}

// Sampler records memory readings on a ticker until stopped.
type Sampler struct {
	read    ReadFunc
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	samples []float64
}

// Start begins sampling with ProcessBytes every interval.
func Start(interval time.Duration) *Sampler {
	return StartWith(interval, ProcessBytes)
}

// StartWith begins sampling with read. One sample is taken immediately.
func StartWith(interval time.Duration, read ReadFunc) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sampler{
		read: read,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop(interval)
	return s
}

func (s *Sampler) loop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	s.samples = append(s.samples, float64(s.read())/(1024*1024))
}

// Stop ends sampling and returns the summary. It is safe to call more
// than once.
func (s *Sampler) Stop() Stats {
	s.once.Do(func() { close(s.stop) })
	<-s.done

	var st Stats
	if len(s.samples) == 0 {
		return st
	}
	var sum float64
	for _, v := range s.samples {
		sum += v
		if v > st.MaxMB {
			st.MaxMB = v
		}
	}
	st.AvgMB = sum / float64(len(s.samples))
	return st
}
