/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: resources.go
Description: Resource sampling for inference runs. A ResourceMonitor snapshots runtime
memory statistics on a ticker while a run is in progress and reports the peaks and
totals when stopped.
*/

package monitoring

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrRunning is returned by Start on a running monitor
	ErrRunning = errors.New("monitoring: monitor already running")
	// ErrNotRunning is returned by Stop on an idle monitor
	ErrNotRunning = errors.New("monitoring: monitor not running")
)

// Snapshot is one sample of runtime memory statistics
type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapInuse    uint64    `json:"heap_inuse"`
	HeapObjects  uint64    `json:"heap_objects"`
	TotalAlloc   uint64    `json:"total_alloc"`
	StackInuse   uint64    `json:"stack_inuse"`
	GoRoutines   int       `json:"go_routines"`
	NumGC        uint32    `json:"num_gc"`
	PauseTotalNs uint64    `json:"pause_total_ns"`
}

// TakeSnapshot reads the current runtime statistics
func TakeSnapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Snapshot{
		Timestamp:    time.Now(),
		HeapAlloc:    m.HeapAlloc,
		HeapInuse:    m.HeapInuse,
		HeapObjects:  m.HeapObjects,
		TotalAlloc:   m.TotalAlloc,
		StackInuse:   m.StackInuse,
		GoRoutines:   runtime.NumGoroutine(),
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
	}
}

// Usage summarises the resources used between Start and Stop
type Usage struct {
	Duration       time.Duration `json:"duration"`
	Samples        int           `json:"samples"`
	PeakHeapAlloc  uint64        `json:"peak_heap_alloc"`
	PeakGoRoutines int           `json:"peak_go_routines"`
	AllocatedBytes uint64        `json:"allocated_bytes"` // Bytes allocated during the run, freed or not
	GCCycles       uint32        `json:"gc_cycles"`
	GCPause        time.Duration `json:"gc_pause"`
}

// ResourceMonitor samples runtime statistics in the background
type ResourceMonitor struct {
	interval time.Duration
	logger   *logrus.Logger

	baseline Snapshot
	peak     Snapshot
	samples  int
	running  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewResourceMonitor creates a monitor sampling every interval
func NewResourceMonitor(interval time.Duration, logger *logrus.Logger) *ResourceMonitor {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ResourceMonitor{interval: interval, logger: logger}
}

// Start takes the baseline snapshot and begins sampling until Stop or ctx is done
func (rm *ResourceMonitor) Start(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.running {
		return ErrRunning
	}

	var loopCtx context.Context
	loopCtx, rm.cancel = context.WithCancel(ctx)
	rm.running = true
	rm.baseline = TakeSnapshot()
	rm.peak = rm.baseline
	rm.samples = 1

	rm.wg.Add(1)
	go rm.collectionLoop(loopCtx)

	rm.logger.WithField("interval", rm.interval).Debug("Resource monitor started")
	return nil
}

// Stop ends sampling and returns the usage since Start
func (rm *ResourceMonitor) Stop() (Usage, error) {
	rm.mu.Lock()
	if !rm.running {
		rm.mu.Unlock()
		return Usage{}, ErrNotRunning
	}
	rm.running = false
	rm.cancel()
	rm.mu.Unlock()

	rm.wg.Wait()
	rm.record(TakeSnapshot())

	rm.mu.Lock()
	defer rm.mu.Unlock()
	usage := rm.usage()
	rm.logger.WithFields(logrus.Fields{
		"samples":         usage.Samples,
		"peak_heap_alloc": usage.PeakHeapAlloc,
		"gc_cycles":       usage.GCCycles,
	}).Debug("Resource monitor stopped")
	return usage, nil
}

// collectionLoop samples until the context is cancelled
func (rm *ResourceMonitor) collectionLoop(ctx context.Context) {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.record(TakeSnapshot())
		}
	}
}

// record folds a snapshot into the peaks
func (rm *ResourceMonitor) record(s Snapshot) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.samples++
	if s.HeapAlloc > rm.peak.HeapAlloc {
		rm.peak.HeapAlloc = s.HeapAlloc
	}
	if s.GoRoutines > rm.peak.GoRoutines {
		rm.peak.GoRoutines = s.GoRoutines
	}
	rm.peak.Timestamp = s.Timestamp
	rm.peak.TotalAlloc = s.TotalAlloc
	rm.peak.NumGC = s.NumGC
	rm.peak.PauseTotalNs = s.PauseTotalNs
}

// usage derives the summary; callers hold mu
func (rm *ResourceMonitor) usage() Usage {
	return Usage{
		Duration:       rm.peak.Timestamp.Sub(rm.baseline.Timestamp),
		Samples:        rm.samples,
		PeakHeapAlloc:  rm.peak.HeapAlloc,
		PeakGoRoutines: rm.peak.GoRoutines,
		AllocatedBytes: rm.peak.TotalAlloc - rm.baseline.TotalAlloc,
		GCCycles:       rm.peak.NumGC - rm.baseline.NumGC,
		GCPause:        time.Duration(rm.peak.PauseTotalNs - rm.baseline.PauseTotalNs),
	}
}

// IsRunning reports whether the monitor is sampling
func (rm *ResourceMonitor) IsRunning() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.running
}
