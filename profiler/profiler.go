// Package profiler - Operation timing and metric tracking for the command-line tools.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	sum   float64
	min   float64
	max   float64
	count int64
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Average returns the mean duration, 0 when nothing was recorded.
func (t TimeTracker) Average() time.Duration {
	if t.count == 0 {
		return 0
	}
	return t.totalTime / time.Duration(t.count)
}

// Profiler records operation durations and custom metric values. It is safe
// for concurrent use.
type Profiler struct {
	mu             sync.Mutex
	startTime      time.Time
	customMetrics  map[string]*MetricTracker
	operationTimes map[string]*TimeTracker
}

// New creates an empty profiler.
func New() *Profiler {
	return &Profiler{
		startTime:      time.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{min: value, max: value}
		p.customMetrics[name] = tracker
	}

	tracker.sum += value
	tracker.count++
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation records the completion time of an operation.
func (p *Profiler) RecordOperation(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{minTime: duration, maxTime: duration}
		p.operationTimes[name] = tracker
	}

	tracker.totalTime += duration
	tracker.count++
	tracker.minTime = min(tracker.minTime, duration)
	tracker.maxTime = max(tracker.maxTime, duration)
}

// Operation returns a copy of the tracker for name.
func (p *Profiler) Operation(name string) (TimeTracker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.operationTimes[name]
	if !ok {
		return TimeTracker{}, false
	}
	return *t, true
}

// Count returns how many times an operation completed.
func (t TimeTracker) Count() int64 {
	return t.count
}

// Report logs one line per operation and metric, sorted by name, followed by
// memory usage.
func (p *Profiler) Report(log logrus.FieldLogger) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.operationTimes))
	for name := range p.operationTimes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := p.operationTimes[name]
		log.WithFields(logrus.Fields{
			"operation": name,
			"avg":       t.Average().Truncate(time.Microsecond),
			"min":       t.minTime.Truncate(time.Microsecond),
			"max":       t.maxTime.Truncate(time.Microsecond),
			"count":     t.count,
		}).Info("Operation timing")
	}

	names = names[:0]
	for name := range p.customMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := p.customMetrics[name]
		log.WithFields(logrus.Fields{
			"metric": name,
			"avg":    m.sum / float64(m.count),
			"min":    m.min,
			"max":    m.max,
			"count":  m.count,
		}).Info("Metric")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.WithFields(logrus.Fields{
		"uptime":     time.Since(p.startTime).Truncate(time.Millisecond),
		"heap_alloc": formatBytes(mem.HeapAlloc),
		"sys":        formatBytes(mem.Sys),
		"gc_cycles":  mem.NumGC,
	}).Info("Memory usage")
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
