package drainloop

import (
	"sync"
	"time"
)

// sampleSize is the maximum number of task latency samples to retain.
// A rolling buffer of 1000 samples is kept to compute percentiles.
const sampleSize = 1000

// MetricsSnapshot is a point-in-time copy of executor metrics, safe for
// concurrent reads.
//
// Example:
//
//	exec, _ := drainloop.New(reg, drainloop.WithMetrics(true))
//	// ... work ...
//	stats := exec.Metrics()
//	fmt.Printf("executed: %d, P99 task latency: %v\n",
//		stats.TasksExecuted, stats.Latency.P99)
type MetricsSnapshot struct {
	// TasksExecuted is the cumulative number of tasks run across all
	// Drain passes.
	TasksExecuted uint64
	// Drains is the number of Drain passes.
	Drains uint64
	// Overloads is the number of Drain passes that ended with backlog
	// remaining.
	Overloads uint64
	// QueueHighWater is the maximum observed backlog length.
	QueueHighWater int
	// Latency holds per-task latency percentiles over the rolling
	// sample window.
	Latency LatencyStats
}

// LatencyStats holds computed latency percentiles.
type LatencyStats struct {
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// metrics tracks runtime statistics for the executor.
// Methods are thread-safe so observers may snapshot from any goroutine,
// though all writers run on the executor's logical thread.
type metrics struct {
	mu sync.Mutex

	tasksExecuted uint64
	drains        uint64
	overloads     uint64
	highWater     int

	sampleIdx   int
	sampleCount int
	sum         time.Duration
	samples     [sampleSize]time.Duration
}

func newMetrics() *metrics {
	return &metrics{}
}

// recordTask records one executed task and its latency sample.
func (m *metrics) recordTask(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasksExecuted++

	// If buffer is full, subtract the old sample that we're replacing
	if m.sampleCount >= sampleSize {
		m.sum -= m.samples[m.sampleIdx]
	}

	m.samples[m.sampleIdx] = d
	m.sum += d
	m.sampleIdx++
	if m.sampleIdx >= sampleSize {
		m.sampleIdx = 0
	}
	if m.sampleCount < sampleSize {
		m.sampleCount++
	}
}

// recordDrain records the outcome of a Drain pass.
func (m *metrics) recordDrain(r DrainReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drains++
	if r.Overloaded() {
		m.overloads++
	}
}

// observeDepth updates the queue depth high-water mark.
func (m *metrics) observeDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if depth > m.highWater {
		m.highWater = depth
	}
}

// snapshot computes percentiles from collected samples and returns a
// copy of all counters.
//
// Performance note: sorting is O(n log n) over at most sampleSize
// samples; call no more than once per second if the executor is hot.
func (m *metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TasksExecuted:  m.tasksExecuted,
		Drains:         m.drains,
		Overloads:      m.overloads,
		QueueHighWater: m.highWater,
	}

	count := m.sampleCount
	if count == 0 {
		return snap
	}

	sorted := make([]time.Duration, count)
	copy(sorted, m.samples[:count])

	// Simple in-place sort (selection sort variant)
	for i := 0; i < count; i++ {
		for j := i + 1; j < count; j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	snap.Latency = LatencyStats{
		P50:   sorted[percentileIndex(count, 50)],
		P90:   sorted[percentileIndex(count, 90)],
		P95:   sorted[percentileIndex(count, 95)],
		P99:   sorted[percentileIndex(count, 99)],
		Max:   sorted[count-1],
		Mean:  m.sum / time.Duration(count),
		Count: count,
	}
	return snap
}

// percentileIndex returns the index of the pct-th percentile in a
// sorted sample of the given size.
func percentileIndex(count, pct int) int {
	if count <= 0 {
		return 0
	}
	idx := count*pct/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= count {
		idx = count - 1
	}
	return idx
}

// Metrics returns a snapshot of executor metrics. The zero snapshot is
// returned when metrics collection is disabled (the default).
func (e *Executor) Metrics() MetricsSnapshot {
	if e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.snapshot()
}
