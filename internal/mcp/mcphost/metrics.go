package mcphost

import (
	"slices"
	"sync"
)

type sample struct {
	latencyMs int64
	failed    bool
}

// rollingWindow keeps the last size call samples of one tool in a ring
// buffer. All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []sample
	pos     int
	count   int
	failed  int // failures among the buffered samples
}

// newRollingWindow returns a window of the given capacity. A size of 0 or
// less defaults to [defaultWindowSize].
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{samples: make([]sample, size)}
}

// Record adds one call, evicting the oldest sample once the buffer is full.
func (w *rollingWindow) Record(latencyMs int64, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count >= len(w.samples) && w.samples[w.pos].failed {
		w.failed--
	}
	w.samples[w.pos] = sample{latencyMs: latencyMs, failed: failed}
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
	if failed {
		w.failed++
	}
}

func (w *rollingWindow) len() int {
	return min(w.count, len(w.samples))
}

// percentile returns the q-quantile latency (0 < q < 1) of the window, or 0
// when it is empty. Callers hold w.mu.
func (w *rollingWindow) percentile(q float64) int64 {
	n := w.len()
	if n == 0 {
		return 0
	}
	lat := make([]int64, n)
	for i := range n {
		lat[i] = w.samples[i].latencyMs
	}
	slices.Sort(lat)
	return lat[int(float64(n-1)*q+0.5)]
}

// Stats returns p50, p99, the total call count and the window error rate
// under a single lock.
func (w *rollingWindow) Stats() (p50, p99 int64, count int, errRate float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.len(); n > 0 {
		errRate = float64(w.failed) / float64(n)
	}
	return w.percentile(0.5), w.percentile(0.99), w.count, errRate
}
