package monitoring

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencySummary aggregates a ring of recent duration samples.
type LatencySummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_seconds"`
	StdDev float64 `json:"stddev_seconds"`
	P50    float64 `json:"p50_seconds"`
	P95    float64 `json:"p95_seconds"`
	P99    float64 `json:"p99_seconds"`
}

// LatencyTracker keeps a bounded ring of duration samples and
// summarizes them on demand.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64 // seconds
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker holding up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &LatencyTracker{
		samples: make([]float64, capacity),
	}
}

// Observe records one duration sample, evicting the oldest when full.
func (t *LatencyTracker) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.next] = d.Seconds()
	t.next++
	if t.next == len(t.samples) {
		t.next = 0
		t.full = true
	}
}

// Summary computes mean, standard deviation, and quantiles over the
// current samples.
func (t *LatencyTracker) Summary() LatencySummary {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	data := make([]float64, n)
	copy(data, t.samples[:n])
	t.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}

	sort.Float64s(data)

	return LatencySummary{
		Count:  n,
		Mean:   stat.Mean(data, nil),
		StdDev: stdDevOrZero(data),
		P50:    stat.Quantile(0.50, stat.Empirical, data, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, data, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, data, nil),
	}
}

// stdDevOrZero avoids NaN for a single sample.
func stdDevOrZero(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}
