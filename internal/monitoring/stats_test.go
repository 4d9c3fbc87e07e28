package monitoring

import (
	"testing"
	"time"
)

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(16)

	summary := tracker.Summary()
	if summary.Count != 0 {
		t.Errorf("Empty tracker should report zero count, got %d", summary.Count)
	}
	if summary.Mean != 0 {
		t.Errorf("Empty tracker should report zero mean, got %f", summary.Mean)
	}
}

func TestLatencyTrackerSummary(t *testing.T) {
	tracker := NewLatencyTracker(16)

	for _, ms := range []int{100, 200, 300, 400} {
		tracker.Observe(time.Duration(ms) * time.Millisecond)
	}

	summary := tracker.Summary()

	if summary.Count != 4 {
		t.Fatalf("Expected 4 samples, got %d", summary.Count)
	}

	if summary.Mean < 0.249 || summary.Mean > 0.251 {
		t.Errorf("Expected mean ~0.250s, got %f", summary.Mean)
	}

	if summary.StdDev == 0 {
		t.Error("Expected nonzero stddev for varied samples")
	}

	if summary.P50 < 0.2 || summary.P50 > 0.3 {
		t.Errorf("Expected p50 in [0.2, 0.3], got %f", summary.P50)
	}

	if summary.P99 < summary.P50 {
		t.Errorf("p99 (%f) should not be below p50 (%f)", summary.P99, summary.P50)
	}
}

func TestLatencyTrackerSingleSample(t *testing.T) {
	tracker := NewLatencyTracker(16)
	tracker.Observe(50 * time.Millisecond)

	summary := tracker.Summary()
	if summary.Count != 1 {
		t.Fatalf("Expected 1 sample, got %d", summary.Count)
	}
	if summary.StdDev != 0 {
		t.Errorf("Single sample should report zero stddev, got %f", summary.StdDev)
	}
}

func TestLatencyTrackerEviction(t *testing.T) {
	tracker := NewLatencyTracker(4)

	// Fill past capacity; the ring keeps only the newest 4
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i+1) * time.Millisecond)
	}

	summary := tracker.Summary()
	if summary.Count != 4 {
		t.Fatalf("Expected capacity-bounded count 4, got %d", summary.Count)
	}

	// Oldest samples (1-6ms) are gone; mean must reflect 7-10ms
	if summary.Mean < 0.007 || summary.Mean > 0.010 {
		t.Errorf("Expected mean in [7ms, 10ms], got %f", summary.Mean)
	}
}
