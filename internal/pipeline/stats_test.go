package pipeline

import (
	"testing"
	"time"
)

func TestLatencySnapshotPercentiles(t *testing.T) {
	l := NewLatency(time.Hour)
	for _, us := range []int64{100, 200, 300, 400, 500} {
		l.Record(time.Duration(us) * time.Microsecond)
	}

	snap := l.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinUs != 100 || snap.MaxUs != 500 {
		t.Fatalf("expected min=100 max=500, got %d %d", snap.MinUs, snap.MaxUs)
	}
	if snap.AvgUs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgUs)
	}
	if snap.P50Us != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Us)
	}
	if snap.P95Us != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Us)
	}
	if snap.P99Us != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Us)
	}
}

func TestLatencyPrunesExpiredSamples(t *testing.T) {
	l := NewLatency(10 * time.Millisecond)
	l.Record(100 * time.Microsecond)
	time.Sleep(25 * time.Millisecond)

	if snap := l.Snapshot(); snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}
	l.Record(200 * time.Microsecond)
	snap := l.Snapshot()
	if snap.Count != 1 || snap.MinUs != 200 || snap.MaxUs != 200 {
		t.Fatalf("expected one sample of 200, got %+v", snap)
	}
}

func TestLatencyClampsNegativeDuration(t *testing.T) {
	l := NewLatency(time.Hour)
	l.Record(-time.Millisecond)
	if snap := l.Snapshot(); snap.Count != 1 || snap.MaxUs != 0 {
		t.Fatalf("expected one clamped sample, got %+v", snap)
	}
}
