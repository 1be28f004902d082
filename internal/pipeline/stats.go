package pipeline

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationUs int64
}

// LatencySnapshot aggregates recent conversion latencies.
type LatencySnapshot struct {
	Count int     `json:"count"`
	MinUs int64   `json:"min_us"`
	MaxUs int64   `json:"max_us"`
	AvgUs float64 `json:"avg_us"`
	P50Us float64 `json:"p50_us"`
	P95Us float64 `json:"p95_us"`
	P99Us float64 `json:"p99_us"`
}

// Latency keeps conversion durations within a rolling window.
type Latency struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLatency(maxAge time.Duration) *Latency {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Latency{samples: make([]sample, 0, 256), maxAge: maxAge}
}

func (l *Latency) Record(d time.Duration) {
	us := max(d.Microseconds(), 0)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	l.samples = append(l.samples, sample{timestamp: now, durationUs: us})
}

func (l *Latency) Snapshot() LatencySnapshot {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	if len(l.samples) == 0 {
		return LatencySnapshot{}
	}

	values := make([]int64, 0, len(l.samples))
	var sum int64
	for _, s := range l.samples {
		values = append(values, s.durationUs)
		sum += s.durationUs
	}
	slices.Sort(values)

	return LatencySnapshot{
		Count: len(values),
		MinUs: values[0],
		MaxUs: values[len(values)-1],
		AvgUs: float64(sum) / float64(len(values)),
		P50Us: percentile(values, 50),
		P95Us: percentile(values, 95),
		P99Us: percentile(values, 99),
	}
}

func (l *Latency) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.maxAge)
	l.samples = slices.DeleteFunc(l.samples, func(s sample) bool {
		return s.timestamp.Before(cutoff)
	})
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	index := float64(len(sorted)-1) * pct / 100
	lower := int(index)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*(index-float64(lower))
}
