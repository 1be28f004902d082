// Package metrics exposes engine, pool and conversion figures to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/dgallion1/rtfbridge/internal/engine"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtfbridge"

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	conversions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	cache       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Finished conversions by direction and outcome kind.",
		}, []string{"direction", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Time spent running a conversion.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 9),
		}, []string{"direction"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.conversions, m.duration, m.cache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveConversion records one finished conversion. outcome is "ok" or an
// error kind name.
func (m *Metrics) ObserveConversion(direction, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(direction, outcome).Inc()
	m.duration.WithLabelValues(direction).Observe(d.Seconds())
}

// CacheLookup counts a hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

// WatchEngine registers gauges and counters read from stats on every scrape.
func (m *Metrics) WatchEngine(stats func() engine.Stats) {
	gauge := func(name, help string, f func(engine.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: name, Help: help,
		}, func() float64 { return f(stats()) })
	}
	counter := func(name, help string, f func(engine.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: name, Help: help,
		}, func() float64 { return float64(f(stats())) })
	}
	m.Registry.MustRegister(
		gauge("workers", "Live workers.", func(s engine.Stats) float64 { return float64(s.Workers) }),
		gauge("active", "Tasks running.", func(s engine.Stats) float64 { return float64(s.Active) }),
		gauge("queued", "Tasks waiting.", func(s engine.Stats) float64 { return float64(s.Queued) }),
		gauge("load", "Load factor (active+queued)/capacity.", func(s engine.Stats) float64 { return s.Load }),
		counter("submitted_total", "Tasks admitted.", func(s engine.Stats) uint64 { return s.Submitted }),
		counter("rejected_total", "Tasks refused by backpressure or shutdown.", func(s engine.Stats) uint64 { return s.Rejected }),
		counter("stolen_total", "Tasks taken from another worker's deque.", func(s engine.Stats) uint64 { return s.Stolen }),
		counter("panics_total", "Tasks that panicked.", func(s engine.Stats) uint64 { return s.Panics }),
	)
}

// WatchPools registers per-pool counters read from stats on every scrape.
func (m *Metrics) WatchPools(stats func() map[string]pool.Stats) {
	m.Registry.MustRegister(&poolCollector{stats: stats})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

var (
	poolGets = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "gets_total"),
		"Pool gets by result.", []string{"pool", "result"}, nil)
	poolDrops = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "drops_total"),
		"Objects not retained on release.", []string{"pool"}, nil)
	poolIdle = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "idle"),
		"Objects waiting in the pool.", []string{"pool"}, nil)
)

type poolCollector struct {
	stats func() map[string]pool.Stats
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolGets
	ch <- poolDrops
	ch <- poolIdle
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for name, s := range c.stats() {
		ch <- prometheus.MustNewConstMetric(poolGets, prometheus.CounterValue, float64(s.Hits), name, "hit")
		ch <- prometheus.MustNewConstMetric(poolGets, prometheus.CounterValue, float64(s.Misses), name, "miss")
		ch <- prometheus.MustNewConstMetric(poolDrops, prometheus.CounterValue, float64(s.Drops), name)
		ch <- prometheus.MustNewConstMetric(poolIdle, prometheus.GaugeValue, float64(s.Idle), name)
	}
}
