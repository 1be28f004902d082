package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/rtfbridge/internal/engine"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveConversion(t *testing.T) {
	m := New()
	m.ObserveConversion("rtf2md", "ok", 3*time.Millisecond)
	m.ObserveConversion("rtf2md", "ok", time.Millisecond)
	m.ObserveConversion("md2rtf", "invalid_input", time.Millisecond)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.conversions.WithLabelValues("rtf2md", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conversions.WithLabelValues("md2rtf", "invalid_input")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues("miss")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveConversion("rtf2md", "ok", time.Millisecond)
	m.CacheLookup(true)
}

func TestHandlerExposesEngineAndPools(t *testing.T) {
	m := New()
	m.WatchEngine(func() engine.Stats {
		return engine.Stats{Workers: 3, Queued: 5, Load: 0.25, Stolen: 7}
	})
	m.WatchPools(func() map[string]pool.Stats {
		return map[string]pool.Stats{"buffers": {Hits: 4, Misses: 1, Idle: 2}}
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"rtfbridge_engine_workers 3",
		"rtfbridge_engine_queued 5",
		"rtfbridge_engine_load 0.25",
		"rtfbridge_engine_stolen_total 7",
		`rtfbridge_pool_gets_total{pool="buffers",result="hit"} 4`,
		`rtfbridge_pool_idle{pool="buffers"} 2`,
	} {
		assert.True(t, strings.Contains(text, want), "missing %q", want)
	}
}
