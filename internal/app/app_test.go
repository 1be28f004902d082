package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgallion1/rtfbridge/internal/cache"
	"github.com/dgallion1/rtfbridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewLogger_RenamesError(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo).Error("boom", "error", io.EOF)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "EOF", rec["err"])
	assert.NotContains(t, rec, "error")
}

func TestNewCache(t *testing.T) {
	ctx := context.Background()

	c, err := NewCache(ctx, config.CacheConfig{Disabled: true}, discard())
	require.NoError(t, err)
	assert.IsType(t, cache.Nop{}, c)

	c, err = NewCache(ctx, config.CacheConfig{MemoryEntries: 4, TTL: time.Minute}, discard())
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, c)

	mr := miniredis.RunT(t)
	c, err = NewCache(ctx, config.CacheConfig{RedisURL: "redis://" + mr.Addr(), TTL: time.Minute, Prefix: "t:"}, discard())
	require.NoError(t, err)
	assert.IsType(t, &cache.Redis{}, c)
	require.NoError(t, c.Close())

	addr := mr.Addr()
	mr.Close()
	c, err = NewCache(ctx, config.CacheConfig{RedisURL: "redis://" + addr, MemoryEntries: 4, TTL: time.Minute}, discard())
	require.NoError(t, err)
	assert.IsType(t, &cache.Memory{}, c, "unreachable redis falls back to memory")

	_, err = NewCache(ctx, config.CacheConfig{RedisURL: "://bad"}, discard())
	assert.Error(t, err)
}

func TestNew_ServesConversions(t *testing.T) {
	cfg := config.Defaults()
	cfg.APIKey = "k"
	cfg.Engine.MinThreads, cfg.Engine.MaxThreads = 1, 2

	a, err := New(context.Background(), cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Close(ctx))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/convert?direction=rtf2md", strings.NewReader(`{\rtf1 Hi}`))
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"text":"Hi\n"`)

	// second request is answered from the in-memory cache
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/convert?direction=rtf2md", strings.NewReader(`{\rtf1 Hi}`))
	req.Header.Set("Authorization", "Bearer k")
	a.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `rtfbridge_cache_lookups_total{result="hit"} 1`)
}
