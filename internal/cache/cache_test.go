package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/validate"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() convert.Output {
	return convert.Output{
		Text: "Hello **World**\n",
		Report: convert.Report{
			Issues:  []validate.Issue{{Severity: validate.Warning, Fixable: true, Kind: validate.UnsupportedMedia, Path: []int{0, 2}}},
			Repairs: 1,
		},
	}
}

func TestKey_SeparatesInputs(t *testing.T) {
	a := Key(convert.RTFToMarkdown, "fp", "x")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Key(convert.RTFToMarkdown, "fp", "x"))
	assert.NotEqual(t, a, Key(convert.MarkdownToRTF, "fp", "x"))
	assert.NotEqual(t, a, Key(convert.RTFToMarkdown, "other", "x"))
	assert.NotEqual(t, Key(convert.RTFToMarkdown, "a", "bc"), Key(convert.RTFToMarkdown, "ab", "c"))
}

func TestMemory_LRUEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, 0)
	require.NoError(t, m.Set(ctx, "a", convert.Output{Text: "A"}))
	require.NoError(t, m.Set(ctx, "b", convert.Output{Text: "B"}))
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Set(ctx, "c", convert.Output{Text: "C"}))

	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
	out, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", out.Text)
	assert.Equal(t, 2, m.Len())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4, time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	require.NoError(t, m.Set(ctx, "k", sample()))

	out, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, sample(), out)

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, m.Len())
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(client, WithTTL(time.Minute), WithPrefix("test:"))
	defer r.Close()
	ctx := context.Background()

	require.NoError(t, r.Ping(ctx))
	_, err := r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, r.Set(ctx, "k", sample()))
	assert.True(t, mr.Exists("test:k"))
	out, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, sample(), out)

	mr.FastForward(2 * time.Minute)
	_, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Set(context.Background(), "k", convert.Output{Text: "x"}))
	assert.True(t, mr.Exists("rtfbridge:result:k"))

	_, err = NewRedis("not a url")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", sample()))
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}
