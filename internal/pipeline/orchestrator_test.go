package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgallion1/rtfbridge/internal/cache"
	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/engine"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/metrics"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRTF = `{\rtf1\ansi Hello \b World\b0}`

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Engine.MaxThreads == 0 {
		opts.Engine = engine.Config{MinThreads: 1, MaxThreads: 2}
	}
	o := NewOrchestrator(opts, convert.New(convert.DefaultOptions(), nil), nil)
	o.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, o.Stop(ctx))
	})
	return o
}

func waitTerminal(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	require.Eventually(t, func() bool { return job.Snapshot().Status.Terminal() }, 5*time.Second, time.Millisecond)
	return job.Snapshot()
}

func TestOrchestrator_ConvertUsesCache(t *testing.T) {
	mem := cache.NewMemory(16, time.Minute)
	o := newOrchestrator(t, Options{Cache: mem, Metrics: metrics.New()})
	ctx := context.Background()

	out, err := o.Convert(ctx, convert.RTFToMarkdown, sampleRTF)
	require.NoError(t, err)
	assert.Equal(t, "Hello **World**\n", out.Text)
	assert.Equal(t, 1, mem.Len())

	again, err := o.Convert(ctx, convert.RTFToMarkdown, sampleRTF)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Equal(t, uint64(1), o.Stats().Engine.Submitted)
	assert.Equal(t, 1, o.Stats().Latency.Count)
}

func TestOrchestrator_ConvertFailureIsNotCached(t *testing.T) {
	mem := cache.NewMemory(16, time.Minute)
	o := newOrchestrator(t, Options{Cache: mem})
	_, err := o.Convert(context.Background(), convert.RTFToMarkdown, `{\rtf1 {\object x}}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrForbidden))
	assert.Equal(t, 0, mem.Len())
}

func TestOrchestrator_AsyncJob(t *testing.T) {
	o := newOrchestrator(t, Options{})
	job, err := o.Submit(context.Background(), convert.MarkdownToRTF, "# Title", "title.md")
	require.NoError(t, err)
	assert.Same(t, job, o.GetJob(job.ID))

	snap := waitTerminal(t, job)
	require.Equal(t, StatusCompleted, snap.Status)
	assert.Contains(t, snap.Output.Text, "Title")
	assert.Equal(t, "title.md", snap.Filename)
	assert.False(t, snap.CacheHit)
	assert.Equal(t, 1, o.Stats().Jobs)
}

func TestOrchestrator_AsyncFailureIsSanitized(t *testing.T) {
	o := newOrchestrator(t, Options{})
	job, err := o.Submit(context.Background(), convert.RTFToMarkdown, `{\rtf1 {\pict 0102}}`, "")
	require.NoError(t, err)
	snap := waitTerminal(t, job)
	require.Equal(t, StatusFailed, snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "forbidden_content", snap.Error.Kind)
	assert.Equal(t, job.ID, snap.Error.CorrelationID)
	assert.Nil(t, snap.Output)
}

func TestOrchestrator_RedisCacheSharesResults(t *testing.T) {
	mr := miniredis.RunT(t)
	newCache := func() cache.Cache {
		return cache.NewRedisFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}))
	}
	ctx := context.Background()

	first := newOrchestrator(t, Options{Cache: newCache()})
	_, err := first.Convert(ctx, convert.RTFToMarkdown, sampleRTF)
	require.NoError(t, err)

	second := newOrchestrator(t, Options{Cache: newCache()})
	job, err := second.Submit(ctx, convert.RTFToMarkdown, sampleRTF, "")
	require.NoError(t, err)
	snap := job.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.True(t, snap.CacheHit)
	assert.Equal(t, "Hello **World**\n", snap.Output.Text)
	assert.Equal(t, uint64(0), second.Stats().Engine.Submitted)
}

func TestOrchestrator_CancelUnknownOrFinished(t *testing.T) {
	o := newOrchestrator(t, Options{})
	assert.False(t, o.CancelJob("missing"))
	job, err := o.Submit(context.Background(), convert.RTFToMarkdown, sampleRTF, "")
	require.NoError(t, err)
	waitTerminal(t, job)
	assert.False(t, o.CancelJob(job.ID))
}

func TestOrchestrator_RejectsAfterStop(t *testing.T) {
	o := NewOrchestrator(Options{Engine: engine.Config{MinThreads: 1, MaxThreads: 1}}, convert.New(convert.DefaultOptions(), nil), nil)
	require.NoError(t, o.Stop(context.Background()))

	_, err := o.Submit(context.Background(), convert.RTFToMarkdown, sampleRTF, "")
	require.Error(t, err)
	assert.Equal(t, failure.CodeClosed, failure.CodeOf(err))

	_, err = o.Convert(context.Background(), convert.RTFToMarkdown, sampleRTF)
	assert.Equal(t, failure.CodeClosed, failure.CodeOf(err))
}

func TestOrchestrator_RenderImportedDocument(t *testing.T) {
	o := newOrchestrator(t, Options{})
	doc := doctree.New()
	p := &doctree.Node{Kind: doctree.KindParagraph}
	p.Append(doctree.NewText("imported"))
	doc.Root.Append(p)

	out, err := o.Render(doc, convert.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "imported\n", out.Text)
	assert.Equal(t, 1, o.Stats().Latency.Count)
}
