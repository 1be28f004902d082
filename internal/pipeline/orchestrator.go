// Package pipeline turns the engine into a service: asynchronous jobs with a
// TTL store, a content-hash result cache, retries on backpressure and
// latency statistics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/rtfbridge/internal/cache"
	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/engine"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/dgallion1/rtfbridge/internal/metrics"
	"github.com/google/uuid"
)

// Options configure an Orchestrator. Cache and Metrics may be nil.
type Options struct {
	Engine  engine.Config
	JobTTL  time.Duration
	Cache   cache.Cache
	Metrics *metrics.Metrics
}

// Orchestrator manages conversions on top of the engine.
type Orchestrator struct {
	conv    *convert.Converter
	engine  *engine.Engine
	jobs    *JobStore
	cache   cache.Cache
	metrics *metrics.Metrics
	latency *Latency
	log     *slog.Logger
	fp      string
	ttl     time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the engine. Call Start to begin job cleanup.
func NewOrchestrator(opts Options, conv *convert.Converter, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = time.Hour
	}
	o := &Orchestrator{
		conv:    conv,
		engine:  engine.New(opts.Engine, conv, log.With("component", "engine")),
		jobs:    NewJobStore(opts.JobTTL),
		cache:   opts.Cache,
		metrics: opts.Metrics,
		latency: NewLatency(time.Hour),
		log:     log,
		fp:      conv.Options().Fingerprint(),
		ttl:     opts.JobTTL,
	}
	if o.metrics != nil {
		o.metrics.WatchEngine(o.engine.Stats)
	}
	return o
}

// Start launches the job store cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(min(5*time.Minute, o.ttl))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := o.jobs.Cleanup(); n > 0 {
					o.log.Debug("expired jobs removed", "count", n)
				}
			}
		}
	}()
}

// Stop drains the engine within ctx, then stops background work.
func (o *Orchestrator) Stop(ctx context.Context) error {
	err := o.engine.Shutdown(ctx)
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	if cerr := o.cache.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close cache: %w", cerr)
	}
	return err
}

// Submit queues an asynchronous conversion. A cached result completes the
// job immediately; a refused task returns the engine's Overload error and
// no job is stored.
func (o *Orchestrator) Submit(ctx context.Context, dir convert.Direction, input, filename string) (*Job, error) {
	key := cache.Key(dir, o.fp, input)
	job := newJob(uuid.NewString(), dir, filename, key)

	if out, ok := o.lookup(ctx, key); ok {
		job.fromCache(out)
		o.jobs.Put(job)
		return job, nil
	}

	ticket, err := o.engine.Submit(engine.Task{ID: job.ID, Input: input, Direction: dir})
	if err != nil {
		return nil, err
	}
	job.attach(ticket)
	o.jobs.Put(job)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-ticket.Done()
		res, _ := ticket.Result()
		o.finish(context.WithoutCancel(ctx), job, res)
	}()
	return job, nil
}

func (o *Orchestrator) finish(ctx context.Context, job *Job, res engine.Result) {
	log := o.log.With("job_id", job.ID, "direction", job.Direction.String())
	var pub *convert.PublicError
	if res.Err != nil && !errors.Is(res.Err, engine.ErrCancelled) {
		pub = convert.SanitizeWithID(res.Err, job.ID)
		log.Warn("conversion failed", "error", res.Err, "correlation_id", pub.CorrelationID)
	}
	if res.Err == nil {
		o.store(ctx, job.ContentHash, res.Output)
	}
	o.observe(job.Direction, res.Err, res.Duration)
	job.complete(res, pub)
	log.Debug("job finished", "status", job.Snapshot().Status, "queued", res.Queued, "ran", res.Duration)
}

// Convert runs a conversion synchronously, resubmitting with backoff while
// the engine reports backpressure.
func (o *Orchestrator) Convert(ctx context.Context, dir convert.Direction, input string) (convert.Output, error) {
	key := cache.Key(dir, o.fp, input)
	if out, ok := o.lookup(ctx, key); ok {
		return out, nil
	}

	var (
		res engine.Result
		err error
	)
	for attempt := range MaxRetries + 1 {
		res, err = o.engine.Run(ctx, engine.Task{Input: input, Direction: dir})
		if err == nil || !IsRetryable(err) || attempt == MaxRetries {
			break
		}
		o.log.Debug("engine busy, retrying", "attempt", attempt)
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return convert.Output{}, ctx.Err()
		}
	}
	if err != nil {
		return convert.Output{}, err
	}
	o.observe(dir, res.Err, res.Duration)
	if res.Err != nil {
		return convert.Output{}, res.Err
	}
	o.store(ctx, key, res.Output)
	return res.Output, nil
}

// Render writes a document produced by an importer. It runs on the
// caller's goroutine since the document is already parsed.
func (o *Orchestrator) Render(doc *doctree.Document, target convert.Format) (convert.Output, error) {
	start := time.Now()
	out, err := o.conv.Render(doc, target)
	d := time.Since(start)
	o.latency.Record(d)
	if o.metrics != nil {
		o.metrics.ObserveConversion("import2"+target.String(), outcome(err), d)
	}
	return out, err
}

func (o *Orchestrator) lookup(ctx context.Context, key string) (convert.Output, bool) {
	out, err := o.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		o.log.Warn("cache lookup failed", "error", err)
	}
	if o.metrics != nil {
		o.metrics.CacheLookup(err == nil)
	}
	return out, err == nil
}

func (o *Orchestrator) store(ctx context.Context, key string, out convert.Output) {
	if err := o.cache.Set(ctx, key, out); err != nil {
		o.log.Warn("cache store failed", "error", err)
	}
}

func (o *Orchestrator) observe(dir convert.Direction, err error, d time.Duration) {
	if errors.Is(err, engine.ErrCancelled) {
		return
	}
	o.latency.Record(d)
	if o.metrics != nil {
		o.metrics.ObserveConversion(dir.String(), outcome(err), d)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return failure.KindOf(err).String()
}

// GetJob returns a job by ID, or nil.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// CancelJob withdraws a queued job. It reports false for unknown jobs and
// jobs already running or finished.
func (o *Orchestrator) CancelJob(id string) bool {
	job := o.jobs.Get(id)
	return job != nil && job.Cancel()
}

// Stats is the combined view served at /api/stats.
type Stats struct {
	Engine  engine.Stats    `json:"engine"`
	Latency LatencySnapshot `json:"latency"`
	Jobs    int             `json:"jobs"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Engine:  o.engine.Stats(),
		Latency: o.latency.Snapshot(),
		Jobs:    o.jobs.Len(),
	}
}

// Converter exposes the underlying converter, for importers that parse
// before rendering.
func (o *Orchestrator) Converter() *convert.Converter {
	return o.conv
}
