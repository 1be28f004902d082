// Package engine schedules conversions on an adaptive pool of workers with
// per-worker deques, work stealing and load-based admission.
package engine

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/failure"
	"github.com/google/uuid"
)

// Runner performs one conversion. *convert.Converter satisfies it.
type Runner interface {
	Convert(dir convert.Direction, input string) (convert.Output, error)
}

// Config sizes the engine.
type Config struct {
	MinThreads            int
	MaxThreads            int
	Capacity              int // denominator of the load factor
	IdleTimeout           time.Duration
	BackpressureThreshold float64
	SamplingInterval      time.Duration
}

// DefaultConfig returns one to 2×NumCPU workers, a 0.8 threshold, 100ms
// sampling and a 60s idle timeout.
func DefaultConfig() Config {
	n := 2 * runtime.NumCPU()
	return Config{
		MinThreads:            1,
		MaxThreads:            n,
		Capacity:              n * 8,
		IdleTimeout:           60 * time.Second,
		BackpressureThreshold: 0.8,
		SamplingInterval:      100 * time.Millisecond,
	}
}

// Normalize fills zero fields with defaults and keeps the bounds ordered.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.MaxThreads <= 0 {
		c.MaxThreads = d.MaxThreads
	}
	if c.MinThreads <= 0 {
		c.MinThreads = d.MinThreads
	}
	c.MinThreads = min(c.MinThreads, c.MaxThreads)
	if c.Capacity <= 0 {
		c.Capacity = c.MaxThreads * 8
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.BackpressureThreshold <= 0 {
		c.BackpressureThreshold = d.BackpressureThreshold
	}
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = d.SamplingInterval
	}
	return c
}

// batch bounds how many tasks a worker moves from the injector at once.
const batch = 16

type worker struct {
	id    int
	local deque
}

// Engine runs tasks. Create it with New and stop it with Shutdown.
type Engine struct {
	cfg Config
	run Runner
	log *slog.Logger

	injector deque

	mu      sync.Mutex
	workers []*worker
	nextID  int

	active atomic.Int64
	queued atomic.Int64
	idle   atomic.Int64
	load   atomic.Uint64 // float64 bits of the last sample

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	cancelled atomic.Uint64
	stolen    atomic.Uint64
	panics    atomic.Uint64
	grown     atomic.Uint64
	retired   atomic.Uint64

	wake     chan struct{}
	closing  atomic.Bool
	draining chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New starts MinThreads workers and the sampler.
func New(cfg Config, run Runner, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.Normalize()
	e := &Engine{
		cfg:      cfg,
		run:      run,
		log:      log,
		wake:     make(chan struct{}, cfg.MaxThreads),
		draining: make(chan struct{}),
	}
	e.mu.Lock()
	for range cfg.MinThreads {
		e.spawnLocked()
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.sample()
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Load is (active + queued) / capacity right now.
func (e *Engine) Load() float64 {
	return float64(e.active.Load()+e.queued.Load()) / float64(e.cfg.Capacity)
}

// Submit admits a task or rejects it with Overload when the load factor is
// above the threshold. An empty ID is filled with a UUID.
func (e *Engine) Submit(t Task) (*Ticket, error) {
	// Count the task before checking for shutdown so a draining worker
	// cannot leave while it is being pushed.
	queued := e.queued.Add(1)
	if e.closing.Load() {
		e.queued.Add(-1)
		e.rejected.Add(1)
		return nil, failure.New(failure.Overload, failure.CodeClosed)
	}
	if float64(e.active.Load()+queued-1)/float64(e.cfg.Capacity) > e.cfg.BackpressureThreshold {
		e.queued.Add(-1)
		e.rejected.Add(1)
		return nil, failure.New(failure.Overload, failure.CodeQueueFull)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	tk := newTicket(t)
	e.submitted.Add(1)
	e.injector.push(tk)
	e.signal()
	return tk, nil
}

// Run submits t and waits for its result.
func (e *Engine) Run(ctx context.Context, t Task) (Result, error) {
	tk, err := e.Submit(t)
	if err != nil {
		return Result{}, err
	}
	return tk.Wait(ctx)
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) spawnLocked() {
	w := &worker{id: e.nextID}
	e.nextID++
	e.workers = append(e.workers, w)
	e.wg.Add(1)
	go e.loop(w)
}

// find looks for work in the worker's own deque, then the injector, then
// the other workers' deques.
func (e *Engine) find(w *worker) *Ticket {
	if t := w.local.pop(); t != nil {
		return t
	}
	if got := e.injector.stealHalf(batch); len(got) > 0 {
		for _, t := range got[1:] {
			w.local.push(t)
		}
		if len(got) > 1 || e.injector.len() > 0 {
			e.signal()
		}
		return got[0]
	}
	e.mu.Lock()
	victims := make([]*worker, 0, len(e.workers))
	for _, v := range e.workers {
		if v != w {
			victims = append(victims, v)
		}
	}
	e.mu.Unlock()
	for _, v := range victims {
		if t := v.local.steal(); t != nil {
			e.stolen.Add(1)
			return t
		}
	}
	return nil
}

func (e *Engine) loop(w *worker) {
	defer e.wg.Done()
	timer := time.NewTimer(e.cfg.IdleTimeout)
	defer timer.Stop()
	for {
		if t := e.find(w); t != nil {
			e.execute(w, t)
			continue
		}
		if e.closing.Load() {
			if e.leave(w, true) {
				return
			}
			continue
		}

		// park
		timer.Reset(e.cfg.IdleTimeout)
		e.idle.Add(1)
		select {
		case <-e.wake:
			e.idle.Add(-1)
		case <-e.draining:
			e.idle.Add(-1)
		case <-timer.C:
			e.idle.Add(-1)
			if e.leave(w, false) {
				return
			}
		}
	}
}

// leave retires w unless it is needed. While draining, a worker leaves only
// once all queues are empty; otherwise it must stay above MinThreads.
func (e *Engine) leave(w *worker, draining bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.local.len() > 0 {
		return false
	}
	if draining {
		if e.queued.Load() > 0 {
			return false
		}
	} else if len(e.workers) <= e.cfg.MinThreads {
		return false
	}
	for i, v := range e.workers {
		if v == w {
			e.workers = append(e.workers[:i], e.workers[i+1:]...)
			break
		}
	}
	if !draining {
		e.retired.Add(1)
	}
	return true
}

func (e *Engine) execute(w *worker, t *Ticket) {
	// active rises before queued falls so the load never dips mid-handoff
	e.active.Add(1)
	e.queued.Add(-1)
	if !t.start() {
		e.active.Add(-1)
		e.cancelled.Add(1)
		return
	}

	started := time.Now()
	res := Result{TaskID: t.Task.ID, Worker: w.id, Queued: started.Sub(t.submitted)}
	res.Output, res.Err = e.safeRun(t.Task)
	res.Duration = time.Since(started)
	e.active.Add(-1)
	if res.Err != nil {
		e.failed.Add(1)
	} else {
		e.completed.Add(1)
	}
	t.complete(res)
}

// safeRun converts a panic in the runner into an Internal task error.
func (e *Engine) safeRun(t Task) (out convert.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.panics.Add(1)
			e.log.Error("task panicked", "task_id", t.ID)
			out, err = convert.Output{}, failure.FromPanic(p)
		}
	}()
	return e.run.Convert(t.Direction, t.Input)
}

// sample records the load factor and grows the pool while tasks wait with
// no idle worker to take them.
func (e *Engine) sample() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SamplingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.draining:
			return
		case <-ticker.C:
		}
		e.load.Store(math.Float64bits(e.Load()))

		waiting := e.queued.Load() - e.idle.Load()
		if waiting <= 0 {
			continue
		}
		e.mu.Lock()
		n := min(int(waiting), e.cfg.MaxThreads-len(e.workers))
		for range n {
			e.spawnLocked()
			e.grown.Add(1)
		}
		e.mu.Unlock()
		if n > 0 {
			e.log.Debug("engine grew", "added", n, "queued", e.queued.Load())
		}
	}
}

// Shutdown stops admission and lets workers drain the queues. If ctx ends
// first, tasks that have not started fail with Overload and Shutdown
// returns ctx's error once running tasks finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.closing.Store(true)
		close(e.draining)
	})
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	closed := failure.New(failure.Overload, failure.CodeClosed)
	e.mu.Lock()
	workers := append([]*worker(nil), e.workers...)
	e.mu.Unlock()
	for t := e.injector.steal(); t != nil; t = e.injector.steal() {
		e.queued.Add(-1)
		t.abort(closed)
	}
	for _, w := range workers {
		for t := w.local.steal(); t != nil; t = w.local.steal() {
			e.queued.Add(-1)
			t.abort(closed)
		}
	}
	<-done
	return ctx.Err()
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Workers    int     `json:"workers"`
	Idle       int64   `json:"idle"`
	Active     int64   `json:"active"`
	Queued     int64   `json:"queued"`
	Capacity   int     `json:"capacity"`
	Load       float64 `json:"load"`
	Sampled    float64 `json:"sampled_load"`
	Submitted  uint64  `json:"submitted"`
	Completed  uint64  `json:"completed"`
	Failed     uint64  `json:"failed"`
	Rejected   uint64  `json:"rejected"`
	Cancelled  uint64  `json:"cancelled"`
	Stolen     uint64  `json:"stolen"`
	Panics     uint64  `json:"panics"`
	Grown      uint64  `json:"grown"`
	Retired    uint64  `json:"retired"`
	MinThreads int     `json:"min_threads"`
	MaxThreads int     `json:"max_threads"`
}

// Stats reports counters and gauges.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	workers := len(e.workers)
	e.mu.Unlock()
	return Stats{
		Workers:    workers,
		Idle:       e.idle.Load(),
		Active:     e.active.Load(),
		Queued:     e.queued.Load(),
		Capacity:   e.cfg.Capacity,
		Load:       e.Load(),
		Sampled:    math.Float64frombits(e.load.Load()),
		Submitted:  e.submitted.Load(),
		Completed:  e.completed.Load(),
		Failed:     e.failed.Load(),
		Rejected:   e.rejected.Load(),
		Cancelled:  e.cancelled.Load(),
		Stolen:     e.stolen.Load(),
		Panics:     e.panics.Load(),
		Grown:      e.grown.Load(),
		Retired:    e.retired.Load(),
		MinThreads: e.cfg.MinThreads,
		MaxThreads: e.cfg.MaxThreads,
	}
}
