package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dgallion1/rtfbridge/internal/convert"
)

// ErrCancelled is the result error of a task cancelled before it started.
var ErrCancelled = errors.New("task cancelled before start")

// Task is one conversion, owned by the engine until its Result is delivered.
type Task struct {
	ID        string
	Input     string
	Direction convert.Direction
}

// Result is the outcome of a Task.
type Result struct {
	TaskID   string
	Output   convert.Output
	Err      error
	Worker   int
	Queued   time.Duration // time between submit and start
	Duration time.Duration // time spent running
}

const (
	statePending int32 = iota
	stateRunning
	stateCancelled
	stateDone
)

// Ticket tracks a submitted task.
type Ticket struct {
	Task      Task
	submitted time.Time
	state     atomic.Int32
	done      chan struct{}
	result    Result
}

func newTicket(t Task) *Ticket {
	return &Ticket{Task: t, submitted: time.Now(), done: make(chan struct{})}
}

// Cancel marks the task cancelled if no worker has dequeued it yet.
// It reports whether the cancellation took effect.
func (t *Ticket) Cancel() bool {
	if !t.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	t.finish(Result{TaskID: t.Task.ID, Err: ErrCancelled})
	return true
}

// Done is closed once the result is available.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the result is available or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result if it is available.
func (t *Ticket) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}

// start claims the ticket for a worker; false means it was cancelled.
func (t *Ticket) start() bool {
	return t.state.CompareAndSwap(statePending, stateRunning)
}

// abort fails a ticket that never started.
func (t *Ticket) abort(err error) {
	if t.state.CompareAndSwap(statePending, stateCancelled) {
		t.finish(Result{TaskID: t.Task.ID, Err: err})
	}
}

func (t *Ticket) complete(r Result) {
	t.state.Store(stateDone)
	t.finish(r)
}

func (t *Ticket) finish(r Result) {
	t.result = r
	close(t.done)
}
