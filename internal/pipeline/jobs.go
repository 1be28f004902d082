package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/engine"
)

// JobStatus represents the state of an asynchronous conversion.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job tracks one submitted conversion.
type Job struct {
	mu sync.Mutex

	ID        string
	Direction convert.Direction
	Filename  string

	Status      JobStatus
	CacheHit    bool
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Internal: not serialized.
	ticket   *engine.Ticket
	output   convert.Output
	err      *convert.PublicError
	queued   time.Duration
	duration time.Duration
}

func newJob(id string, dir convert.Direction, filename, hash string) *Job {
	now := time.Now()
	return &Job{
		ID:          id,
		Direction:   dir,
		Filename:    filename,
		Status:      StatusQueued,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStatus updates job status atomically. Terminal states are final.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.UpdatedAt = time.Now()
}

func (j *Job) attach(t *engine.Ticket) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ticket = t
}

// complete records the outcome of the job's engine task.
func (j *Job) complete(res engine.Result, pub *convert.PublicError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.queued, j.duration = res.Queued, res.Duration
	switch {
	case errors.Is(res.Err, engine.ErrCancelled):
		j.Status = StatusCancelled
	case pub != nil:
		j.Status = StatusFailed
		j.err = pub
	default:
		j.Status = StatusCompleted
		j.output = res.Output
	}
	j.UpdatedAt = time.Now()
}

// fromCache completes the job with a stored result.
func (j *Job) fromCache(out convert.Output) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusCompleted
	j.CacheHit = true
	j.output = out
	j.UpdatedAt = time.Now()
}

// Cancel withdraws a job whose task has not started.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	t := j.ticket
	j.mu.Unlock()
	if t == nil || !t.Cancel() {
		return false
	}
	j.SetStatus(StatusCancelled)
	return true
}

// Output returns the result of a completed job.
func (j *Job) Output() (convert.Output, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.output, j.Status == StatusCompleted
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string               `json:"job_id"`
	Direction   string               `json:"direction"`
	Filename    string               `json:"filename,omitempty"`
	Status      JobStatus            `json:"status"`
	CacheHit    bool                 `json:"cache_hit"`
	ContentHash string               `json:"content_hash"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	QueuedMs    float64              `json:"queued_ms"`
	RunMs       float64              `json:"run_ms"`
	Output      *convert.Output      `json:"output,omitempty"`
	Error       *convert.PublicError `json:"error,omitempty"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := JobSnapshot{
		ID:          j.ID,
		Direction:   j.Direction.String(),
		Filename:    j.Filename,
		Status:      j.Status,
		CacheHit:    j.CacheHit,
		ContentHash: j.ContentHash,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		QueuedMs:    float64(j.queued) / float64(time.Millisecond),
		RunMs:       float64(j.duration) / float64(time.Millisecond),
		Error:       j.err,
	}
	if j.Status == StatusCompleted {
		out := j.output
		s.Output = &out
	}
	return s
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs not touched within the TTL and returns how
// many it dropped. Unfinished jobs stay regardless of age.
func (s *JobStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
