// Package jobs tracks the lifecycle and progress of ingestion jobs.
package jobs

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound indicates an unknown job id.
var ErrNotFound = errors.New("jobs: job not found")

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of one ingestion run. Progress counters advance at
// batch granularity, so a reader never observes a partially applied batch.
// A completed job with a non-empty Errors list is a partial success.
type Job struct {
	ID             string     `json:"job_id"`
	Tenant         string     `json:"tenant"`
	ConnectionID   string     `json:"connection_id"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	TotalDocs      int        `json:"total_docs"`
	TotalPages     int        `json:"total_pages"`
	ProcessedDocs  int        `json:"processed_docs"`
	ProcessedPages int        `json:"processed_pages"`
	Errors         []string   `json:"errors"`
}

// NewJobID generates a unique job identifier.
func NewJobID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("jobs: crypto/rand unavailable: " + err.Error())
	}
	return "job_" + base64.RawURLEncoding.EncodeToString(buf)
}

// Store tracks job state. The in-memory Registry is the default
// implementation; a durable one can replace it without touching callers.
type Store interface {
	Create(tenant, connectionID string) Job
	Get(id string) (Job, error)
	List(tenant string) []Job
	Update(id string, fn func(*Job)) error
	Complete(id string, status Status) error
}

// Registry is in-memory job state. A job is mutated only by the single
// goroutine running it; reads return defensive copies so pollers never see
// in-progress mutation.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

var _ Store = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create registers a new queued job and returns its snapshot.
func (r *Registry) Create(tenant, connectionID string) Job {
	job := &Job{
		ID:           NewJobID(),
		Tenant:       tenant,
		ConnectionID: connectionID,
		Status:       StatusQueued,
		StartedAt:    r.now().UTC(),
		Errors:       []string{},
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return snapshot(job)
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return snapshot(job), nil
}

// List returns snapshots of the tenant's jobs, most recently started first.
func (r *Registry) List(tenant string) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0)
	for _, job := range r.jobs {
		if job.Tenant == tenant {
			out = append(out, snapshot(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Update applies fn to the job under the registry lock. The runner uses it
// to publish batch results atomically.
func (r *Registry) Update(id string, fn func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(job)
	return nil
}

// Complete moves the job to a terminal status and stamps the completion
// time.
func (r *Registry) Complete(id string, status Status) error {
	if !status.Terminal() {
		return errors.New("jobs: not a terminal status: " + string(status))
	}
	now := r.now().UTC()
	return r.Update(id, func(j *Job) {
		j.Status = status
		j.CompletedAt = &now
	})
}

func snapshot(job *Job) Job {
	cp := *job
	cp.Errors = append([]string(nil), job.Errors...)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
