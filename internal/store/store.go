// Package store persists fit jobs.
package store

import (
	"context"
	"time"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/fitting"
)

// State is the lifecycle stage of a fit job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether a job in state s will not change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is a fit request and its outcome.
type Job struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	State      State           `json:"state"`
	Result     *fitting.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a copy of j that shares only the immutable fit result.
func (j *Job) Clone() *Job {
	c := *j
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("fit job not found")

// Store saves and loads jobs. Implementations are safe for concurrent use.
type Store interface {
	// Save inserts or replaces j.
	Save(ctx context.Context, j *Job) error
	// Get returns the job with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns all jobs, oldest first.
	List(ctx context.Context) ([]*Job, error)
	// Delete removes the job with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	Close() error
}
