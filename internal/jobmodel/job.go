// Package jobmodel defines the shared data model for the job lifecycle
// plane: jobs, their status state machine, log entries, and pipeline
// results. These types are used by the webhook intake, the queue, the
// worker pool, the pipeline runner and the query API alike.
package jobmodel

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Source identifies how a Job was created.
type Source string

const (
	SourceWebhookPush   Source = "webhook-push"
	SourceManualTrigger Source = "manual-trigger"
)

// allowedTransitions encodes the only legal Status edges. A forbidden
// transition is an InternalInvariantViolation (see internal/raiberr).
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusSuccess:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// Job is an immutable description plus mutable status, guarded by a
// mutex so concurrent readers (API, cancellation poller) and the single
// writer (the owning worker, or the queue on enqueue/cancel) never race.
type Job struct {
	mu sync.Mutex

	ID        string
	Repo      string
	Branch    string
	Commit    string
	Source    Source
	Author    string
	CreatedAt time.Time

	status     Status
	AgentID    string
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExitCode   *int
	Attempt    int
	MaxAttempts int
}

// NewJob constructs a pending Job ready for enqueue.
func NewJob(id, repo, branch, commit, author string, src Source, now time.Time) *Job {
	return &Job{
		ID:          id,
		Repo:        repo,
		Branch:      branch,
		Commit:      commit,
		Source:      src,
		Author:      author,
		CreatedAt:   now,
		status:      StatusPending,
		Attempt:     1,
		MaxAttempts: 3,
	}
}

// Status returns the current status under lock.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Transition performs a compare-and-set status change, rejecting any
// edge not present in allowedTransitions. Returns an error description
// suitable for wrapping as raiberr.InternalInvariantViolation.
func (j *Job) Transition(to Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == to {
		return nil
	}
	if !allowedTransitions[j.status][to] {
		return fmt.Errorf("forbidden job status transition %s -> %s", j.status, to)
	}
	j.status = to
	return nil
}

// MarkClaimed records agent ownership and transitions to running.
func (j *Job) MarkClaimed(agentID string, at time.Time) error {
	j.mu.Lock()
	j.AgentID = agentID
	j.mu.Unlock()

	if err := j.Transition(StatusRunning); err != nil {
		return err
	}
	j.mu.Lock()
	j.StartedAt = &at
	j.mu.Unlock()
	return nil
}

// MarkTerminal transitions to a terminal status and records finish time
// and exit code. Succeeds idempotently if already in that terminal state.
func (j *Job) MarkTerminal(to Status, at time.Time, exitCode int) error {
	if to != StatusSuccess && to != StatusFailed && to != StatusCancelled {
		return fmt.Errorf("%s is not a terminal status", to)
	}
	if err := j.Transition(to); err != nil {
		return err
	}
	j.mu.Lock()
	j.FinishedAt = &at
	j.ExitCode = &exitCode
	j.mu.Unlock()
	return nil
}

// IncrementAttempt bumps the retry counter and returns the new value,
// for use when a transient failure triggers a requeue (spec §4.2).
func (j *Job) IncrementAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Attempt++
	return j.Attempt
}

// AttemptsExhausted reports whether another retry would exceed MaxAttempts.
func (j *Job) AttemptsExhausted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Attempt >= j.MaxAttempts
}

// ResetForRetry clears per-run state before a job is requeued.
func (j *Job) ResetForRetry() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusPending
	j.AgentID = ""
	j.StartedAt = nil
	j.FinishedAt = nil
	j.ExitCode = nil
}

// IsTerminal reports whether the job's status allows no further transitions.
func (j *Job) IsTerminal() bool {
	switch j.Status() {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Snapshot is an immutable, JSON-friendly view of a Job at a point in time.
type Snapshot struct {
	ID          string     `json:"id"`
	Repo        string     `json:"repo"`
	Branch      string     `json:"branch"`
	Commit      string     `json:"commit"`
	Source      Source     `json:"source"`
	Author      string     `json:"author"`
	CreatedAt   time.Time  `json:"created_at"`
	Status      Status     `json:"status"`
	AgentID     string     `json:"agent_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
}

// Snapshot copies the Job's current fields out from under the lock.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:          j.ID,
		Repo:        j.Repo,
		Branch:      j.Branch,
		Commit:      j.Commit,
		Source:      j.Source,
		Author:      j.Author,
		CreatedAt:   j.CreatedAt,
		Status:      j.status,
		AgentID:     j.AgentID,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		ExitCode:    j.ExitCode,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
	}
}

// FromSnapshot rebuilds a Job from a Snapshot, e.g. after decoding it
// from the queue's id-indexed keyspace.
func FromSnapshot(s Snapshot) *Job {
	return &Job{
		ID:          s.ID,
		Repo:        s.Repo,
		Branch:      s.Branch,
		Commit:      s.Commit,
		Source:      s.Source,
		Author:      s.Author,
		CreatedAt:   s.CreatedAt,
		status:      s.Status,
		AgentID:     s.AgentID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		ExitCode:    s.ExitCode,
		Attempt:     s.Attempt,
		MaxAttempts: s.MaxAttempts,
	}
}
