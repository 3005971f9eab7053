package models

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a [Run].
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusDryRun    RunStatus = "dry_run"
)

// Run is a persisted ledger entry for one sync run.
//
// Summary holds the JSON-encoded run summary; the ledger never stores resolved IDs or plans.
type Run struct {
	id               string
	sequence         int
	status           RunStatus
	dryRun           bool
	summary          string
	errorMessage     string
	reviewsSubmitted int
	startedAt        time.Time
	finishedAt       *time.Time
	createdAt        time.Time
	updatedAt        time.Time
	deletedAt        *time.Time
}

// NewRun creates a running [Run] starting now.
func NewRun(sequence int, dryRun bool) *Run {
	now := time.Now()
	return &Run{
		sequence:  sequence,
		status:    RunStatusRunning,
		dryRun:    dryRun,
		startedAt: now,
		createdAt: now,
		updatedAt: now,
	}
}

// RestoreRun rebuilds a [Run] from stored columns.
func RestoreRun(
	id string, sequence int, status RunStatus, dryRun bool, summary, errorMessage string,
	reviewsSubmitted int, startedAt time.Time, finishedAt *time.Time, createdAt, updatedAt time.Time, deletedAt *time.Time,
) *Run {
	return &Run{
		id:               id,
		sequence:         sequence,
		status:           status,
		dryRun:           dryRun,
		summary:          summary,
		errorMessage:     errorMessage,
		reviewsSubmitted: reviewsSubmitted,
		startedAt:        startedAt,
		finishedAt:       finishedAt,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
		deletedAt:        deletedAt,
	}
}

func (r *Run) ID() string             { return r.id }
func (r *Run) Sequence() int          { return r.sequence }
func (r *Run) Status() RunStatus      { return r.status }
func (r *Run) DryRun() bool           { return r.dryRun }
func (r *Run) Summary() string        { return r.summary }
func (r *Run) ErrorMessage() string   { return r.errorMessage }
func (r *Run) ReviewsSubmitted() int  { return r.reviewsSubmitted }
func (r *Run) StartedAt() time.Time   { return r.startedAt }
func (r *Run) FinishedAt() *time.Time { return r.finishedAt }
func (r *Run) CreatedAt() time.Time   { return r.createdAt }
func (r *Run) UpdatedAt() time.Time   { return r.updatedAt }
func (r *Run) DeletedAt() *time.Time  { return r.deletedAt }

func (r *Run) SetID(id string)           { r.id = id }
func (r *Run) SetSequence(seq int)       { r.sequence = seq }
func (r *Run) SetUpdatedAt(t time.Time)  { r.updatedAt = t }
func (r *Run) SetSummary(summary string) { r.summary = summary }
func (r *Run) SetReviewsSubmitted(n int) { r.reviewsSubmitted = n }

// Finish moves the run to a terminal status.
func (r *Run) Finish(status RunStatus, errMsg string) {
	now := time.Now()
	r.status = status
	r.errorMessage = errMsg
	r.finishedAt = &now
	r.updatedAt = now
}

// Duration returns the elapsed time of a finished run, or the time since start.
func (r *Run) Duration() time.Duration {
	if r.finishedAt == nil {
		return time.Since(r.startedAt)
	}
	return r.finishedAt.Sub(r.startedAt)
}

// Validate implements [Model].
func (r *Run) Validate() error {
	switch r.status {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusAborted, RunStatusDryRun:
	default:
		return fmt.Errorf("invalid run status: %q", r.status)
	}
	if r.startedAt.IsZero() {
		return fmt.Errorf("run start time is required")
	}
	if r.reviewsSubmitted < 0 {
		return fmt.Errorf("reviews submitted cannot be negative")
	}
	return nil
}
