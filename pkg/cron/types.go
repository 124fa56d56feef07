package cron

import (
	"context"
	"time"
)

// JobFunc is the work a job performs on each tick.
type JobFunc func(ctx context.Context) error

// Job is a registered schedule and its runtime state.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Expr      string    `json:"expr"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	State     JobState  `json:"state"`
}

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAt         time.Time     `json:"nextRunAt"`
	LastRunAt         time.Time     `json:"lastRunAt,omitempty"`
	LastStatus        string        `json:"lastStatus,omitempty"` // "ok", "error" or "skipped"
	LastError         string        `json:"lastError,omitempty"`
	LastDuration      time.Duration `json:"lastDuration,omitempty"`
	ConsecutiveErrors int           `json:"consecutiveErrors,omitempty"`
	Running           bool          `json:"running,omitempty"`
}

// EventAction represents the type of job event
type EventAction string

const (
	EventActionAdded    EventAction = "added"
	EventActionRemoved  EventAction = "removed"
	EventActionFinished EventAction = "finished"
	EventActionSkipped  EventAction = "skipped"
)

// Event is emitted for job lifecycle changes.
type Event struct {
	Action   EventAction
	JobID    string
	Name     string
	Status   string
	Error    string
	Duration time.Duration
}

// Status values recorded in JobState.LastStatus.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)
