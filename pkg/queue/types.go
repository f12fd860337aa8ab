package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Awaiting reports whether a job in this status is waiting for a worker.
// Pending and retrying are logically the same "awaiting" state; retrying only
// exists so that observers can tell a backoff wait from a fresh job.
func (s Status) Awaiting() bool {
	return s == StatusPending || s == StatusRetrying
}

// MaxPriority bounds job priority so that index keys keep a fixed width.
const MaxPriority = 99999

// Job is one unit of deferred work. Only the queue engine mutates a job after
// creation; every transition goes through an atomic storage transaction.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxRetries   int             `json:"max_retries"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ProcessingBy *uuid.UUID      `json:"processing_by,omitempty"`
	Error        *string         `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Ready reports whether the job can be claimed at the given moment: it is
// awaiting a worker and any scheduled time has passed.
func (j *Job) Ready(now time.Time) bool {
	if !j.Status.Awaiting() {
		return false
	}
	return j.ScheduledFor == nil || !j.ScheduledFor.After(now)
}

// UnmarshalPayload decodes the job payload into v.
func (j *Job) UnmarshalPayload(v any) error {
	if len(j.Payload) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(j.Payload, v)
}

// Stats is a point-in-time count of jobs per status.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
