package queue

import (
	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/broadcast"
)

// Event is emitted to the configured notifier on completed, failed, and
// retrying transitions. Delivery is best effort; the engine never blocks on
// or fails because of the notification channel.
type Event struct {
	JobID  uuid.UUID `json:"job_id"`
	Name   string    `json:"name"`
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// Notifier is the push channel job lifecycle events are published to.
type Notifier = broadcast.Broadcaster[Event]
