// Package audit records trading mode change attempts and their outcomes in
// a durable append-only log.
package audit

import "time"

// Outcome classifies how a mode change attempt ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Event is one mode change attempt. Append-only; events are never updated.
type Event struct {
	ID        string    `json:"id"`
	FromMode  string    `json:"from_mode"`
	ToMode    string    `json:"to_mode"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink is the durable log consumer. Record is fire-and-forget: it must not
// block the caller's result path.
type Sink interface {
	Record(event Event)
}
