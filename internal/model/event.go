// Package model defines domain entities for the agent.
package model

import (
	"crypto/rand"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

// ActivityKind classifies an activity observation.
type ActivityKind string

const (
	// ActivityActive marks the start of user activity on a domain.
	ActivityActive ActivityKind = "active"
	// ActivityInactive marks the end of user activity on a domain.
	ActivityInactive ActivityKind = "inactive"
)

// ValidActivityKinds contains all accepted activity kinds.
var ValidActivityKinds = []ActivityKind{ActivityActive, ActivityInactive}

// IsValidActivityKind checks if an activity kind is accepted.
func IsValidActivityKind(k ActivityKind) bool {
	return slices.Contains(ValidActivityKinds, k)
}

// Event is one observed activity record for a domain at a point in time.
// Events are immutable: they are created when the observation occurs and
// destroyed when they leave the queue (sent, or evicted).
type Event struct {
	ID        string       `json:"id"` // ULID (time-sortable idempotency key)
	Kind      ActivityKind `json:"kind"`
	Domain    string       `json:"domain"`
	Timestamp time.Time    `json:"timestamp"` // RFC3339 on the wire
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(kind ActivityKind, domain string) Event {
	return Event{
		ID:        ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Kind:      kind,
		Domain:    domain,
		Timestamp: time.Now().UTC(),
	}
}

// FailureState is a snapshot of the delivery failure counters.
type FailureState struct {
	ConsecutiveFailures int  `json:"consecutive_failures"`
	ThresholdReached    bool `json:"threshold_reached"`
}
