// Package storage persists agent state snapshots across restarts.
// The agent treats storage as a small key-value store holding one JSON
// document per key.
package storage

import (
	"context"
	"errors"
)

// Keys for persisted agent state.
const (
	// KeyQueue holds the pending event queue snapshot.
	KeyQueue = "queue"
	// KeyExceptions holds the normalized domain exception list.
	KeyExceptions = "exceptions"
	// KeyBackendURL holds the configured backend base URL.
	KeyBackendURL = "backend_url"
	// KeyTracking holds the tracking enabled flag.
	KeyTracking = "tracking_enabled"
)

// ErrNotFound indicates the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store persists JSON-encoded agent state by key.
type Store interface {
	// Save stores the JSON encoding of value under key, replacing any
	// previous value.
	Save(ctx context.Context, key string, value any) error

	// Load decodes the value stored under key into dest.
	// Returns ErrNotFound if the key has never been written.
	Load(ctx context.Context, key string, dest any) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
