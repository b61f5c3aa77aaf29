// Package statestore is the persistence boundary for durable conversation
// state. Blobs are opaque to the store; schema and versioning belong to the
// workflow layer that owns the state.
package statestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state exists for a session/agent pair
var ErrNotFound = errors.New("conversation state not found")

// Store persists one opaque blob per (session, agent) pair
type Store interface {
	// Get returns the stored blob or ErrNotFound
	Get(ctx context.Context, sessionID, agentName string) ([]byte, error)

	// Put stores the blob, replacing any previous value
	Put(ctx context.Context, sessionID, agentName string, blob []byte) error

	// Close releases underlying resources
	Close() error
}
