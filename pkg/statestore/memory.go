package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/pranavk/stockpilot/internal/observability"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs
type MemoryStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) key(sessionID, agentName string) string {
	return sessionID + "\x00" + agentName
}

// Get returns a copy of the stored blob or ErrNotFound
func (s *MemoryStore) Get(_ context.Context, sessionID, agentName string) ([]byte, error) {
	start := time.Now()
	defer func() {
		observability.RecordStateLoad(time.Since(start))
	}()

	if err := validateKey(sessionID, agentName); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[s.key(sessionID, agentName)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Put stores a copy of the blob
func (s *MemoryStore) Put(_ context.Context, sessionID, agentName string, blob []byte) error {
	start := time.Now()
	defer func() {
		observability.RecordStateSave(time.Since(start))
	}()

	if err := validateKey(sessionID, agentName); err != nil {
		return err
	}

	stored := make([]byte, len(blob))
	copy(stored, blob)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[s.key(sessionID, agentName)] = stored
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
