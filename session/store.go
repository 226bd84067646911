package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by a Store for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Store persists session state for the lifetime of a session. Implementations
// must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, s State) error
	Delete(ctx context.Context, id string) error
	// PurgeExpired removes sessions last updated before the cutoff and
	// returns their IDs.
	PurgeExpired(ctx context.Context, before time.Time) ([]string, error)
	// ListProcessing returns the IDs of sessions stored as processing.
	ListProcessing(ctx context.Context) ([]string, error)
	Close() error
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (m *MemoryStore) Load(ctx context.Context, id string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) PurgeExpired(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(before) {
			delete(m.sessions, id)
			purged = append(purged, id)
		}
	}
	return purged, nil
}

func (m *MemoryStore) ListProcessing(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if s.Processing.IsProcessing() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
