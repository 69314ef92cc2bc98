package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// MemorySessionStore keeps sessions in process. Used by tests and by the
// API when no Redis is configured.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID][]byte
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[uuid.UUID][]byte)}
}

// sessions round-trip through JSON so callers never share slices
func (m *MemorySessionStore) Save(_ context.Context, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = data
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id uuid.UUID) (State, error) {
	m.mu.Lock()
	data, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return State{}, ErrSessionNotFound
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
