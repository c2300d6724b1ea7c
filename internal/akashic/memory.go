package akashic

import (
	"context"
	"errors"
	"sync"

	"apiary/internal/event"
)

// MemoryStore keeps the record in process memory. Same contract as the
// SQLite backend; used by tests and ephemeral (one-shot CLI) runs.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string][]*event.Event
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: map[string][]*event.Event{}}
}

func (s *MemoryStore) Append(ctx context.Context, scopeID string, e *event.Event) error {
	if scopeID == "" {
		return errors.New("scope id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := ""
	stream := s.scopes[scopeID]
	if n := len(stream); n > 0 {
		tail = stream[n-1].Hash
	}
	if err := prepareForAppend(e, tail); err != nil {
		return err
	}
	if _, ok := s.scopes[scopeID]; !ok {
		s.order = append(s.order, scopeID)
	}
	s.scopes[scopeID] = append(s.scopes[scopeID], e)
	return nil
}

func (s *MemoryStore) Replay(ctx context.Context, scopeID string) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.scopes[scopeID]
	out := make([]*event.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *MemoryStore) ListScopes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func (s *MemoryStore) TailHash(ctx context.Context, scopeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.scopes[scopeID]
	if len(stream) == 0 {
		return "", nil
	}
	return stream[len(stream)-1].Hash, nil
}
