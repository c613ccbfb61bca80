package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/medidispatch/dispatch-core/core/model"
)

// AlertStore persists alert records.
type AlertStore interface {
	PersistAlert(ctx context.Context, a model.Alert) error
	// LoadAlert returns model.ErrNotFound for unknown identifiers.
	LoadAlert(ctx context.Context, id string) (model.Alert, error)
}

// MemoryStore is an AlertStore kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]model.Alert)}
}

func (s *MemoryStore) PersistAlert(_ context.Context, a model.Alert) error {
	s.mu.Lock()
	s.data[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadAlert(_ context.Context, id string) (model.Alert, error) {
	s.mu.RLock()
	a, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return model.Alert{}, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// Len returns the number of stored alerts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
