package store

import (
	"context"
	"sync"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// MemoryStore keeps flows in a map. Reads and writes copy flows so callers
// never share definitions with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string]*schema.Flow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]*schema.Flow)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*schema.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, storeNotFound(id)
	}
	return f.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter FlowFilter) ([]*schema.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		if filter.Matches(f) {
			out = append(out, f.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, flow *schema.Flow) error {
	if err := validateForPut(flow); err != nil {
		return err
	}
	cp := flow.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.CreatedAt.IsZero() {
		if prev, ok := s.flows[cp.ID]; ok {
			cp.CreatedAt = prev.CreatedAt
		} else {
			cp.CreatedAt = time.Now().UTC()
		}
	}
	s.flows[cp.ID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return storeNotFound(id)
	}
	delete(s.flows, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
