package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// MockRunStore is an in-memory RunStore for testing.
type MockRunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.SyncRun

	SaveErr error
}

// NewMockRunStore creates a new MockRunStore.
func NewMockRunStore() *MockRunStore {
	return &MockRunStore{
		runs: make(map[string]*domain.SyncRun),
	}
}

func (m *MockRunStore) Save(ctx context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MockRunStore) Get(ctx context.Context, id string) (*domain.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run, nil
}

func (m *MockRunStore) ListRecent(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.SyncRun
	for _, run := range m.runs {
		result = append(result, run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of stored runs.
func (m *MockRunStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}
