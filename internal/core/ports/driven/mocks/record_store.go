package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// MockRecordStore is an in-memory RecordStore for testing.
type MockRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Record

	// Error injection
	ListErr  error
	ApplyErr error

	applyCalls int
}

// NewMockRecordStore creates a new MockRecordStore.
func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{
		records: make(map[string]*domain.Record),
	}
}

// Seed loads records into the store for a test.
func (m *MockRecordStore) Seed(records ...*domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.RecordID] = r
	}
}

func (m *MockRecordStore) ListCandidates(ctx context.Context, scopeID string) ([]*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var result []*domain.Record
	for _, r := range m.records {
		if scopeID == "" || r.ScopeID == scopeID {
			result = append(result, r)
		}
	}
	// Deterministic order for reproducible dispatch in tests.
	sort.Slice(result, func(i, j int) bool { return result[i].RecordID < result[j].RecordID })
	return result, nil
}

func (m *MockRecordStore) ListScopes(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	seen := make(map[string]bool)
	var scopes []string
	for _, r := range m.records {
		if !seen[r.ScopeID] {
			seen[r.ScopeID] = true
			scopes = append(scopes, r.ScopeID)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

func (m *MockRecordStore) ApplyOutcomes(ctx context.Context, records []*domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	for _, r := range records {
		m.records[r.RecordID] = r
	}
	return nil
}

func (m *MockRecordStore) Ping(ctx context.Context) error {
	return nil
}

// Helper methods for testing

// Get returns the stored record by id, or nil.
func (m *MockRecordStore) Get(recordID string) *domain.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[recordID]
}

// ApplyCalls returns how many times ApplyOutcomes was invoked.
func (m *MockRecordStore) ApplyCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applyCalls
}

func (m *MockRecordStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*domain.Record)
	m.applyCalls = 0
}
