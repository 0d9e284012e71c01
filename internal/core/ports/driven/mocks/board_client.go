package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// MockBoardClient is an in-memory BoardClient for testing. It assigns
// sequential remote ids and counts calls per method so tests can assert on
// exactly how many remote operations a run performed.
type MockBoardClient struct {
	mu     sync.Mutex
	nextID int

	groups map[domain.GroupKey]string
	items  map[string]driven.ItemSpec

	// Error injection
	EnsureGroupErr error
	CreateErr      error
	UpdateErr      error
	PingErr        error

	// FailRecords maps record ids to the error their outcome should carry,
	// for partial-batch failure tests.
	FailRecords map[string]error

	ensureGroupCalls   int
	createItemCalls    int
	createSubitemCalls int
	updateItemCalls    int
}

// NewMockBoardClient creates a new MockBoardClient.
func NewMockBoardClient() *MockBoardClient {
	return &MockBoardClient{
		groups:      make(map[domain.GroupKey]string),
		items:       make(map[string]driven.ItemSpec),
		FailRecords: make(map[string]error),
	}
}

func (m *MockBoardClient) nextRemoteID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *MockBoardClient) EnsureGroup(ctx context.Context, boardID string, key domain.GroupKey) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureGroupCalls++
	if m.EnsureGroupErr != nil {
		return "", m.EnsureGroupErr
	}
	if id, ok := m.groups[key]; ok {
		return id, nil
	}
	id := m.nextRemoteID("grp")
	m.groups[key] = id
	return id, nil
}

func (m *MockBoardClient) CreateItems(ctx context.Context, boardID, groupID string, items []driven.ItemSpec) ([]driven.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createItemCalls++
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return m.create("item", items), nil
}

func (m *MockBoardClient) CreateSubitems(ctx context.Context, parentItemID string, items []driven.ItemSpec) ([]driven.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createSubitemCalls++
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return m.create("sub", items), nil
}

func (m *MockBoardClient) create(prefix string, items []driven.ItemSpec) []driven.ItemResult {
	results := make([]driven.ItemResult, 0, len(items))
	for _, spec := range items {
		if err, ok := m.FailRecords[spec.RecordID]; ok {
			results = append(results, driven.ItemResult{RecordID: spec.RecordID, Err: err})
			continue
		}
		id := m.nextRemoteID(prefix)
		m.items[id] = spec
		results = append(results, driven.ItemResult{RecordID: spec.RecordID, RemoteID: id})
	}
	return results
}

func (m *MockBoardClient) UpdateItems(ctx context.Context, boardID string, updates []driven.ItemUpdate) ([]driven.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateItemCalls++
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}

	results := make([]driven.ItemResult, 0, len(updates))
	for _, u := range updates {
		if err, ok := m.FailRecords[u.RecordID]; ok {
			results = append(results, driven.ItemResult{RecordID: u.RecordID, Err: err})
			continue
		}
		if spec, ok := m.items[u.RemoteItemID]; ok {
			for k, v := range u.Fields {
				spec.Fields[k] = v
			}
			m.items[u.RemoteItemID] = spec
		}
		results = append(results, driven.ItemResult{RecordID: u.RecordID, RemoteID: u.RemoteItemID})
	}
	return results, nil
}

func (m *MockBoardClient) Ping(ctx context.Context) error {
	return m.PingErr
}

// Helper methods for testing

// EnsureGroupCalls returns how many times EnsureGroup was invoked.
func (m *MockBoardClient) EnsureGroupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureGroupCalls
}

// CreateItemCalls returns how many CreateItems batches were dispatched.
func (m *MockBoardClient) CreateItemCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createItemCalls
}

// CreateSubitemCalls returns how many CreateSubitems batches were dispatched.
func (m *MockBoardClient) CreateSubitemCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSubitemCalls
}

// UpdateItemCalls returns how many UpdateItems batches were dispatched.
func (m *MockBoardClient) UpdateItemCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateItemCalls
}

// GroupCount returns the number of distinct remote groups created.
func (m *MockBoardClient) GroupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

// ItemCount returns the number of remote items and subitems created.
func (m *MockBoardClient) ItemCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Item returns the stored spec for a remote id.
func (m *MockBoardClient) Item(remoteID string) (driven.ItemSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spec, ok := m.items[remoteID]
	return spec, ok
}
