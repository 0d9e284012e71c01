package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// MockReportWriter records summaries handed over by the engine.
type MockReportWriter struct {
	mu       sync.Mutex
	runs     []*domain.SyncRun
	WriteErr error
}

// NewMockReportWriter creates a new MockReportWriter.
func NewMockReportWriter() *MockReportWriter {
	return &MockReportWriter{}
}

func (m *MockReportWriter) WriteSummary(ctx context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.runs = append(m.runs, run)
	return nil
}

// Written returns the runs handed to the writer, in order.
func (m *MockReportWriter) Written() []*domain.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SyncRun(nil), m.runs...)
}
