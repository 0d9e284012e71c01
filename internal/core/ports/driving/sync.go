package driving

import (
	"context"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// SyncService is the driving port for running synchronizations.
type SyncService interface {
	// RunScope synchronizes a single scope (customer) and returns its
	// summary. The run never aborts for individual record failures; the
	// returned error is non-nil only for summary-level fatal failures.
	RunScope(ctx context.Context, scopeID string) (*domain.SyncSummary, error)

	// RunAll synchronizes every scope with candidate records. A failing
	// scope does not block the others.
	RunAll(ctx context.Context) ([]*domain.SyncSummary, error)
}
