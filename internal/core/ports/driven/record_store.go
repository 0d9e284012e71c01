package driven

import (
	"context"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// RecordStore handles order record persistence (PostgreSQL). The local
// database is the sole source of truth for record state between runs.
type RecordStore interface {
	// ListCandidates retrieves every record in the scope that is a
	// candidate for synchronization (headers and their lines). How
	// candidates are selected is the query engine's concern; the sync
	// engine only sees the materialized list.
	ListCandidates(ctx context.Context, scopeID string) ([]*domain.Record, error)

	// ListScopes retrieves the distinct scopes with candidate records.
	ListScopes(ctx context.Context) ([]string, error)

	// ApplyOutcomes writes back sync state, hashes, remote ids, payload and
	// last error for the given records in one transaction. Called once per
	// applied batch so a crash mid-run leaves a resumable state.
	ApplyOutcomes(ctx context.Context, records []*domain.Record) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error
}

// RunStore persists sync run history.
type RunStore interface {
	// Save creates or updates a run entry.
	Save(ctx context.Context, run *domain.SyncRun) error

	// Get retrieves a run by id.
	Get(ctx context.Context, id string) (*domain.SyncRun, error)

	// ListRecent retrieves the most recent runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}
