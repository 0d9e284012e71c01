package driven

import (
	"context"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// ItemSpec is one record's worth of fields for a remote create.
type ItemSpec struct {
	// RecordID ties the result back to the local record.
	RecordID string

	// Name is the remote item display name.
	Name string

	// Fields are the column values pushed remotely.
	Fields map[string]string
}

// ItemUpdate is one record's worth of fields for a remote update.
type ItemUpdate struct {
	RecordID     string
	RemoteItemID string
	Fields       map[string]string
}

// ItemResult is the per-record outcome of a batched remote call. Err is nil
// on success; on failure it is a *domain.RemoteError or a wrapped transport
// error. Outcomes within one batch are independent.
type ItemResult struct {
	RecordID string
	RemoteID string
	Err      error
}

// BoardClient is the rate-limited remote work-management API. All methods
// retry transient and rate-limit failures internally within a bounded
// budget; errors that surface are terminal for the attempt.
type BoardClient interface {
	// EnsureGroup finds or creates the group for key on the board and
	// returns its remote id. An already-existing group is a success.
	EnsureGroup(ctx context.Context, boardID string, key domain.GroupKey) (string, error)

	// CreateItems creates one remote item per spec inside the group.
	CreateItems(ctx context.Context, boardID, groupID string, items []ItemSpec) ([]ItemResult, error)

	// CreateSubitems creates one remote subitem per spec under the parent item.
	CreateSubitems(ctx context.Context, parentItemID string, items []ItemSpec) ([]ItemResult, error)

	// UpdateItems applies column values to existing remote items.
	UpdateItems(ctx context.Context, boardID string, updates []ItemUpdate) ([]ItemResult, error)

	// Ping verifies the remote API is reachable and the token is accepted.
	Ping(ctx context.Context) error
}
