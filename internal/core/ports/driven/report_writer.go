package driven

import (
	"context"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// ReportWriter receives the immutable summary of a finished run and renders
// it. Rendering (markdown, dashboards) lives outside this module; the engine
// only hands over the value.
type ReportWriter interface {
	WriteSummary(ctx context.Context, run *domain.SyncRun) error
}
