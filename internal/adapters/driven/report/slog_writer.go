package report

import (
	"context"
	"log/slog"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ReportWriter = (*SlogWriter)(nil)

// SlogWriter renders run summaries as structured log lines. It is the
// default ReportWriter; richer renderings plug in behind the same port.
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a new SlogWriter
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger}
}

// WriteSummary logs the run summary at a level matching its status.
func (w *SlogWriter) WriteSummary(ctx context.Context, run *domain.SyncRun) error {
	summary := run.Summary
	if summary == nil {
		w.logger.Warn("run finished without summary", "run_id", run.ID, "state", run.State, "error", run.Error)
		return nil
	}

	attrs := []any{
		"run_id", run.ID,
		"scope_id", summary.ScopeID,
		"status", summary.Status,
		"total", summary.TotalRecords,
		"created", summary.Created,
		"updated", summary.Updated,
		"cancelled", summary.Cancelled,
		"failed", summary.Failed,
		"unchanged", summary.Unchanged,
		"batches", summary.BatchesDispatched,
		"success_rate", summary.BatchSuccessRate,
		"elapsed_ms", summary.ElapsedMs,
	}

	switch summary.Status {
	case domain.RunStatusFailed:
		w.logger.Error("sync run failed", append(attrs, "error", summary.Error)...)
	case domain.RunStatusPartial:
		w.logger.Warn("sync run partially succeeded", attrs...)
	default:
		w.logger.Info("sync run succeeded", attrs...)
	}
	return nil
}
