package services

import (
	"log/slog"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

// ChangeDetector classifies candidate records by the remote operation they
// require. Classification is pure: it mutates only ContentHash, ActionType
// and (for records with nothing left to do remotely) SyncState.
type ChangeDetector struct {
	logger *slog.Logger
}

// NewChangeDetector creates a new change detector.
func NewChangeDetector(logger *slog.Logger) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{logger: logger}
}

// Classify partitions records into create/update/cancel/noop sets.
//
// Rules, in priority order:
//   - cancelled with a remote item  -> ToCancel (wins over hash state)
//   - cancelled, never synced       -> Noop, resolved locally as SYNCED with
//     no remote id (nothing to create remotely for a dead order)
//   - no remote item yet            -> ToCreate
//   - hash differs from last sync   -> ToUpdate
//   - otherwise                     -> Noop
//
// Hashing canonicalizes field order, so identical content always lands in
// the same partition regardless of how the payload map was built.
func (d *ChangeDetector) Classify(records []*domain.Record) *domain.ChangeSet {
	cs := &domain.ChangeSet{}

	for _, rec := range records {
		rec.ContentHash = domain.HashPayload(rec.Payload)

		switch {
		case rec.Cancelled && rec.RemoteItemID == "":
			// Cancelled before it ever reached the remote system, so there
			// is nothing to zero remotely.
			rec.ActionType = domain.ActionNone
			rec.SyncState = domain.SyncStateSynced
			cs.Noop = append(cs.Noop, rec)

		case rec.Cancelled:
			rec.ActionType = domain.ActionCancel
			rec.SyncState = domain.SyncStatePending
			cs.ToCancel = append(cs.ToCancel, rec)

		case rec.RemoteItemID == "":
			rec.ActionType = domain.ActionInsert
			rec.SyncState = domain.SyncStatePending
			cs.ToCreate = append(cs.ToCreate, rec)

		case rec.ContentHash != rec.SyncedHash:
			rec.ActionType = domain.ActionUpdate
			rec.SyncState = domain.SyncStatePending
			cs.ToUpdate = append(cs.ToUpdate, rec)

		default:
			rec.ActionType = domain.ActionNone
			cs.Noop = append(cs.Noop, rec)
		}
	}

	d.logger.Debug("change detection complete",
		"total", cs.Total(),
		"to_create", len(cs.ToCreate),
		"to_update", len(cs.ToUpdate),
		"to_cancel", len(cs.ToCancel),
		"noop", len(cs.Noop),
	)

	return cs
}
