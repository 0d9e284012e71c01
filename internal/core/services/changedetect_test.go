package services

import (
	"testing"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
)

func header(id string, opts ...func(*domain.Record)) *domain.Record {
	rec := &domain.Record{
		RecordID:  id,
		ScopeID:   "cust-1",
		Kind:      domain.RecordKindHeader,
		GroupKey:  "cust-1/ss26",
		Payload:   map[string]string{"style": "W100", "qty_total": "40"},
		SyncState: domain.SyncStateNew,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

func line(id, parentID string, opts ...func(*domain.Record)) *domain.Record {
	rec := &domain.Record{
		RecordID:       id,
		ScopeID:        "cust-1",
		Kind:           domain.RecordKindLine,
		ParentRecordID: parentID,
		Payload:        map[string]string{"size": "M", "qty_m": "12"},
		SyncState:      domain.SyncStateNew,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

func synced(remoteID string) func(*domain.Record) {
	return func(r *domain.Record) {
		r.RemoteItemID = remoteID
		r.SyncState = domain.SyncStateSynced
		r.SyncedHash = domain.HashPayload(r.Payload)
	}
}

func cancelled() func(*domain.Record) {
	return func(r *domain.Record) { r.Cancelled = true }
}

func payload(fields map[string]string) func(*domain.Record) {
	return func(r *domain.Record) { r.Payload = fields }
}

func TestClassifyNewRecord(t *testing.T) {
	d := NewChangeDetector(nil)

	cs := d.Classify([]*domain.Record{header("ord-1")})

	if len(cs.ToCreate) != 1 {
		t.Fatalf("expected 1 toCreate, got %d", len(cs.ToCreate))
	}
	rec := cs.ToCreate[0]
	if rec.ActionType != domain.ActionInsert {
		t.Errorf("expected INSERT, got %s", rec.ActionType)
	}
	if rec.SyncState != domain.SyncStatePending {
		t.Errorf("expected PENDING, got %s", rec.SyncState)
	}
	if rec.ContentHash == "" {
		t.Error("expected content hash computed")
	}
}

func TestClassifyUnchangedIsNoop(t *testing.T) {
	d := NewChangeDetector(nil)

	cs := d.Classify([]*domain.Record{header("ord-1", synced("item-1"))})

	if len(cs.Noop) != 1 {
		t.Fatalf("expected 1 noop, got %d", len(cs.Noop))
	}
	if cs.Noop[0].ActionType != domain.ActionNone {
		t.Errorf("expected NONE, got %s", cs.Noop[0].ActionType)
	}
}

func TestClassifyNoopUnderFieldPermutation(t *testing.T) {
	// A synced record whose payload arrives with the same content in a
	// different field order must stay a noop.
	rec := header("ord-1", synced("item-1"))
	rec.Payload = map[string]string{"qty_total": "40", "style": "W100"}

	d := NewChangeDetector(nil)
	cs := d.Classify([]*domain.Record{rec})

	if len(cs.Noop) != 1 {
		t.Fatalf("expected noop under permuted fields, got create=%d update=%d",
			len(cs.ToCreate), len(cs.ToUpdate))
	}
}

func TestClassifyChangedPayloadIsUpdate(t *testing.T) {
	rec := header("ord-1", synced("item-1"))
	rec.Payload["qty_total"] = "55"

	d := NewChangeDetector(nil)
	cs := d.Classify([]*domain.Record{rec})

	if len(cs.ToUpdate) != 1 {
		t.Fatalf("expected 1 toUpdate, got %d", len(cs.ToUpdate))
	}
	if cs.ToUpdate[0].ActionType != domain.ActionUpdate {
		t.Errorf("expected UPDATE, got %s", cs.ToUpdate[0].ActionType)
	}
}

func TestClassifyCancelWinsOverUpdate(t *testing.T) {
	rec := header("ord-1", synced("item-1"), cancelled())
	rec.Payload["qty_total"] = "55" // hash change must not matter

	d := NewChangeDetector(nil)
	cs := d.Classify([]*domain.Record{rec})

	if len(cs.ToCancel) != 1 {
		t.Fatalf("expected 1 toCancel, got %d", len(cs.ToCancel))
	}
	if cs.ToCancel[0].ActionType != domain.ActionCancel {
		t.Errorf("expected CANCEL, got %s", cs.ToCancel[0].ActionType)
	}
}

func TestClassifyCancelledBeforeFirstSync(t *testing.T) {
	// Never synced and already cancelled: resolved locally, no remote
	// creation, terminal SYNCED with no remote id.
	rec := header("ord-1", cancelled())

	d := NewChangeDetector(nil)
	cs := d.Classify([]*domain.Record{rec})

	if len(cs.ToCreate) != 0 || len(cs.ToCancel) != 0 {
		t.Fatalf("expected no remote work, got create=%d cancel=%d",
			len(cs.ToCreate), len(cs.ToCancel))
	}
	if len(cs.Noop) != 1 {
		t.Fatalf("expected 1 noop, got %d", len(cs.Noop))
	}
	if rec.SyncState != domain.SyncStateSynced {
		t.Errorf("expected SYNCED, got %s", rec.SyncState)
	}
	if rec.RemoteItemID != "" {
		t.Errorf("expected no remote id, got %q", rec.RemoteItemID)
	}
}

func TestClassifyPartitionsAreDisjoint(t *testing.T) {
	records := []*domain.Record{
		header("ord-1"),
		header("ord-2", synced("item-2")),
		header("ord-3", synced("item-3"), cancelled()),
		line("ord-2-M", "ord-2", synced("sub-1")),
	}

	d := NewChangeDetector(nil)
	cs := d.Classify(records)

	if cs.Total() != len(records) {
		t.Errorf("expected every record classified exactly once, total=%d want %d",
			cs.Total(), len(records))
	}
}
