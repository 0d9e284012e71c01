package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordStore = (*RecordStore)(nil)

// RecordStore implements driven.RecordStore using PostgreSQL
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new RecordStore
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

const recordColumns = `record_id, scope_id, kind, parent_record_id, group_key,
	payload, cancelled, content_hash, synced_hash, sync_state, action_type,
	remote_item_id, remote_parent_id, last_error, updated_at`

// ListCandidates retrieves every record in the scope, headers first so a
// line's header is always present in the same result set.
func (s *RecordStore) ListCandidates(ctx context.Context, scopeID string) ([]*domain.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM order_records
		WHERE scope_id = $1
		ORDER BY kind DESC, record_id
	`, recordColumns)

	rows, err := s.db.QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListScopes retrieves distinct scope ids in stable order.
func (s *RecordStore) ListScopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scope_id FROM order_records ORDER BY scope_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// ApplyOutcomes writes back sync outcome fields for the records in one
// transaction. Records are expected to exist; missing rows are an error
// because it means the run worked from a stale candidate list.
func (s *RecordStore) ApplyOutcomes(ctx context.Context, records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		UPDATE order_records SET
			payload = $2,
			cancelled = $3,
			content_hash = $4,
			synced_hash = $5,
			sync_state = $6,
			action_type = $7,
			remote_item_id = $8,
			remote_parent_id = $9,
			last_error = $10,
			updated_at = NOW()
		WHERE record_id = $1
	`

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare outcome update: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			payloadJSON, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload for %s: %w", rec.RecordID, err)
			}

			res, err := stmt.ExecContext(ctx,
				rec.RecordID,
				payloadJSON,
				rec.Cancelled,
				rec.ContentHash,
				rec.SyncedHash,
				string(rec.SyncState),
				string(rec.ActionType),
				rec.RemoteItemID,
				rec.RemoteParentID,
				rec.LastError,
			)
			if err != nil {
				return fmt.Errorf("failed to update record %s: %w", rec.RecordID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("record %s: %w", rec.RecordID, domain.ErrNotFound)
			}
		}
		return nil
	})
}

// Upsert creates or replaces a record. Used by ingestion, not by the sync
// engine itself.
func (s *RecordStore) Upsert(ctx context.Context, rec *domain.Record) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO order_records (record_id, scope_id, kind, parent_record_id, group_key,
			payload, cancelled, content_hash, synced_hash, sync_state, action_type,
			remote_item_id, remote_parent_id, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (record_id) DO UPDATE SET
			scope_id = EXCLUDED.scope_id,
			parent_record_id = EXCLUDED.parent_record_id,
			group_key = EXCLUDED.group_key,
			payload = EXCLUDED.payload,
			cancelled = EXCLUDED.cancelled,
			updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.RecordID,
		rec.ScopeID,
		string(rec.Kind),
		rec.ParentRecordID,
		string(rec.GroupKey),
		payloadJSON,
		rec.Cancelled,
		rec.ContentHash,
		rec.SyncedHash,
		string(rec.SyncState),
		string(rec.ActionType),
		rec.RemoteItemID,
		rec.RemoteParentID,
		rec.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// rowScanner covers sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var kind, syncState, actionType string
	var payloadJSON []byte

	err := row.Scan(
		&rec.RecordID,
		&rec.ScopeID,
		&kind,
		&rec.ParentRecordID,
		&rec.GroupKey,
		&payloadJSON,
		&rec.Cancelled,
		&rec.ContentHash,
		&rec.SyncedHash,
		&syncState,
		&actionType,
		&rec.RemoteItemID,
		&rec.RemoteParentID,
		&rec.LastError,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Kind = domain.RecordKind(kind)
	rec.SyncState = domain.SyncState(syncState)
	rec.ActionType = domain.ActionType(actionType)
	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload for %s: %w", rec.RecordID, err)
	}
	return &rec, nil
}
