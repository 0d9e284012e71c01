package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RunStore = (*RunStore)(nil)

// RunStore implements driven.RunStore using PostgreSQL
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Save creates or updates a run entry
func (s *RunStore) Save(ctx context.Context, run *domain.SyncRun) error {
	var summaryJSON []byte
	if run.Summary != nil {
		var err error
		summaryJSON, err = json.Marshal(run.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
	}

	query := `
		INSERT INTO sync_runs (id, scope_id, state, summary, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.ScopeID,
		string(run.State),
		summaryJSON,
		run.Error,
		run.StartedAt,
		NullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Get retrieves a run by id
func (s *RunStore) Get(ctx context.Context, id string) (*domain.SyncRun, error) {
	query := `
		SELECT id, scope_id, state, summary, error, started_at, completed_at
		FROM sync_runs
		WHERE id = $1
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return run, err
}

// ListRecent retrieves the most recent runs, newest first
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, scope_id, state, summary, error, started_at, completed_at
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var state string
	var summaryJSON []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.ScopeID,
		&state,
		&summaryJSON,
		&run.Error,
		&run.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.State = domain.RunState(state)
	run.CompletedAt = TimePtr(completedAt)
	if len(summaryJSON) > 0 {
		run.Summary = &domain.SyncSummary{}
		if err := json.Unmarshal(summaryJSON, run.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary for %s: %w", run.ID, err)
		}
	}
	return &run, nil
}
