package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// GroupResolver maps group keys to remote group ids, ensuring each group is
// created at most once per sync run. Concurrent resolutions of the same key
// share a single in-flight remote call.
//
// The resolver is scoped to one run; the engine builds a fresh one per run
// so a group deleted remotely between runs is re-resolved.
type GroupResolver struct {
	client  driven.BoardClient
	boardID string
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[domain.GroupKey]*groupEntry
}

// groupEntry is the memoized (possibly still in-flight) result for one key.
type groupEntry struct {
	done chan struct{}
	id   string
	err  error
}

// NewGroupResolver creates a resolver for one sync run.
func NewGroupResolver(client driven.BoardClient, boardID string, logger *slog.Logger) *GroupResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupResolver{
		client:  client,
		boardID: boardID,
		logger:  logger,
		entries: make(map[domain.GroupKey]*groupEntry),
	}
}

// Resolve returns the remote group id for key, creating the group remotely
// if needed. The first caller for a key performs the remote call; everyone
// else waits for its result. A failed resolution is memoized too: all
// records depending on that group fail together with one shared reason.
func (r *GroupResolver) Resolve(ctx context.Context, key domain.GroupKey) (string, error) {
	if key == "" {
		return "", fmt.Errorf("resolve group: %w: empty group key", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		select {
		case <-e.done:
			return e.id, e.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	e := &groupEntry{done: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	e.id, e.err = r.client.EnsureGroup(ctx, r.boardID, key)
	close(e.done)

	if e.err != nil {
		r.logger.Warn("group resolution failed", "group_key", key, "error", e.err)
		return "", e.err
	}

	r.logger.Debug("group resolved", "group_key", key, "remote_group_id", e.id)
	return e.id, nil
}

// Resolved returns the keys resolved so far and their outcomes. Used by the
// engine for summary accounting.
func (r *GroupResolver) Resolved() map[domain.GroupKey]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.GroupKey]error, len(r.entries))
	for k, e := range r.entries {
		select {
		case <-e.done:
			out[k] = e.err
		default:
			// still in flight
		}
	}
	return out
}
