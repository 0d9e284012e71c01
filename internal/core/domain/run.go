package domain

import "time"

// RunState tracks the lifecycle of a persisted sync run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// SyncRun is the persisted history entry for one engine run. The local
// database is the sole source of truth for record state between runs; the
// run row exists so operators can see what happened and when.
type SyncRun struct {
	ID          string       `json:"id"`
	ScopeID     string       `json:"scope_id,omitempty"`
	State       RunState     `json:"state"`
	Summary     *SyncSummary `json:"summary,omitempty"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewSyncRun creates a running run entry for a scope. An empty scopeID marks
// a full (all-scopes) run.
func NewSyncRun(scopeID string) *SyncRun {
	return &SyncRun{
		ID:        GenerateID(),
		ScopeID:   scopeID,
		State:     RunStateRunning,
		StartedAt: time.Now(),
	}
}

// Complete marks the run finished with its summary.
func (r *SyncRun) Complete(summary *SyncSummary) {
	now := time.Now()
	r.State = RunStateCompleted
	r.Summary = summary
	r.CompletedAt = &now
}

// Fail marks the run as a summary-level failure.
func (r *SyncRun) Fail(reason string) {
	now := time.Now()
	r.State = RunStateFailed
	r.Error = reason
	r.CompletedAt = &now
}
