package domain

// RunStatus classifies a sync run by its batch success rate.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Thresholds holds the success-rate cutoffs for run classification.
// Rates are fractions in [0,1].
type Thresholds struct {
	// Success is the minimum rate reported as a full success.
	Success float64 `json:"success"`

	// Partial is the minimum rate reported as a partial success.
	// Below it the run is reported as failed.
	Partial float64 `json:"partial"`
}

// DefaultThresholds returns the platform defaults: >=95% success,
// 80-94% partial, <80% failed.
func DefaultThresholds() Thresholds {
	return Thresholds{Success: 0.95, Partial: 0.80}
}

// Classify maps a success rate to a run status.
func (t Thresholds) Classify(rate float64) RunStatus {
	switch {
	case rate >= t.Success:
		return RunStatusSuccess
	case rate >= t.Partial:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

// SyncSummary is the immutable result of one sync run, handed to report
// writers after the run completes.
type SyncSummary struct {
	ScopeID           string          `json:"scope_id,omitempty"`
	TotalRecords      int             `json:"total_records"`
	Created           int             `json:"created"`
	Updated           int             `json:"updated"`
	Cancelled         int             `json:"cancelled"`
	Failed            int             `json:"failed"`
	Unchanged         int             `json:"unchanged"`
	BatchesDispatched int             `json:"batches_dispatched"`
	BatchSuccessRate  float64         `json:"batch_success_rate"`
	Status            RunStatus       `json:"status"`
	ElapsedMs         int64           `json:"elapsed_ms"`
	Outcomes          []RecordOutcome `json:"outcomes,omitempty"`

	// Error is set only for summary-level fatal failures (e.g. the remote
	// API was unreachable after top-level retries). Per-record failures
	// live in Outcomes.
	Error string `json:"error,omitempty"`
}

// Finalize computes the success rate over dispatched operations and
// classifies the run. A run with no dispatched operations is a success.
func (s *SyncSummary) Finalize(t Thresholds) {
	if s.Error != "" {
		s.Status = RunStatusFailed
		return
	}

	total := len(s.Outcomes)
	if total == 0 {
		s.BatchSuccessRate = 1.0
		s.Status = RunStatusSuccess
		return
	}

	ok := 0
	for _, o := range s.Outcomes {
		if o.Success {
			ok++
		}
	}
	s.BatchSuccessRate = float64(ok) / float64(total)
	s.Status = t.Classify(s.BatchSuccessRate)
}
