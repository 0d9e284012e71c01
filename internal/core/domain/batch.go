package domain

// BatchOp identifies the remote operation a batch performs.
type BatchOp string

const (
	BatchOpCreateItems    BatchOp = "create_items"
	BatchOpCreateSubitems BatchOp = "create_subitems"
	BatchOpUpdateItems    BatchOp = "update_items"
)

// Batch is an ephemeral unit of work: an ordered slice of records sharing one
// operation type, sized to the remote platform's batch limit. Seq preserves
// stable input order for reproducible dispatch.
type Batch struct {
	Seq     int
	Op      BatchOp
	Records []*Record
}

// RecordOutcome is the per-record result of a dispatched operation.
type RecordOutcome struct {
	RecordID string  `json:"record_id"`
	Op       BatchOp `json:"op"`
	Success  bool    `json:"success"`
	RemoteID string  `json:"remote_id,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// BatchResult is the outcome of one batch. Outcomes are independent within
// the batch: some records may succeed while others fail.
type BatchResult struct {
	Seq      int
	Op       BatchOp
	Outcomes []RecordOutcome
}

// Failed returns the number of failed outcomes in the batch.
func (r *BatchResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Success {
			n++
		}
	}
	return n
}

// AllFailed reports whether every record in the batch failed.
func (r *BatchResult) AllFailed() bool {
	return len(r.Outcomes) > 0 && r.Failed() == len(r.Outcomes)
}
