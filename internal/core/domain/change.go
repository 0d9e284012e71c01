package domain

// ChangeSet partitions candidate records by the remote operation they require.
// Partitions are disjoint; every candidate lands in exactly one.
type ChangeSet struct {
	// ToCreate holds records with no remote item yet.
	ToCreate []*Record

	// ToUpdate holds records whose content hash differs from the hash at
	// last confirmed sync.
	ToUpdate []*Record

	// ToCancel holds headers flagged cancelled upstream that already exist
	// remotely. Cancellation wins over create/update classification.
	ToCancel []*Record

	// Noop holds unchanged records, plus records cancelled before their
	// first sync (resolved locally, no remote action needed).
	Noop []*Record
}

// Total returns the number of classified records.
func (c *ChangeSet) Total() int {
	return len(c.ToCreate) + len(c.ToUpdate) + len(c.ToCancel) + len(c.Noop)
}

// Pending returns the number of records that need a remote operation.
func (c *ChangeSet) Pending() int {
	return len(c.ToCreate) + len(c.ToUpdate) + len(c.ToCancel)
}
