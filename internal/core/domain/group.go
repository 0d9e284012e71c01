package domain

// GroupKey identifies a remote group (e.g. customer+season). Derived from
// record fields by upstream ingestion; opaque to the sync engine.
type GroupKey string

// Group is a remote container entity that items belong to. RemoteGroupID is
// empty until the group has been created (or found) remotely. Groups are
// created on first need and never deleted by this subsystem.
type Group struct {
	Key           GroupKey `json:"key"`
	RemoteGroupID string   `json:"remote_group_id,omitempty"`
}
