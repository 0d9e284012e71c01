package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// SyncState is the local lifecycle marker for a record's remote synchronization.
type SyncState string

const (
	SyncStateNew     SyncState = "NEW"
	SyncStatePending SyncState = "PENDING"
	SyncStateSynced  SyncState = "SYNCED"
	SyncStateFailed  SyncState = "FAILED"
)

// ActionType is the remote operation a record requires, derived by change detection.
type ActionType string

const (
	ActionInsert ActionType = "INSERT"
	ActionUpdate ActionType = "UPDATE"
	ActionCancel ActionType = "CANCEL"
	ActionNone   ActionType = "NONE"
)

// RecordKind distinguishes order headers from their line items.
type RecordKind string

const (
	RecordKindHeader RecordKind = "header"
	RecordKindLine   RecordKind = "line"
)

// Record is a header (order) or line (size/quantity) entity tracked for
// synchronization into the remote board platform. Identity is the stable
// business key RecordID; everything else is mutable.
type Record struct {
	// RecordID is the stable business key (e.g. order number, order number + size).
	RecordID string `json:"record_id"`

	// ScopeID is the logical grouping a record belongs to (typically a customer).
	ScopeID string `json:"scope_id"`

	Kind RecordKind `json:"kind"`

	// ParentRecordID links a line to its header. Empty for headers.
	ParentRecordID string `json:"parent_record_id,omitempty"`

	// GroupKey routes a header to a remote group (e.g. customer+season).
	// Empty for lines; lines inherit placement from their header.
	GroupKey GroupKey `json:"group_key,omitempty"`

	// Payload holds the field values pushed to the remote item.
	Payload map[string]string `json:"payload"`

	// Cancelled is the upstream cancellation flag. It takes priority over
	// any hash-based classification.
	Cancelled bool `json:"cancelled"`

	// ContentHash is the canonical hash of Payload at last evaluation.
	ContentHash string `json:"content_hash,omitempty"`

	// SyncedHash is the content hash at the last confirmed sync.
	SyncedHash string `json:"synced_hash,omitempty"`

	SyncState  SyncState  `json:"sync_state"`
	ActionType ActionType `json:"action_type"`

	// RemoteItemID is set once the record exists remotely (item id for
	// headers, subitem id for lines).
	RemoteItemID string `json:"remote_item_id,omitempty"`

	// RemoteParentID is the header's remote item id, required before a line
	// is eligible for remote creation.
	RemoteParentID string `json:"remote_parent_id,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// quantityFieldPrefix marks payload fields that carry quantities.
// Cancellation zeroes exactly these fields.
const quantityFieldPrefix = "qty"

// IsQuantityField reports whether a payload field carries a quantity.
func IsQuantityField(name string) bool {
	return strings.HasPrefix(name, quantityFieldPrefix)
}

// ZeroQuantities sets every quantity field in the payload to "0".
// Used when the record's header is cancelled.
func (r *Record) ZeroQuantities() {
	for k := range r.Payload {
		if IsQuantityField(k) {
			r.Payload[k] = "0"
		}
	}
}

// QuantitiesZeroed reports whether every quantity field is "0".
func (r *Record) QuantitiesZeroed() bool {
	for k, v := range r.Payload {
		if IsQuantityField(k) && v != "0" {
			return false
		}
	}
	return true
}

// MarkSynced records a confirmed remote outcome.
func (r *Record) MarkSynced(remoteID string) {
	if remoteID != "" {
		r.RemoteItemID = remoteID
	}
	r.SyncState = SyncStateSynced
	r.SyncedHash = r.ContentHash
	r.LastError = ""
	r.UpdatedAt = time.Now()
}

// MarkFailed records a terminal failure with a human-readable reason.
func (r *Record) MarkFailed(reason string) {
	r.SyncState = SyncStateFailed
	r.LastError = reason
	r.UpdatedAt = time.Now()
}

// HashPayload computes the canonical content hash of a payload.
// Keys are sorted before hashing so the result is independent of map
// iteration order and of the order fields arrived in upstream.
func HashPayload(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(payload[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
