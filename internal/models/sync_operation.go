// Package models provides data model definitions for Recallbox.
package models

import "time"

// OpKind represents the kind of a sync operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// OpPriority orders pending local operations.
type OpPriority string

const (
	PriorityLow    OpPriority = "low"
	PriorityMedium OpPriority = "medium"
	PriorityHigh   OpPriority = "high"
)

// priorityRank maps OpPriority to a sortable weight (higher first).
func (p OpPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// SyncOperation represents one pending mutation, either captured locally or
// derived from a remote change. It is consumed once successfully applied or
// uploaded, and retried with a bounded RetryCount on transient failure.
type SyncOperation struct {
	ID          UUID          `json:"id"`
	Kind        OpKind        `json:"kind"`
	EntityType  EntityKind    `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	Payload     EntityPayload `json:"payload"`
	Timestamp   int64         `json:"timestamp"` // epoch milliseconds
	RetryCount  int           `json:"retry_count"`
	Priority    OpPriority    `json:"priority"`
	SyncVersion int64         `json:"sync_version"`
}

// Time returns the Timestamp as time.Time.
func (o *SyncOperation) Time() time.Time {
	return time.UnixMilli(o.Timestamp)
}

// EntityKey identifies the entity an operation touches across collections.
type EntityKey struct {
	Type EntityKind
	ID   string
}

// Key returns the (entityType, entityId) pair for conflict matching.
func (o *SyncOperation) Key() EntityKey {
	return EntityKey{Type: o.EntityType, ID: o.EntityID}
}

// Tombstoned reports whether the operation carries a deletion.
func (o *SyncOperation) Tombstoned() bool {
	if o.Kind == OpDelete {
		return true
	}
	if e := o.Payload.Entity(); e != nil {
		return e.Tombstoned()
	}
	return false
}
