// Package models provides data model definitions for Recallbox.
package models

import "time"

// ConflictType classifies a detected disagreement between a local and a
// remote operation touching the same entity.
type ConflictType string

const (
	ConflictConcurrentModification ConflictType = "concurrent_modification"
	ConflictVersionMismatch        ConflictType = "version_mismatch"
	ConflictDelete                 ConflictType = "delete_conflict"
)

// Severity ranks how disruptive a conflict is if resolved wrongly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Resolution is the outcome chosen for a conflict.
type Resolution string

const (
	ResolutionLocalWins Resolution = "local_wins"
	ResolutionCloudWins Resolution = "cloud_wins"
	ResolutionMerge     Resolution = "merge"
	ResolutionPending   Resolution = "pending"
)

// Conflict records a disagreement between a local and remote SyncOperation
// on the same (entityType, entityId). It lives in the working set until its
// resolution is applied and persisted.
type Conflict struct {
	ID           UUID          `json:"id"`
	EntityID     string        `json:"entity_id"`
	EntityType   EntityKind    `json:"entity_type"`
	LocalData    EntityPayload `json:"local_data"`
	RemoteData   EntityPayload `json:"remote_data"`
	ConflictType ConflictType  `json:"conflict_type"`
	Severity     Severity      `json:"severity"`
	Resolution   Resolution    `json:"resolution"`
	AutoResolved bool          `json:"auto_resolved"`

	// Confidence and Reasoning explain why a resolution was chosen, so a
	// host UI can surface the decision.
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`

	DetectedAt int64 `json:"detected_at"` // epoch milliseconds
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *Conflict) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}

// Pending reports whether the conflict still requires manual resolution.
func (c *Conflict) Pending() bool {
	return c.Resolution == ResolutionPending
}
