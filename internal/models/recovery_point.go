// Package models provides data model definitions for Recallbox.
package models

import "time"

// PointType describes what triggered a recovery point.
type PointType string

const (
	PointManual       PointType = "manual"
	PointAuto         PointType = "auto"
	PointScheduled    PointType = "scheduled"
	PointBeforeUpdate PointType = "before_update"
	PointAfterUpdate  PointType = "after_update"
	PointEmergency    PointType = "emergency"
)

// PointPriority ranks recovery points for retention decisions.
type PointPriority string

const (
	PointPriorityLow      PointPriority = "low"
	PointPriorityNormal   PointPriority = "normal"
	PointPriorityHigh     PointPriority = "high"
	PointPriorityCritical PointPriority = "critical"
)

// PriorityBonus returns the retention scoring bonus for the priority.
func (p PointPriority) PriorityBonus() float64 {
	switch p {
	case PointPriorityCritical:
		return 100
	case PointPriorityHigh:
		return 50
	case PointPriorityLow:
		return -25
	default:
		return 0
	}
}

// DefaultPriorityFor maps a point type to its default priority.
func DefaultPriorityFor(t PointType) PointPriority {
	switch t {
	case PointEmergency:
		return PointPriorityCritical
	case PointBeforeUpdate:
		return PointPriorityHigh
	default:
		return PointPriorityNormal
	}
}

// SchemaVersion is the current on-disk layout version of RecoveryData.
const SchemaVersion = 1

// RecoveryData is the full (or, for incremental points, delta) local data
// set captured by a recovery point.
type RecoveryData struct {
	Cards         []*Card    `json:"cards"`
	Folders       []*Folder  `json:"folders"`
	Tags          []*Tag     `json:"tags"`
	Settings      []*Setting `json:"settings"`
	SchemaVersion int        `json:"schema_version"`

	// Removed lists ids deleted since the parent point, keyed by kind.
	// Only populated on incremental deltas.
	Removed map[EntityKind][]string `json:"removed,omitempty"`
}

// EntityCount returns the total number of entities in the data set.
func (d *RecoveryData) EntityCount() int {
	return len(d.Cards) + len(d.Folders) + len(d.Tags) + len(d.Settings)
}

// RecoveryPoint is a named, checksummed snapshot of the local data set.
// Checksum always equals the digest recomputed from Data; parent links form
// an acyclic chain. When Compressed is non-empty it holds the gzip form of
// the canonical JSON of Data, and Data itself is left zero on disk.
type RecoveryPoint struct {
	ID          UUID          `json:"id"`
	Timestamp   int64         `json:"timestamp"` // epoch milliseconds
	Type        PointType     `json:"type"`
	Description string        `json:"description"`
	Data        RecoveryData  `json:"data"`
	Compressed  []byte        `json:"compressed,omitempty"`
	Checksum    string        `json:"checksum"`
	SizeBytes   int64         `json:"size_bytes"`
	Priority    PointPriority `json:"priority"`
	Tags        []string      `json:"tags,omitempty"`
	IsProtected bool          `json:"is_protected"`

	// Incremental chain links. A point with a parent stores only the delta
	// of entities changed since the parent's reconstructed state.
	ParentPointID    UUID   `json:"parent_point_id,omitempty"`
	ChildrenPointIDs []UUID `json:"children_point_ids,omitempty"`

	RestoreCount int     `json:"restore_count"`
	HealthScore  float64 `json:"health_score"`

	LastValidatedAt    int64 `json:"last_validated_at,omitempty"`
	ValidationFailures int   `json:"validation_failures"`
}

// Time returns the Timestamp as time.Time.
func (p *RecoveryPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// IsIncremental reports whether the point stores a delta against a parent.
func (p *RecoveryPoint) IsIncremental() bool {
	return p.ParentPointID != ""
}

// IsCompressed reports whether the point keeps only the compressed form.
func (p *RecoveryPoint) IsCompressed() bool {
	return len(p.Compressed) > 0
}

// AgeDays returns the point age in fractional days at the given time.
func (p *RecoveryPoint) AgeDays(now time.Time) float64 {
	return now.Sub(p.Time()).Hours() / 24
}
