// Package models provides data model definitions for Recallbox.
package models

import "time"

// SyncCheckpoint is an audit/rollback marker written at the end of each
// successful incremental sync pass. The checkpoint history is append-only
// and bounded; the oldest entries are trimmed past the retention cap.
type SyncCheckpoint struct {
	ID             UUID   `json:"id"`
	Timestamp      int64  `json:"timestamp"` // epoch milliseconds
	OperationIDs   []UUID `json:"operation_ids"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	Checksum       string `json:"checksum"`
	IsRollbackSafe bool   `json:"is_rollback_safe"`
}

// Time returns the Timestamp as time.Time.
func (c *SyncCheckpoint) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}
