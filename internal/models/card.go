// Package models provides data model definitions for Recallbox.
package models

import "time"

// Card represents a single flashcard with markdown front/back text.
// Timestamps are epoch milliseconds; SyncVersion is a monotonic per-entity
// counter assigned by the remote authority.
type Card struct {
	ID          UUID   `db:"id" json:"id"`
	FolderID    UUID   `db:"folder_id" json:"folder_id,omitempty"`
	Front       string `db:"front" json:"front"`
	Back        string `db:"back" json:"back"`
	Tags        string `db:"tags" json:"tags"` // Comma-separated
	IsDeleted   bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
	SyncVersion int64  `db:"sync_version" json:"sync_version"`
}

// TableName returns the table name for Card.
func (Card) TableName() string {
	return "cards"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (c *Card) UpdatedAtTime() time.Time {
	return time.UnixMilli(c.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (c *Card) Touch() {
	c.UpdatedAt = time.Now().UnixMilli()
}

// EntityID returns the stable identity of the card.
func (c *Card) EntityID() string { return string(c.ID) }

// Kind returns KindCard.
func (c *Card) Kind() EntityKind { return KindCard }

// Tombstoned reports whether the card has been soft-deleted.
func (c *Card) Tombstoned() bool { return c.IsDeleted }

// Modified returns the last-modified timestamp in epoch milliseconds.
func (c *Card) Modified() int64 { return c.UpdatedAt }

// Version returns the authority-assigned sync version.
func (c *Card) Version() int64 { return c.SyncVersion }
