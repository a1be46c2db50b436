// Package models provides data model definitions for Recallbox.
package models

import "time"

// Tag represents a user-defined label for organizing cards.
type Tag struct {
	ID          UUID   `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Color       string `db:"color" json:"color"`
	IsDeleted   bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
	SyncVersion int64  `db:"sync_version" json:"sync_version"`
}

// TableName returns the table name for Tag.
func (Tag) TableName() string {
	return "tags"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (t *Tag) UpdatedAtTime() time.Time {
	return time.UnixMilli(t.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (t *Tag) Touch() {
	t.UpdatedAt = time.Now().UnixMilli()
}

// EntityID returns the stable identity of the tag.
func (t *Tag) EntityID() string { return string(t.ID) }

// Kind returns KindTag.
func (t *Tag) Kind() EntityKind { return KindTag }

// Tombstoned reports whether the tag has been soft-deleted.
func (t *Tag) Tombstoned() bool { return t.IsDeleted }

// Modified returns the last-modified timestamp in epoch milliseconds.
func (t *Tag) Modified() int64 { return t.UpdatedAt }

// Version returns the authority-assigned sync version.
func (t *Tag) Version() int64 { return t.SyncVersion }
