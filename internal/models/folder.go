// Package models provides data model definitions for Recallbox.
package models

import "time"

// Folder represents a user-defined container for organizing cards.
type Folder struct {
	ID          UUID   `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	ParentID    UUID   `db:"parent_id" json:"parent_id,omitempty"`
	IsDeleted   bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
	SyncVersion int64  `db:"sync_version" json:"sync_version"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (f *Folder) UpdatedAtTime() time.Time {
	return time.UnixMilli(f.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (f *Folder) Touch() {
	f.UpdatedAt = time.Now().UnixMilli()
}

// EntityID returns the stable identity of the folder.
func (f *Folder) EntityID() string { return string(f.ID) }

// Kind returns KindFolder.
func (f *Folder) Kind() EntityKind { return KindFolder }

// Tombstoned reports whether the folder has been soft-deleted.
func (f *Folder) Tombstoned() bool { return f.IsDeleted }

// Modified returns the last-modified timestamp in epoch milliseconds.
func (f *Folder) Modified() int64 { return f.UpdatedAt }

// Version returns the authority-assigned sync version.
func (f *Folder) Version() int64 { return f.SyncVersion }
