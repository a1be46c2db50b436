// Package models provides data model definitions for Recallbox.
package models

import "time"

// Setting represents one key/value application setting. The key is the
// entity identity; settings never merge automatically.
type Setting struct {
	Key         string `db:"key" json:"key"`
	Value       string `db:"value" json:"value"`
	IsDeleted   bool   `db:"is_deleted" json:"is_deleted"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
	SyncVersion int64  `db:"sync_version" json:"sync_version"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (s *Setting) UpdatedAtTime() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (s *Setting) Touch() {
	s.UpdatedAt = time.Now().UnixMilli()
}

// EntityID returns the setting key.
func (s *Setting) EntityID() string { return s.Key }

// Kind returns KindSetting.
func (s *Setting) Kind() EntityKind { return KindSetting }

// Tombstoned reports whether the setting has been soft-deleted.
func (s *Setting) Tombstoned() bool { return s.IsDeleted }

// Modified returns the last-modified timestamp in epoch milliseconds.
func (s *Setting) Modified() int64 { return s.UpdatedAt }

// Version returns the authority-assigned sync version.
func (s *Setting) Version() int64 { return s.SyncVersion }
