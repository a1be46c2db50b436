// Package models provides data model definitions for Recallbox.
package models

import "fmt"

// EntityKind identifies one of the tracked entity collections.
type EntityKind string

const (
	KindCard    EntityKind = "card"
	KindFolder  EntityKind = "folder"
	KindTag     EntityKind = "tag"
	KindSetting EntityKind = "setting"
)

// Kinds lists all tracked entity kinds in canonical order.
func Kinds() []EntityKind {
	return []EntityKind{KindCard, KindFolder, KindTag, KindSetting}
}

// Entity is implemented by every synchronized entity type.
type Entity interface {
	EntityID() string
	Kind() EntityKind
	Tombstoned() bool
	Modified() int64
	Version() int64
}

// EntityPayload is a tagged union over the tracked entity kinds. Exactly one
// arm is non-nil; the resolver's per-kind logic switches on Kind() so every
// kind is handled explicitly.
type EntityPayload struct {
	Card    *Card    `json:"card,omitempty"`
	Folder  *Folder  `json:"folder,omitempty"`
	Tag     *Tag     `json:"tag,omitempty"`
	Setting *Setting `json:"setting,omitempty"`
}

// PayloadFor wraps an entity into an EntityPayload.
func PayloadFor(e Entity) (EntityPayload, error) {
	switch v := e.(type) {
	case *Card:
		return EntityPayload{Card: v}, nil
	case *Folder:
		return EntityPayload{Folder: v}, nil
	case *Tag:
		return EntityPayload{Tag: v}, nil
	case *Setting:
		return EntityPayload{Setting: v}, nil
	default:
		return EntityPayload{}, fmt.Errorf("unknown entity type %T", e)
	}
}

// Kind returns the kind of the populated arm, or "" when empty.
func (p EntityPayload) Kind() EntityKind {
	switch {
	case p.Card != nil:
		return KindCard
	case p.Folder != nil:
		return KindFolder
	case p.Tag != nil:
		return KindTag
	case p.Setting != nil:
		return KindSetting
	}
	return ""
}

// Entity returns the populated arm as an Entity, or nil when empty.
func (p EntityPayload) Entity() Entity {
	switch {
	case p.Card != nil:
		return p.Card
	case p.Folder != nil:
		return p.Folder
	case p.Tag != nil:
		return p.Tag
	case p.Setting != nil:
		return p.Setting
	}
	return nil
}

// IsZero reports whether no arm is populated.
func (p EntityPayload) IsZero() bool {
	return p.Entity() == nil
}
