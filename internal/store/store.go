// Package store provides the entity store adapter the sync and recovery
// engines read and write through. The adapter owns an advisory lock that
// makes snapshot reads and batched writes mutually exclusive, so a sync pass
// never observes a half-restored state and a snapshot never observes a
// half-applied sync.
package store

import (
	"context"
	"sync"

	"github.com/jwlin/recallbox/internal/models"
)

// Namespaced state keys. Persisted records survive process restarts and are
// stable across schema migrations of the entity tables.
const (
	StateKeyRecoveryIndex   = "recallbox.recovery.index"
	StateKeyPointPrefix     = "recallbox.recovery.point."
	StateKeySyncConfig      = "recallbox.sync.config"
	StateKeySyncMarker      = "recallbox.sync.marker"
	StateKeySyncCheckpoints = "recallbox.sync.checkpoints"
)

// Store is the entity store adapter. Collection writes are all-or-nothing:
// a Save or Delete either commits every item or none.
type Store interface {
	GetCards(ctx context.Context) ([]*models.Card, error)
	SaveCards(ctx context.Context, cards []*models.Card) error
	DeleteCards(ctx context.Context, ids []string) error

	GetFolders(ctx context.Context) ([]*models.Folder, error)
	SaveFolders(ctx context.Context, folders []*models.Folder) error
	DeleteFolders(ctx context.Context, ids []string) error

	GetTags(ctx context.Context) ([]*models.Tag, error)
	SaveTags(ctx context.Context, tags []*models.Tag) error
	DeleteTags(ctx context.Context, ids []string) error

	GetSettings(ctx context.Context) ([]*models.Setting, error)
	SaveSettings(ctx context.Context, settings []*models.Setting) error
	DeleteSettings(ctx context.Context, ids []string) error

	// Apply deletes then upserts within one collection as a single
	// all-or-nothing write. A failure leaves the collection untouched.
	Apply(ctx context.Context, kind models.EntityKind, deletes []string, writes []models.EntityPayload) error

	// GetState returns a persisted state record, or an AppError with code
	// NOT_FOUND when the key has never been written.
	GetState(ctx context.Context, key string) ([]byte, error)
	PutState(ctx context.Context, key string, value []byte) error
	DeleteState(ctx context.Context, key string) error

	// Acquire takes the advisory lock guarding multi-collection phases.
	// The returned release function is idempotent.
	Acquire(ctx context.Context) (func(), error)

	Close() error
}

// advisoryLock is a context-aware mutex shared by store implementations.
type advisoryLock struct {
	sem chan struct{}
}

func newAdvisoryLock() *advisoryLock {
	return &advisoryLock{sem: make(chan struct{}, 1)}
}

func (l *advisoryLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-l.sem })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReadSnapshot reads all four collections as one logical snapshot. The
// caller must hold the advisory lock so no write interleaves mid-read.
func ReadSnapshot(ctx context.Context, s Store) (*models.RecoveryData, error) {
	cards, err := s.GetCards(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := s.GetFolders(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := s.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	return &models.RecoveryData{
		Cards:         cards,
		Folders:       folders,
		Tags:          tags,
		Settings:      settings,
		SchemaVersion: models.SchemaVersion,
	}, nil
}

// EntitiesFor returns the snapshot slice for a kind as generic entities.
func EntitiesFor(data *models.RecoveryData, kind models.EntityKind) []models.Entity {
	var out []models.Entity
	switch kind {
	case models.KindCard:
		for _, c := range data.Cards {
			out = append(out, c)
		}
	case models.KindFolder:
		for _, f := range data.Folders {
			out = append(out, f)
		}
	case models.KindTag:
		for _, t := range data.Tags {
			out = append(out, t)
		}
	case models.KindSetting:
		for _, s := range data.Settings {
			out = append(out, s)
		}
	}
	return out
}
