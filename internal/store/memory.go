// Package store provides the in-memory entity store used by tests.
package store

import (
	"context"
	"sync"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
)

// MemoryStore implements Store with maps. Reads return copies so a caller's
// snapshot stays stable while later writes land.
type MemoryStore struct {
	mu       sync.RWMutex
	cards    map[string]*models.Card
	folders  map[string]*models.Folder
	tags     map[string]*models.Tag
	settings map[string]*models.Setting
	state    map[string][]byte
	lock     *advisoryLock

	// SaveErr, when set for a kind, makes the next save of that kind fail.
	// Test hook for write-failure paths.
	SaveErr map[models.EntityKind]error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:    make(map[string]*models.Card),
		folders:  make(map[string]*models.Folder),
		tags:     make(map[string]*models.Tag),
		settings: make(map[string]*models.Setting),
		state:    make(map[string][]byte),
		lock:     newAdvisoryLock(),
		SaveErr:  make(map[models.EntityKind]error),
	}
}

// Acquire implements Store.
func (m *MemoryStore) Acquire(ctx context.Context) (func(), error) {
	return m.lock.Acquire(ctx)
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) failFor(kind models.EntityKind) error {
	if err := m.SaveErr[kind]; err != nil {
		return apperrors.Wrap(apperrors.ErrStorageWrite, "save "+string(kind), err)
	}
	return nil
}

// GetCards implements Store.
func (m *MemoryStore) GetCards(ctx context.Context) ([]*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Card, 0, len(m.cards))
	for _, c := range m.cards {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// SaveCards implements Store.
func (m *MemoryStore) SaveCards(ctx context.Context, cards []*models.Card) error {
	if err := m.failFor(models.KindCard); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cards {
		cp := *c
		m.cards[string(c.ID)] = &cp
	}
	return nil
}

// DeleteCards implements Store.
func (m *MemoryStore) DeleteCards(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.cards, id)
	}
	return nil
}

// GetFolders implements Store.
func (m *MemoryStore) GetFolders(ctx context.Context) ([]*models.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Folder, 0, len(m.folders))
	for _, f := range m.folders {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

// SaveFolders implements Store.
func (m *MemoryStore) SaveFolders(ctx context.Context, folders []*models.Folder) error {
	if err := m.failFor(models.KindFolder); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range folders {
		cp := *f
		m.folders[string(f.ID)] = &cp
	}
	return nil
}

// DeleteFolders implements Store.
func (m *MemoryStore) DeleteFolders(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.folders, id)
	}
	return nil
}

// GetTags implements Store.
func (m *MemoryStore) GetTags(ctx context.Context) ([]*models.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Tag, 0, len(m.tags))
	for _, t := range m.tags {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

// SaveTags implements Store.
func (m *MemoryStore) SaveTags(ctx context.Context, tags []*models.Tag) error {
	if err := m.failFor(models.KindTag); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tags {
		cp := *t
		m.tags[string(t.ID)] = &cp
	}
	return nil
}

// DeleteTags implements Store.
func (m *MemoryStore) DeleteTags(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tags, id)
	}
	return nil
}

// GetSettings implements Store.
func (m *MemoryStore) GetSettings(ctx context.Context) ([]*models.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Setting, 0, len(m.settings))
	for _, s := range m.settings {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// SaveSettings implements Store.
func (m *MemoryStore) SaveSettings(ctx context.Context, settings []*models.Setting) error {
	if err := m.failFor(models.KindSetting); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range settings {
		cp := *s
		m.settings[s.Key] = &cp
	}
	return nil
}

// DeleteSettings implements Store.
func (m *MemoryStore) DeleteSettings(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.settings, id)
	}
	return nil
}

// Apply implements Store. The injected SaveErr is checked before anything
// mutates, so a failed apply leaves the collection exactly as it was.
func (m *MemoryStore) Apply(ctx context.Context, kind models.EntityKind, deletes []string, writes []models.EntityPayload) error {
	if err := m.failFor(kind); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case models.KindCard:
		for _, id := range deletes {
			delete(m.cards, id)
		}
		for _, p := range writes {
			if p.Card != nil {
				cp := *p.Card
				m.cards[string(cp.ID)] = &cp
			}
		}
	case models.KindFolder:
		for _, id := range deletes {
			delete(m.folders, id)
		}
		for _, p := range writes {
			if p.Folder != nil {
				cp := *p.Folder
				m.folders[string(cp.ID)] = &cp
			}
		}
	case models.KindTag:
		for _, id := range deletes {
			delete(m.tags, id)
		}
		for _, p := range writes {
			if p.Tag != nil {
				cp := *p.Tag
				m.tags[string(cp.ID)] = &cp
			}
		}
	case models.KindSetting:
		for _, id := range deletes {
			delete(m.settings, id)
		}
		for _, p := range writes {
			if p.Setting != nil {
				cp := *p.Setting
				m.settings[cp.Key] = &cp
			}
		}
	}
	return nil
}

// GetState implements Store.
func (m *MemoryStore) GetState(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.state[key]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "state key not found: "+key)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// PutState implements Store.
func (m *MemoryStore) PutState(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.state[key] = cp
	return nil
}

// DeleteState implements Store.
func (m *MemoryStore) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}
