// Package remote provides the in-memory authority fake used by tests.
package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/jwlin/recallbox/internal/models"
)

// FakeAuthority implements Authority in memory. It mimics the real service:
// upserts bump a monotonic per-entity sync version and stamp the server
// modification time used by changed-since feeds.
type FakeAuthority struct {
	mu    sync.Mutex
	items map[models.EntityKind]map[string]models.EntityPayload

	// FetchErr, when set for a kind, fails fetches of that kind.
	FetchErr map[models.EntityKind]error

	// UpsertFailures fails that many upserts before succeeding again.
	// Exercises the coordinator's bounded retry path.
	UpsertFailures int
	UpsertErr      error

	upsertCalls int
	fetchCalls  int
}

// NewFakeAuthority creates an empty FakeAuthority.
func NewFakeAuthority() *FakeAuthority {
	items := make(map[models.EntityKind]map[string]models.EntityPayload)
	for _, kind := range models.Kinds() {
		items[kind] = make(map[string]models.EntityPayload)
	}
	return &FakeAuthority{
		items:    items,
		FetchErr: make(map[models.EntityKind]error),
	}
}

// Seed places an item on the authority without bumping its version,
// as if another device had already uploaded it.
func (f *FakeAuthority) Seed(p models.EntityPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := p.Entity()
	if e == nil {
		return
	}
	f.items[e.Kind()][e.EntityID()] = p
}

// Get returns the stored payload for an entity, if any.
func (f *FakeAuthority) Get(kind models.EntityKind, id string) (models.EntityPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[kind][id]
	return p, ok
}

// FetchCalls returns how many fetches were served.
func (f *FakeAuthority) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// UpsertCalls returns how many upserts were attempted.
func (f *FakeAuthority) UpsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

// FetchChangedSince implements Authority.
func (f *FakeAuthority) FetchChangedSince(ctx context.Context, kind models.EntityKind, since int64) ([]models.EntityPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++
	if err := f.FetchErr[kind]; err != nil {
		return nil, err
	}

	var out []models.EntityPayload
	for _, p := range f.items[kind] {
		if e := p.Entity(); e != nil && e.Modified() > since {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Entity().Modified() < out[j].Entity().Modified()
	})

	return out, nil
}

// Upsert implements Authority.
func (f *FakeAuthority) Upsert(ctx context.Context, kind models.EntityKind, items []models.EntityPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.upsertCalls++
	if f.UpsertFailures > 0 {
		f.UpsertFailures--
		if f.UpsertErr != nil {
			return f.UpsertErr
		}
		return context.DeadlineExceeded
	}

	for _, p := range items {
		e := p.Entity()
		if e == nil {
			continue
		}
		stored := bumpVersion(p)
		f.items[kind][e.EntityID()] = stored
	}

	return nil
}

// bumpVersion returns a copy of the payload with SyncVersion incremented,
// the way the real authority stamps accepted writes.
func bumpVersion(p models.EntityPayload) models.EntityPayload {
	switch {
	case p.Card != nil:
		c := *p.Card
		c.SyncVersion++
		return models.EntityPayload{Card: &c}
	case p.Folder != nil:
		fo := *p.Folder
		fo.SyncVersion++
		return models.EntityPayload{Folder: &fo}
	case p.Tag != nil:
		t := *p.Tag
		t.SyncVersion++
		return models.EntityPayload{Tag: &t}
	case p.Setting != nil:
		s := *p.Setting
		s.SyncVersion++
		return models.EntityPayload{Setting: &s}
	}
	return p
}
