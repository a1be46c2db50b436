// Package store provides unit tests for both store implementations.
package store

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
)

// openStores returns one of each Store implementation for shared tests.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open sqlite store failed: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

// TestCardRoundTrip tests save/get/delete for cards on both backends.
func TestCardRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			card := &models.Card{
				ID:          "card-1",
				Front:       "What is the capital of France?",
				Back:        "Paris",
				UpdatedAt:   time.Now().UnixMilli(),
				SyncVersion: 3,
			}

			if err := s.SaveCards(ctx, []*models.Card{card}); err != nil {
				t.Fatalf("SaveCards failed: %v", err)
			}

			cards, err := s.GetCards(ctx)
			if err != nil {
				t.Fatalf("GetCards failed: %v", err)
			}
			if len(cards) != 1 {
				t.Fatalf("Expected 1 card, got %d", len(cards))
			}
			if cards[0].Front != card.Front || cards[0].SyncVersion != 3 {
				t.Errorf("Card round trip mismatch: %+v", cards[0])
			}

			// Upsert overwrites
			card.Back = "Paris, France"
			if err := s.SaveCards(ctx, []*models.Card{card}); err != nil {
				t.Fatalf("SaveCards upsert failed: %v", err)
			}
			cards, _ = s.GetCards(ctx)
			if len(cards) != 1 || cards[0].Back != "Paris, France" {
				t.Errorf("Expected upsert to overwrite, got %+v", cards)
			}

			if err := s.DeleteCards(ctx, []string{"card-1"}); err != nil {
				t.Fatalf("DeleteCards failed: %v", err)
			}
			cards, _ = s.GetCards(ctx)
			if len(cards) != 0 {
				t.Errorf("Expected empty after delete, got %d", len(cards))
			}
		})
	}
}

// TestSettingsKeyedByName tests that settings use the key as identity.
func TestSettingsKeyedByName(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.SaveSettings(ctx, []*models.Setting{
				{Key: "theme", Value: "dark", UpdatedAt: 100},
				{Key: "theme", Value: "light", UpdatedAt: 200},
			}); err != nil {
				t.Fatalf("SaveSettings failed: %v", err)
			}

			settings, err := s.GetSettings(ctx)
			if err != nil {
				t.Fatalf("GetSettings failed: %v", err)
			}
			if len(settings) != 1 {
				t.Fatalf("Expected 1 setting, got %d", len(settings))
			}
			if settings[0].Value != "light" {
				t.Errorf("Expected later write to win, got %q", settings[0].Value)
			}
		})
	}
}

// TestStateRoundTrip tests namespaced state persistence.
func TestStateRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.GetState(ctx, StateKeySyncMarker); !apperrors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("Expected NOT_FOUND for unwritten key, got %v", err)
			}

			if err := s.PutState(ctx, StateKeySyncMarker, []byte("12345")); err != nil {
				t.Fatalf("PutState failed: %v", err)
			}

			value, err := s.GetState(ctx, StateKeySyncMarker)
			if err != nil {
				t.Fatalf("GetState failed: %v", err)
			}
			if string(value) != "12345" {
				t.Errorf("Expected 12345, got %q", value)
			}

			// Overwrite
			if err := s.PutState(ctx, StateKeySyncMarker, []byte("67890")); err != nil {
				t.Fatalf("PutState overwrite failed: %v", err)
			}
			value, _ = s.GetState(ctx, StateKeySyncMarker)
			if string(value) != "67890" {
				t.Errorf("Expected overwrite, got %q", value)
			}

			if err := s.DeleteState(ctx, StateKeySyncMarker); err != nil {
				t.Fatalf("DeleteState failed: %v", err)
			}
			if _, err := s.GetState(ctx, StateKeySyncMarker); !apperrors.Is(err, apperrors.ErrNotFound) {
				t.Errorf("Expected NOT_FOUND after delete, got %v", err)
			}
		})
	}
}

// TestApplyDeletesAndWritesTogether tests the combined collection write on
// both backends: deletes land before upserts, in one shot.
func TestApplyDeletesAndWritesTogether(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s.SaveCards(ctx, []*models.Card{
				{ID: "stale", Front: "gone soon", UpdatedAt: 100},
				{ID: "kept", Front: "stays", UpdatedAt: 100},
			})

			err := s.Apply(ctx, models.KindCard,
				[]string{"stale"},
				[]models.EntityPayload{
					{Card: &models.Card{ID: "kept", Front: "updated", UpdatedAt: 200}},
					{Card: &models.Card{ID: "fresh", Front: "brand new", UpdatedAt: 200}},
				})
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}

			cards, _ := s.GetCards(ctx)
			byID := make(map[string]*models.Card)
			for _, c := range cards {
				byID[string(c.ID)] = c
			}
			if len(cards) != 2 || byID["stale"] != nil {
				t.Fatalf("Expected stale card removed, got %+v", cards)
			}
			if byID["kept"] == nil || byID["kept"].Front != "updated" {
				t.Errorf("Expected kept card updated, got %+v", byID["kept"])
			}
			if byID["fresh"] == nil {
				t.Error("Expected fresh card written")
			}
		})
	}
}

// TestApplyFailureMutatesNothing tests that a refused write leaves the
// collection untouched, deletes included.
func TestApplyFailureMutatesNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SaveCards(ctx, []*models.Card{{ID: "survivor", Front: "here", UpdatedAt: 100}})
	s.SaveErr[models.KindCard] = apperrors.New(apperrors.ErrStorageWrite, "refused")

	err := s.Apply(ctx, models.KindCard,
		[]string{"survivor"},
		[]models.EntityPayload{{Card: &models.Card{ID: "new", Front: "never lands"}}})
	if err == nil {
		t.Fatal("Expected Apply to fail")
	}

	cards, _ := s.GetCards(ctx)
	if len(cards) != 1 || string(cards[0].ID) != "survivor" {
		t.Errorf("Expected collection untouched by failed apply, got %+v", cards)
	}
}

// TestAdvisoryLockExclusive tests that the lock admits one holder at a time.
func TestAdvisoryLockExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	release, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Second acquire must block until release; give it a short deadline.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(shortCtx); err == nil {
		t.Fatal("Expected second Acquire to block and time out")
	}

	release()
	release() // idempotent

	release2, err := s.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release2()
}

// TestReadSnapshotCoversAllCollections tests the logical snapshot read.
func TestReadSnapshotCoversAllCollections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SaveCards(ctx, []*models.Card{{ID: "c1", Front: "q"}})
	s.SaveFolders(ctx, []*models.Folder{{ID: "f1", Name: "Deck"}})
	s.SaveTags(ctx, []*models.Tag{{ID: "t1", Name: "math"}})
	s.SaveSettings(ctx, []*models.Setting{{Key: "theme", Value: "dark"}})

	data, err := ReadSnapshot(ctx, s)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}

	if data.EntityCount() != 4 {
		t.Errorf("Expected 4 entities, got %d", data.EntityCount())
	}
	if data.SchemaVersion != models.SchemaVersion {
		t.Errorf("Expected schema version %d, got %d", models.SchemaVersion, data.SchemaVersion)
	}
}

// TestMemoryStoreSnapshotStability tests that reads are stable copies.
func TestMemoryStoreSnapshotStability(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SaveCards(ctx, []*models.Card{{ID: "c1", Front: "original"}})

	cards, _ := s.GetCards(ctx)
	s.SaveCards(ctx, []*models.Card{{ID: "c1", Front: "changed"}})

	if cards[0].Front != "original" {
		t.Error("Expected earlier read to be unaffected by later write")
	}
}
