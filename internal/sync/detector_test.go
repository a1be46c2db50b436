// Package sync provides unit tests for change detection.
package sync

import (
	"context"
	"testing"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/remote"
	"github.com/jwlin/recallbox/internal/store"
	"github.com/jwlin/recallbox/internal/sync/queue"
)

func remoteCard(id, front string, ts int64, deleted bool) models.EntityPayload {
	return models.EntityPayload{Card: &models.Card{
		ID: models.UUID(id), Front: front, Back: "back",
		UpdatedAt: ts, SyncVersion: 1, IsDeleted: deleted,
	}}
}

// TestDetectMapsRemoteChanges tests tombstone/create/update mapping.
func TestDetectMapsRemoteChanges(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	authority := remote.NewFakeAuthority()
	q := queue.NewPendingQueue(10)

	// c1 and c3 already exist locally; c2 is new.
	st.SaveCards(ctx, []*models.Card{
		{ID: "c1", Front: "old", UpdatedAt: 10},
		{ID: "c3", Front: "doomed", UpdatedAt: 10},
	})
	authority.Seed(remoteCard("c1", "updated", 100, false))
	authority.Seed(remoteCard("c2", "brand new", 200, false))
	authority.Seed(remoteCard("c3", "doomed", 300, true))

	d := NewDetector(authority, st, q)
	remoteOps, localOps, err := d.DetectChanges(ctx, 0)
	if err != nil {
		t.Fatalf("DetectChanges failed: %v", err)
	}
	if len(localOps) != 0 {
		t.Errorf("Expected no local ops, got %d", len(localOps))
	}
	if len(remoteOps) != 3 {
		t.Fatalf("Expected 3 remote ops, got %d", len(remoteOps))
	}

	kinds := make(map[string]models.OpKind)
	for _, op := range remoteOps {
		kinds[op.EntityID] = op.Kind
	}
	if kinds["c1"] != models.OpUpdate {
		t.Errorf("Expected update for c1, got %s", kinds["c1"])
	}
	if kinds["c2"] != models.OpCreate {
		t.Errorf("Expected create for c2, got %s", kinds["c2"])
	}
	if kinds["c3"] != models.OpDelete {
		t.Errorf("Expected delete for c3, got %s", kinds["c3"])
	}
}

// TestDetectHonorsMarker tests that unchanged items are filtered out.
func TestDetectHonorsMarker(t *testing.T) {
	ctx := context.Background()
	authority := remote.NewFakeAuthority()
	authority.Seed(remoteCard("c1", "old news", 100, false))
	authority.Seed(remoteCard("c2", "fresh", 500, false))

	d := NewDetector(authority, store.NewMemoryStore(), queue.NewPendingQueue(10))
	remoteOps, _, err := d.DetectChanges(ctx, 100)
	if err != nil {
		t.Fatalf("DetectChanges failed: %v", err)
	}
	if len(remoteOps) != 1 || remoteOps[0].EntityID != "c2" {
		t.Errorf("Expected only c2 past the marker, got %+v", remoteOps)
	}
}

// TestDetectFetchFailureAborts tests all-or-nothing detection.
func TestDetectFetchFailureAborts(t *testing.T) {
	ctx := context.Background()
	authority := remote.NewFakeAuthority()
	authority.Seed(remoteCard("c1", "fine", 100, false))
	authority.FetchErr[models.KindFolder] = context.DeadlineExceeded

	d := NewDetector(authority, store.NewMemoryStore(), queue.NewPendingQueue(10))
	remoteOps, localOps, err := d.DetectChanges(ctx, 0)
	if err == nil {
		t.Fatal("Expected detection to fail")
	}
	if !apperrors.Is(err, apperrors.ErrFetchFailed) {
		t.Errorf("Expected FETCH_FAILED, got %v", err)
	}
	if remoteOps != nil || localOps != nil {
		t.Error("Expected no partial results on failure")
	}
}

// TestDedupeByKey tests that the newest operation per entity survives.
func TestDedupeByKey(t *testing.T) {
	old := &models.SyncOperation{ID: "op1", EntityType: models.KindCard, EntityID: "c1", Timestamp: 100}
	newer := &models.SyncOperation{ID: "op2", EntityType: models.KindCard, EntityID: "c1", Timestamp: 200}
	other := &models.SyncOperation{ID: "op3", EntityType: models.KindCard, EntityID: "c2", Timestamp: 150}

	out := dedupeByKey([]*models.SyncOperation{old, newer, other})
	if len(out) != 2 {
		t.Fatalf("Expected 2 ops after dedupe, got %d", len(out))
	}
	if out[0].ID != "op2" {
		t.Errorf("Expected newest op for c1, got %s", out[0].ID)
	}
}
