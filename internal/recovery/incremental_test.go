// Package recovery provides unit tests for incremental chains.
package recovery

import (
	"context"
	"testing"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/store"
)

// TestIncrementalCapturesDelta tests that only changed entities land in the
// child point.
func TestIncrementalCapturesDelta(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{})
	seedStore(t, st)

	full, err := m.CreateRecoveryPoint(ctx, models.PointManual, "baseline", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateRecoveryPoint failed: %v", err)
	}

	// One edit, one insert, one delete.
	st.SaveCards(ctx, []*models.Card{
		{ID: "c1", Front: "What is Go?", Back: "A compiled language", UpdatedAt: 5000},
		{ID: "c3", Front: "What is gzip?", Back: "A compressor", UpdatedAt: 6000},
	})
	st.DeleteFolders(ctx, []string{"f1"})

	inc, err := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "delta", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateIncrementalRecoveryPoint failed: %v", err)
	}

	if !inc.IsIncremental() || inc.ParentPointID != full.ID {
		t.Fatal("Expected child linked to parent")
	}
	if len(inc.Data.Cards) != 2 {
		t.Errorf("Expected 2 changed cards in delta, got %d", len(inc.Data.Cards))
	}
	if len(inc.Data.Settings) != 0 {
		t.Errorf("Expected untouched settings excluded, got %d", len(inc.Data.Settings))
	}
	if got := inc.Data.Removed[models.KindFolder]; len(got) != 1 || got[0] != "f1" {
		t.Errorf("Expected f1 recorded as removed, got %v", got)
	}

	parent, _ := m.GetRecoveryPoint(ctx, full.ID)
	if len(parent.ChildrenPointIDs) != 1 || parent.ChildrenPointIDs[0] != inc.ID {
		t.Error("Expected parent to list the child")
	}
}

// TestReconstructChain tests replaying a two-deep chain.
func TestReconstructChain(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{})
	seedStore(t, st)

	full, _ := m.CreateRecoveryPoint(ctx, models.PointManual, "baseline", CreateOptions{})

	st.SaveCards(ctx, []*models.Card{{ID: "c3", Front: "new in gen 1", UpdatedAt: 5000}})
	gen1, err := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "gen 1", CreateOptions{})
	if err != nil {
		t.Fatalf("gen1 failed: %v", err)
	}

	st.DeleteCards(ctx, []string{"c1"})
	st.SaveSettings(ctx, []*models.Setting{{Key: "theme", Value: "light", UpdatedAt: 6000}})
	gen2, err := m.CreateIncrementalRecoveryPoint(ctx, gen1.ID, models.PointAuto, "gen 2", CreateOptions{})
	if err != nil {
		t.Fatalf("gen2 failed: %v", err)
	}

	state, err := m.Reconstruct(ctx, gen2)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	ids := make(map[string]bool)
	for _, c := range state.Cards {
		ids[string(c.ID)] = true
	}
	if ids["c1"] || !ids["c2"] || !ids["c3"] {
		t.Errorf("Unexpected reconstructed cards: %v", ids)
	}
	if len(state.Settings) != 1 || state.Settings[0].Value != "light" {
		t.Errorf("Expected updated setting, got %+v", state.Settings)
	}
	if len(state.Folders) != 1 {
		t.Errorf("Expected untouched folder preserved, got %d", len(state.Folders))
	}
}

// TestChainBranches tests that one parent can anchor multiple children.
func TestChainBranches(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{})
	seedStore(t, st)

	full, _ := m.CreateRecoveryPoint(ctx, models.PointManual, "trunk", CreateOptions{})

	st.SaveCards(ctx, []*models.Card{{ID: "left", Front: "branch a", UpdatedAt: 5000}})
	left, err := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "left", CreateOptions{})
	if err != nil {
		t.Fatalf("left branch failed: %v", err)
	}

	st.DeleteCards(ctx, []string{"left"})
	st.SaveCards(ctx, []*models.Card{{ID: "right", Front: "branch b", UpdatedAt: 6000}})
	right, err := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "right", CreateOptions{})
	if err != nil {
		t.Fatalf("right branch failed: %v", err)
	}

	parent, _ := m.GetRecoveryPoint(ctx, full.ID)
	if len(parent.ChildrenPointIDs) != 2 {
		t.Fatalf("Expected 2 children, got %d", len(parent.ChildrenPointIDs))
	}

	leftState, err := m.Reconstruct(ctx, left)
	if err != nil {
		t.Fatalf("Reconstruct left failed: %v", err)
	}
	rightState, err := m.Reconstruct(ctx, right)
	if err != nil {
		t.Fatalf("Reconstruct right failed: %v", err)
	}

	if !hasCard(leftState, "left") || hasCard(leftState, "right") {
		t.Error("Left branch reconstructed wrong state")
	}
	if !hasCard(rightState, "right") || hasCard(rightState, "left") {
		t.Error("Right branch reconstructed wrong state")
	}
}

func hasCard(data *models.RecoveryData, id string) bool {
	for _, c := range data.Cards {
		if string(c.ID) == id {
			return true
		}
	}
	return false
}

// TestDeleteChainAnchorRefused tests that a parent with children stays.
func TestDeleteChainAnchorRefused(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{})
	seedStore(t, st)

	full, _ := m.CreateRecoveryPoint(ctx, models.PointManual, "anchor", CreateOptions{})
	st.SaveCards(ctx, []*models.Card{{ID: "c9", Front: "delta", UpdatedAt: 5000}})
	child, _ := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "child", CreateOptions{})

	if err := m.DeleteRecoveryPoint(ctx, full.ID); !apperrors.Is(err, apperrors.ErrChainBroken) {
		t.Fatalf("Expected CHAIN_BROKEN, got %v", err)
	}

	// Deleting the leaf first unblocks the parent.
	if err := m.DeleteRecoveryPoint(ctx, child.ID); err != nil {
		t.Fatalf("Deleting leaf failed: %v", err)
	}
	if err := m.DeleteRecoveryPoint(ctx, full.ID); err != nil {
		t.Fatalf("Deleting unblocked parent failed: %v", err)
	}
}

// TestReconstructMissingParent tests broken-chain detection.
func TestReconstructMissingParent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{})
	seedStore(t, st)

	full, _ := m.CreateRecoveryPoint(ctx, models.PointManual, "doomed parent", CreateOptions{})
	st.SaveCards(ctx, []*models.Card{{ID: "c9", Front: "delta", UpdatedAt: 5000}})
	child, _ := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "orphan", CreateOptions{})

	// Corrupt the inventory behind the manager's back.
	if err := st.DeleteState(ctx, store.StateKeyPointPrefix+string(full.ID)); err != nil {
		t.Fatalf("DeleteState failed: %v", err)
	}

	orphan, _ := m.GetRecoveryPoint(ctx, child.ID)
	if _, err := m.Reconstruct(ctx, orphan); !apperrors.Is(err, apperrors.ErrChainBroken) {
		t.Fatalf("Expected CHAIN_BROKEN, got %v", err)
	}
}

// TestRestoreFromIncremental tests restoring a reconstructed chain state.
func TestRestoreFromIncremental(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{})
	seedStore(t, st)

	full, _ := m.CreateRecoveryPoint(ctx, models.PointManual, "baseline", CreateOptions{})
	st.SaveCards(ctx, []*models.Card{{ID: "c3", Front: "added later", UpdatedAt: 5000}})
	inc, _ := m.CreateIncrementalRecoveryPoint(ctx, full.ID, models.PointAuto, "delta", CreateOptions{})

	// Wreck the live data, then restore the chain tip.
	st.DeleteCards(ctx, []string{"c1", "c2", "c3"})

	if _, err := m.RecoverFromPoint(ctx, inc.ID, RestoreOptions{SkipBackup: true}); err != nil {
		t.Fatalf("RecoverFromPoint failed: %v", err)
	}

	cards, _ := st.GetCards(ctx)
	if len(cards) != 3 {
		t.Errorf("Expected 3 cards restored, got %d", len(cards))
	}
}
