// Package recovery provides unit tests for retention enforcement.
package recovery

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/store"
	"github.com/jwlin/recallbox/internal/telemetry"
)

func timeNowFixed() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

// makeAgedPoint persists a point stamped as if taken daysAgo days in the
// past. It bypasses CreateRecoveryPoint so setup never races the retention
// pass it would trigger.
func makeAgedPoint(t *testing.T, m *Manager, st *store.MemoryStore, daysAgo float64, opts CreateOptions) *models.RecoveryPoint {
	t.Helper()
	ctx := context.Background()

	m.now = func() time.Time {
		return timeNowFixed().Add(-time.Duration(daysAgo * 24 * float64(time.Hour)))
	}
	defer func() { m.now = timeNowFixed }()

	data, err := m.snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	point, err := m.buildPoint(models.PointManual, "aged", data, opts)
	if err != nil {
		t.Fatalf("buildPoint failed: %v", err)
	}
	if err := m.persistNewPoint(ctx, point); err != nil {
		t.Fatalf("persistNewPoint failed: %v", err)
	}
	return point
}

// TestRetentionAgeRuleWithFloor tests that expired points go but the
// MinPoints floor holds: of points aged 40, 20 and 1 days under a 30 day
// limit with a floor of two, only the 40 day point is evicted.
func TestRetentionAgeRuleWithFloor(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 30, MinPoints: 2, MaxPoints: 50, MaxTotalBytes: 1 << 30,
	}})
	seedStore(t, st)

	old := makeAgedPoint(t, m, st, 40, CreateOptions{})
	mid := makeAgedPoint(t, m, st, 20, CreateOptions{})
	fresh := makeAgedPoint(t, m, st, 1, CreateOptions{})

	report, err := m.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	if len(report.Evicted) != 1 || report.Evicted[0] != old.ID {
		t.Fatalf("Expected only the 40-day point evicted, got %v", report.Evicted)
	}

	remaining, _ := m.GetRecoveryPoints(ctx)
	if len(remaining) != 2 {
		t.Fatalf("Expected 2 survivors, got %d", len(remaining))
	}
	for _, p := range remaining {
		if p.ID != mid.ID && p.ID != fresh.ID {
			t.Errorf("Unexpected survivor %s", p.ID)
		}
	}
}

// TestRetentionFloorBeatsAgeRule tests that MinPoints overrides expiry even
// when every point is past the age limit.
func TestRetentionFloorBeatsAgeRule(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 30, MinPoints: 2, MaxPoints: 50, MaxTotalBytes: 1 << 30,
	}})
	seedStore(t, st)

	makeAgedPoint(t, m, st, 40, CreateOptions{})
	makeAgedPoint(t, m, st, 35, CreateOptions{})
	makeAgedPoint(t, m, st, 33, CreateOptions{})

	report, err := m.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	if len(report.Evicted) != 1 {
		t.Fatalf("Expected exactly 1 eviction before the floor, got %d", len(report.Evicted))
	}
	if !report.FloorHit {
		t.Error("Expected the floor to be reported")
	}

	remaining, _ := m.GetRecoveryPoints(ctx)
	if len(remaining) != 2 {
		t.Errorf("Expected the floor to hold 2 points, got %d", len(remaining))
	}
}

// TestRetentionProtectedSurvives tests that protection trumps expiry.
func TestRetentionProtectedSurvives(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 30, MinPoints: 1, MaxPoints: 50, MaxTotalBytes: 1 << 30,
	}})
	seedStore(t, st)

	ancient := makeAgedPoint(t, m, st, 90, CreateOptions{})
	makeAgedPoint(t, m, st, 1, CreateOptions{})
	if err := m.Protect(ctx, ancient.ID); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	if _, err := m.EnforceRetention(ctx); err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	if _, err := m.GetRecoveryPoint(ctx, ancient.ID); err != nil {
		t.Errorf("Expected protected point to survive, got %v", err)
	}
}

// TestRetentionSizeBudget tests score-ordered eviction under a byte budget:
// the low-priority point goes before the critical one of the same age.
func TestRetentionSizeBudget(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 0, MinPoints: 1, MaxPoints: 50, MaxTotalBytes: 1, // everything over budget
	}})
	seedStore(t, st)

	low := makeAgedPoint(t, m, st, 5, CreateOptions{Priority: models.PointPriorityLow})
	critical := makeAgedPoint(t, m, st, 5, CreateOptions{Priority: models.PointPriorityCritical})
	makeAgedPoint(t, m, st, 1, CreateOptions{})

	report, err := m.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	if len(report.Evicted) == 0 || report.Evicted[0] != low.ID {
		t.Fatalf("Expected the low-priority point evicted first, got %v", report.Evicted)
	}
	if report.ReclaimedBytes == 0 {
		t.Error("Expected reclaimed bytes reported")
	}

	// Floor of one plus the always-kept newest point: critical may go too,
	// but never before low did.
	for _, id := range report.Evicted[1:] {
		if id == low.ID {
			t.Error("Low point evicted twice")
		}
	}
	_ = critical
}

// TestRetentionMaxPointsCap tests the inventory cap.
func TestRetentionMaxPointsCap(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 0, MinPoints: 1, MaxPoints: 2, MaxTotalBytes: 1 << 30,
	}})
	seedStore(t, st)

	for days := 4.0; days >= 1; days-- {
		makeAgedPoint(t, m, st, days, CreateOptions{})
	}

	if _, err := m.EnforceRetention(ctx); err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	remaining, _ := m.GetRecoveryPoints(ctx)
	if len(remaining) != 2 {
		t.Fatalf("Expected cap of 2, got %d", len(remaining))
	}
	// The survivors are the freshest two.
	if remaining[0].AgeDays(timeNowFixed()) > 1.5 || remaining[1].AgeDays(timeNowFixed()) > 2.5 {
		t.Errorf("Expected the freshest points kept, got ages %.1f and %.1f",
			remaining[0].AgeDays(timeNowFixed()), remaining[1].AgeDays(timeNowFixed()))
	}
}

// TestRetentionCapEvictsOldestFirst tests that the point cap works through
// age, not cleanup score: the oldest unprotected point goes first even when
// its score says it is the most valuable.
func TestRetentionCapEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 0, MinPoints: 1, MaxPoints: 2, MaxTotalBytes: 1 << 30,
	}})
	seedStore(t, st)

	oldest := makeAgedPoint(t, m, st, 4, CreateOptions{Priority: models.PointPriorityCritical})
	mid := makeAgedPoint(t, m, st, 3, CreateOptions{Priority: models.PointPriorityLow})
	fresh := makeAgedPoint(t, m, st, 1, CreateOptions{})

	report, err := m.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	if len(report.Evicted) != 1 || report.Evicted[0] != oldest.ID {
		t.Fatalf("Expected the oldest point evicted, got %v", report.Evicted)
	}

	remaining, _ := m.GetRecoveryPoints(ctx)
	if len(remaining) != 2 {
		t.Fatalf("Expected 2 survivors, got %d", len(remaining))
	}
	for _, p := range remaining {
		if p.ID != mid.ID && p.ID != fresh.ID {
			t.Errorf("Unexpected survivor %s", p.ID)
		}
	}
}

// TestRetentionFloorHitRecordsViolation tests that a policy the rules cannot
// fully satisfy is surfaced instead of passing silently.
func TestRetentionFloorHitRecordsViolation(t *testing.T) {
	ctx := context.Background()
	sink := telemetry.NewMemorySink()
	m, st := newTestManager(Options{
		Retention: RetentionPolicy{
			MaxAgeDays: 30, MinPoints: 2, MaxPoints: 50, MaxTotalBytes: 1 << 30,
		},
		Sink: sink,
	})
	seedStore(t, st)

	makeAgedPoint(t, m, st, 40, CreateOptions{})
	makeAgedPoint(t, m, st, 35, CreateOptions{})
	makeAgedPoint(t, m, st, 33, CreateOptions{})

	report, err := m.EnforceRetention(ctx)
	if err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}
	if !report.FloorHit {
		t.Fatal("Expected the floor to be reported")
	}

	found := false
	for _, ev := range sink.Events() {
		if ev.Name == "recovery.retention_violation" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a retention violation recorded when the floor stops eviction")
	}
}

// TestRetentionChainAnchorSurvives tests that a parent with children is
// never evicted.
func TestRetentionChainAnchorSurvives(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(Options{Retention: RetentionPolicy{
		MaxAgeDays: 30, MinPoints: 1, MaxPoints: 50, MaxTotalBytes: 1 << 30,
	}})
	seedStore(t, st)

	anchor := makeAgedPoint(t, m, st, 60, CreateOptions{})

	st.SaveCards(ctx, []*models.Card{{ID: "c9", Front: "delta", UpdatedAt: 5000}})
	m.now = timeNowFixed
	if _, err := m.CreateIncrementalRecoveryPoint(ctx, anchor.ID, models.PointAuto, "child", CreateOptions{}); err != nil {
		t.Fatalf("CreateIncrementalRecoveryPoint failed: %v", err)
	}

	if _, err := m.EnforceRetention(ctx); err != nil {
		t.Fatalf("EnforceRetention failed: %v", err)
	}

	if _, err := m.GetRecoveryPoint(ctx, anchor.ID); err != nil {
		t.Errorf("Expected chain anchor to survive expiry, got %v", err)
	}
}

// TestCleanupScoreFormula tests the scoring terms.
func TestCleanupScoreFormula(t *testing.T) {
	now := timeNowFixed()

	p := &models.RecoveryPoint{
		Timestamp:    now.Add(-10 * 24 * time.Hour).UnixMilli(),
		SizeBytes:    100 * 1024,
		Priority:     models.PointPriorityNormal,
		HealthScore:  50,
		RestoreCount: 0,
	}
	// -10*10 - 100 + 0 + 25 + 0
	if got := CleanupScore(p, now); math.Abs(got-(-175)) > 0.01 {
		t.Errorf("Expected score -175, got %.2f", got)
	}

	p.Priority = models.PointPriorityCritical
	p.RestoreCount = 2
	// -100 - 100 + 100 + 25 + 20
	if got := CleanupScore(p, now); math.Abs(got-(-55)) > 0.01 {
		t.Errorf("Expected score -55, got %.2f", got)
	}
}
