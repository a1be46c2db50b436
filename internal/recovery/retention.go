package recovery

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
)

// RetentionPolicy bounds the recovery point inventory. Rules apply in a
// fixed order: age, then the size budget, then the point cap. The MinPoints
// floor overrides every other rule, and protected points, chain anchors and
// the newest point are never evicted.
type RetentionPolicy struct {
	MaxAgeDays    float64
	MinPoints     int
	MaxPoints     int
	MaxTotalBytes int64
}

// DefaultRetentionPolicy returns the shipped policy: thirty days, at least
// three points, at most fifty, within 256 MiB.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAgeDays:    30,
		MinPoints:     3,
		MaxPoints:     50,
		MaxTotalBytes: 256 * 1024 * 1024,
	}
}

func (p RetentionPolicy) isZero() bool {
	return p.MaxAgeDays == 0 && p.MinPoints == 0 && p.MaxPoints == 0 && p.MaxTotalBytes == 0
}

// RetentionReport describes one enforcement pass.
type RetentionReport struct {
	Evicted        []models.UUID `json:"evicted,omitempty"`
	ReclaimedBytes int64         `json:"reclaimed_bytes"`

	// FloorHit reports that the MinPoints floor stopped further eviction
	// even though another rule wanted more.
	FloorHit bool `json:"floor_hit"`
}

// EnforceRetention applies the retention policy and deletes what it evicts.
func (m *Manager) EnforceRetention(ctx context.Context) (*RetentionReport, error) {
	points, err := m.GetRecoveryPoints(ctx)
	if err != nil {
		return nil, err
	}

	report := &RetentionReport{}
	now := m.now()

	evictable := func(p *models.RecoveryPoint) bool {
		if p.IsProtected || len(p.ChildrenPointIDs) > 0 {
			return false
		}
		// GetRecoveryPoints is newest-first; the newest point always stays.
		return len(points) > 0 && p.ID != points[0].ID
	}

	remaining := len(points)
	evict := func(p *models.RecoveryPoint) bool {
		if remaining <= m.retention.MinPoints {
			report.FloorHit = true
			return false
		}
		if err := m.removePoint(ctx, p); err != nil {
			logging.Warn("Retention eviction failed",
				map[string]interface{}{"point_id": p.ID, "error": err.Error()})
			return false
		}
		remaining--
		report.Evicted = append(report.Evicted, p.ID)
		report.ReclaimedBytes += p.SizeBytes
		return true
	}

	evicted := make(map[models.UUID]bool)

	// Rule 1: age. Oldest first so the floor keeps the freshest survivors.
	if m.retention.MaxAgeDays > 0 {
		for i := len(points) - 1; i >= 0; i-- {
			p := points[i]
			if p.AgeDays(now) > m.retention.MaxAgeDays && evictable(p) {
				if evict(p) {
					evicted[p.ID] = true
				}
			}
		}
	}

	// Rule 2: size budget. Cheapest-to-lose first by cleanup score.
	if m.retention.MaxTotalBytes > 0 {
		total := int64(0)
		var live []*models.RecoveryPoint
		for _, p := range points {
			if !evicted[p.ID] {
				total += p.SizeBytes
				live = append(live, p)
			}
		}
		if total > m.retention.MaxTotalBytes {
			byScore := sortByCleanupScore(live, now)
			for _, p := range byScore {
				if total <= m.retention.MaxTotalBytes {
					break
				}
				if evictable(p) && evict(p) {
					evicted[p.ID] = true
					total -= p.SizeBytes
				}
			}
		}
	}

	// Rule 3: point cap. Oldest unprotected first; points is newest-first
	// so walk it backwards.
	if m.retention.MaxPoints > 0 && remaining > m.retention.MaxPoints {
		for i := len(points) - 1; i >= 0; i-- {
			p := points[i]
			if remaining <= m.retention.MaxPoints {
				break
			}
			if !evicted[p.ID] && evictable(p) && evict(p) {
				evicted[p.ID] = true
			}
		}
	}

	if report.FloorHit {
		logging.Warn("Retention rules could not all be satisfied",
			map[string]interface{}{
				"code":       string(apperrors.ErrRetentionViolation),
				"min_points": m.retention.MinPoints,
				"remaining":  remaining,
			})
		m.sink.RecordEvent("recovery.retention_violation",
			map[string]interface{}{"min_points": m.retention.MinPoints, "remaining": remaining})
	}

	if len(report.Evicted) > 0 {
		logging.Info("Retention enforced",
			map[string]interface{}{
				"evicted":   len(report.Evicted),
				"reclaimed": report.ReclaimedBytes,
			})
	}

	return report, nil
}

// CleanupScore ranks a point's worth during eviction: lower scores go
// first. Old and large points score low; high-priority, healthy and
// frequently restored points score high.
func CleanupScore(p *models.RecoveryPoint, now time.Time) float64 {
	sizeKB := float64(p.SizeBytes) / 1024.0
	return -p.AgeDays(now)*10 - sizeKB + p.Priority.PriorityBonus() +
		p.HealthScore*0.5 + float64(p.RestoreCount)*10
}

// sortByCleanupScore returns the points ordered lowest score first, with
// the point id as a deterministic tie breaker.
func sortByCleanupScore(points []*models.RecoveryPoint, now time.Time) []*models.RecoveryPoint {
	out := make([]*models.RecoveryPoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := CleanupScore(out[i], now), CleanupScore(out[j], now)
		if si != sj {
			return si < sj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
