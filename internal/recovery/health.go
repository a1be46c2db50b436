package recovery

import (
	"time"

	"github.com/jwlin/recallbox/internal/models"
)

// HealthScore grades a point from 0 to 100. A fresh, validated, never
// failing point scores 100; age, validation failures and staleness of the
// last check pull the score down, and successful restores pull it back up.
func HealthScore(p *models.RecoveryPoint, now time.Time) float64 {
	score := 100.0

	// Age decays slowly: roughly half a point per day.
	score -= p.AgeDays(now) * 0.5

	// Every failed integrity check is a serious mark against the point.
	score -= float64(p.ValidationFailures) * 20

	// A point that has never been validated, or not in two weeks, is less
	// trustworthy than one checked recently.
	if p.LastValidatedAt == 0 {
		score -= 10
	} else if now.Sub(time.UnixMilli(p.LastValidatedAt)) > 14*24*time.Hour {
		score -= 5
	}

	// Restores that worked are direct evidence the point is usable.
	bonus := float64(p.RestoreCount) * 5
	if bonus > 20 {
		bonus = 20
	}
	score += bonus

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
