// Package conflict provides conflict classification and deterministic
// auto-resolution for multi-device synchronization.
package conflict

import (
	"fmt"
	"time"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/uuid"
)

// ConcurrentWindowMillis is the window within which two timestamps count as
// a concurrent modification rather than a clean last-write-wins case.
const ConcurrentWindowMillis = 1000

// DefaultSimilarityThreshold marks card pairs as near-duplicates.
const DefaultSimilarityThreshold = 0.9

// Policy configures auto-resolution. The zero value is the conservative
// default: cards and settings that cannot be resolved safely stay pending.
type Policy struct {
	// PreferNewerCards resolves non-duplicate card conflicts by timestamp
	// instead of leaving them pending.
	PreferNewerCards bool

	// AutoApplyRemoteSettings lets remote setting changes win instead of
	// requiring manual resolution.
	AutoApplyRemoteSettings bool

	// SimilarityThreshold overrides DefaultSimilarityThreshold when > 0.
	SimilarityThreshold float64
}

// Resolver classifies conflicts and proposes resolutions. Given the same
// operation pair and policy it always produces the same answer.
type Resolver struct {
	policy Policy
}

// NewResolver creates a Resolver with the given policy.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

func (r *Resolver) threshold() float64 {
	if r.policy.SimilarityThreshold > 0 {
		return r.policy.SimilarityThreshold
	}
	return DefaultSimilarityThreshold
}

// Classify compares a local and remote operation on the same entity and
// returns the detected conflict, or nil when the pair does not conflict.
// Rules apply in priority order: tombstone disagreement, then the
// concurrent-modification window, then sync-version mismatch.
func (r *Resolver) Classify(local, remote *models.SyncOperation) *models.Conflict {
	if local == nil || remote == nil {
		return nil
	}
	if local.Key() != remote.Key() {
		return nil
	}

	var conflictType models.ConflictType
	var severity models.Severity

	diff := local.Timestamp - remote.Timestamp
	if diff < 0 {
		diff = -diff
	}

	switch {
	case local.Tombstoned() != remote.Tombstoned():
		conflictType = models.ConflictDelete
		severity = models.SeverityHigh
	case diff < ConcurrentWindowMillis:
		conflictType = models.ConflictConcurrentModification
		severity = models.SeverityMedium
	case local.SyncVersion != remote.SyncVersion:
		conflictType = models.ConflictVersionMismatch
		severity = models.SeverityLow
	default:
		return nil
	}

	c := &models.Conflict{
		ID:           models.UUID(uuid.New()),
		EntityID:     local.EntityID,
		EntityType:   local.EntityType,
		LocalData:    local.Payload,
		RemoteData:   remote.Payload,
		ConflictType: conflictType,
		Severity:     severity,
		Resolution:   models.ResolutionPending,
		DetectedAt:   time.Now().UnixMilli(),
	}

	logging.Warn("Conflict detected",
		map[string]interface{}{
			"entity_type":   c.EntityType,
			"entity_id":     c.EntityID,
			"conflict_type": c.ConflictType,
			"local_ts":      local.Timestamp,
			"remote_ts":     remote.Timestamp,
		})

	return c
}

// Propose fills in Resolution, AutoResolved, Confidence and Reasoning.
// It is total: every conflict gets an answer, where "pending" is the answer
// for cases that need a human.
func (r *Resolver) Propose(c *models.Conflict) *models.Conflict {
	if c.ConflictType == models.ConflictDelete {
		return r.proposeDelete(c)
	}

	switch c.EntityType {
	case models.KindCard:
		return r.proposeCard(c)
	case models.KindFolder, models.KindTag:
		return r.proposeLastWriteWins(c)
	case models.KindSetting:
		return r.proposeSetting(c)
	}

	// Unknown kinds never reach here; payloads are a closed union.
	c.Resolution = models.ResolutionPending
	c.Reasoning = "unrecognized entity kind"
	return c
}

// proposeDelete resolves delete conflicts: a delete always wins over a
// content change, regardless of timestamps.
func (r *Resolver) proposeDelete(c *models.Conflict) *models.Conflict {
	localDeleted := payloadTombstoned(c.LocalData)

	if localDeleted {
		c.Resolution = models.ResolutionLocalWins
		c.Reasoning = "local delete wins over remote content change"
	} else {
		c.Resolution = models.ResolutionCloudWins
		c.Reasoning = "remote delete wins over local content change"
	}
	c.AutoResolved = true
	c.Confidence = 0.95

	r.logResolution(c)
	return c
}

// proposeCard resolves card conflicts by content similarity first. Cards
// that read the same are safe to collapse toward the cloud copy; genuinely
// divergent cards need a human unless the policy opts into timestamps.
func (r *Resolver) proposeCard(c *models.Conflict) *models.Conflict {
	similarity := CardSimilarity(c.LocalData.Card, c.RemoteData.Card)

	if similarity >= r.threshold() {
		c.Resolution = models.ResolutionCloudWins
		c.AutoResolved = true
		c.Confidence = similarity
		c.Reasoning = fmt.Sprintf("near-duplicate content (similarity %.2f)", similarity)
		r.logResolution(c)
		return c
	}

	if r.policy.PreferNewerCards {
		resolveByTimestamp(c)
		c.Confidence = 0.7
		c.Reasoning = fmt.Sprintf("divergent content (similarity %.2f), newer-card policy applied", similarity)
		r.logResolution(c)
		return c
	}

	c.Resolution = models.ResolutionPending
	c.AutoResolved = false
	c.Confidence = 0
	c.Reasoning = fmt.Sprintf("divergent content (similarity %.2f), manual resolution required", similarity)
	r.logResolution(c)
	return c
}

// proposeLastWriteWins resolves folders and tags by modification time, with
// exact ties breaking toward the cloud copy.
func (r *Resolver) proposeLastWriteWins(c *models.Conflict) *models.Conflict {
	resolveByTimestamp(c)
	c.Confidence = 0.8
	if c.Resolution == models.ResolutionCloudWins {
		c.Reasoning = "remote copy is newer (last-write-wins)"
	} else {
		c.Reasoning = "local copy is newer (last-write-wins)"
	}
	r.logResolution(c)
	return c
}

// proposeSetting resolves setting conflicts. Settings never merge; without
// the auto-apply policy they always wait for the user.
func (r *Resolver) proposeSetting(c *models.Conflict) *models.Conflict {
	if r.policy.AutoApplyRemoteSettings {
		c.Resolution = models.ResolutionCloudWins
		c.AutoResolved = true
		c.Confidence = 0.9
		c.Reasoning = "auto-apply-remote policy enabled for settings"
		r.logResolution(c)
		return c
	}

	c.Resolution = models.ResolutionPending
	c.AutoResolved = false
	c.Confidence = 0
	c.Reasoning = "settings require manual resolution"
	r.logResolution(c)
	return c
}

// ValidateResolution rejects resolutions that are never legal for the
// entity kind. Merge is not defined for settings.
func (r *Resolver) ValidateResolution(c *models.Conflict, resolution models.Resolution) error {
	if c.EntityType == models.KindSetting && resolution == models.ResolutionMerge {
		return apperrors.New(apperrors.ErrConflictUnresolved,
			"merge resolution is not supported for settings")
	}
	return nil
}

// resolveByTimestamp applies last-write-wins using the payload updatedAt,
// ties toward the cloud copy.
func resolveByTimestamp(c *models.Conflict) {
	localTS := payloadModified(c.LocalData)
	remoteTS := payloadModified(c.RemoteData)

	if remoteTS >= localTS {
		c.Resolution = models.ResolutionCloudWins
	} else {
		c.Resolution = models.ResolutionLocalWins
	}
	c.AutoResolved = true
}

func payloadTombstoned(p models.EntityPayload) bool {
	if e := p.Entity(); e != nil {
		return e.Tombstoned()
	}
	return false
}

func payloadModified(p models.EntityPayload) int64 {
	if e := p.Entity(); e != nil {
		return e.Modified()
	}
	return 0
}

func (r *Resolver) logResolution(c *models.Conflict) {
	logging.Info("Conflict resolution proposed",
		map[string]interface{}{
			"entity_type":   c.EntityType,
			"entity_id":     c.EntityID,
			"conflict_type": c.ConflictType,
			"resolution":    c.Resolution,
			"auto_resolved": c.AutoResolved,
			"confidence":    c.Confidence,
		})
}
