package sync

import (
	"context"
	"encoding/json"

	"github.com/jwlin/recallbox/internal/codec"
	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/store"
)

// DefaultMaxCheckpoints bounds the persisted checkpoint history.
const DefaultMaxCheckpoints = 50

// CheckpointLog is the append-only, bounded checkpoint history persisted in
// app state. One entry is written per completed sync pass.
type CheckpointLog struct {
	store store.Store
	max   int
}

// NewCheckpointLog creates a CheckpointLog bounded at max entries.
// A non-positive max falls back to DefaultMaxCheckpoints.
func NewCheckpointLog(st store.Store, max int) *CheckpointLog {
	if max <= 0 {
		max = DefaultMaxCheckpoints
	}
	return &CheckpointLog{store: st, max: max}
}

// Append persists a checkpoint, trimming the oldest entries past the cap.
func (l *CheckpointLog) Append(ctx context.Context, cp *models.SyncCheckpoint) error {
	history, err := l.List(ctx)
	if err != nil {
		return err
	}

	history = append(history, cp)
	if len(history) > l.max {
		history = history[len(history)-l.max:]
	}

	raw, err := json.Marshal(history)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode checkpoint history", err)
	}
	return l.store.PutState(ctx, store.StateKeySyncCheckpoints, raw)
}

// List returns the checkpoint history, oldest first. A never-written history
// is an empty list, not an error.
func (l *CheckpointLog) List(ctx context.Context) ([]*models.SyncCheckpoint, error) {
	raw, err := l.store.GetState(ctx, store.StateKeySyncCheckpoints)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var history []*models.SyncCheckpoint
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode checkpoint history", err)
	}
	return history, nil
}

// Latest returns the most recent checkpoint, or nil when none exist.
func (l *CheckpointLog) Latest(ctx context.Context) (*models.SyncCheckpoint, error) {
	history, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return history[len(history)-1], nil
}

// checkpointChecksum digests the operation ids covered by a checkpoint so a
// tampered or truncated history entry is detectable.
func checkpointChecksum(opIDs []models.UUID) string {
	raw, err := json.Marshal(opIDs)
	if err != nil {
		return ""
	}
	return codec.Digest(raw)
}
