package recovery

import (
	"context"

	"github.com/jwlin/recallbox/internal/codec"
	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/store"
)

// CreateIncrementalRecoveryPoint captures only the entities that changed
// since the parent point's reconstructed state, linking the new point as a
// child. A parent may anchor several children; chains form a tree, and
// restore walks upward to the nearest full snapshot.
func (m *Manager) CreateIncrementalRecoveryPoint(ctx context.Context, parentID models.UUID, typ models.PointType, description string, opts CreateOptions) (*models.RecoveryPoint, error) {
	parent, err := m.loadPoint(ctx, parentID)
	if err != nil {
		return nil, err
	}
	parentState, err := m.Reconstruct(ctx, parent)
	if err != nil {
		return nil, err
	}

	current, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	delta := computeDelta(parentState, current)
	point, err := m.buildPoint(typ, description, delta, opts)
	if err != nil {
		return nil, err
	}
	point.ParentPointID = parent.ID

	if err := m.persistNewPoint(ctx, point); err != nil {
		return nil, err
	}

	parent.ChildrenPointIDs = append(parent.ChildrenPointIDs, point.ID)
	if err := m.savePoint(ctx, parent); err != nil {
		return nil, err
	}

	logging.Info("Incremental recovery point created",
		map[string]interface{}{
			"point_id":  point.ID,
			"parent_id": parent.ID,
			"delta":     delta.EntityCount(),
			"removed":   len(delta.Removed),
		})

	return point, nil
}

// Reconstruct materializes the full data set a point represents. Full
// points decode directly; incremental points replay the chain of deltas on
// top of the root full snapshot. A missing ancestor or a cycle yields a
// CHAIN_BROKEN error.
func (m *Manager) Reconstruct(ctx context.Context, point *models.RecoveryPoint) (*models.RecoveryData, error) {
	chain, err := m.chainFor(ctx, point)
	if err != nil {
		return nil, err
	}

	// chain is root-first; the root must be a full snapshot.
	state, err := m.pointData(chain[0])
	if err != nil {
		return nil, err
	}
	for _, link := range chain[1:] {
		delta, err := m.pointData(link)
		if err != nil {
			return nil, err
		}
		state = applyDelta(state, delta)
	}
	state.Removed = nil
	return state, nil
}

// chainFor walks parent links upward and returns the chain root-first.
func (m *Manager) chainFor(ctx context.Context, point *models.RecoveryPoint) ([]*models.RecoveryPoint, error) {
	var chain []*models.RecoveryPoint
	seen := make(map[models.UUID]bool)

	for current := point; ; {
		if seen[current.ID] {
			return nil, apperrors.New(apperrors.ErrChainBroken,
				"recovery chain contains a cycle at "+string(current.ID))
		}
		seen[current.ID] = true
		chain = append([]*models.RecoveryPoint{current}, chain...)

		if !current.IsIncremental() {
			return chain, nil
		}
		parent, err := m.loadPoint(ctx, current.ParentPointID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.New(apperrors.ErrChainBroken,
					"recovery chain missing parent "+string(current.ParentPointID))
			}
			return nil, err
		}
		current = parent
	}
}

// computeDelta returns the entities of next that are new or changed versus
// prev, plus the ids present in prev but gone from next.
func computeDelta(prev, next *models.RecoveryData) *models.RecoveryData {
	delta := &models.RecoveryData{SchemaVersion: models.SchemaVersion}
	removed := make(map[models.EntityKind][]string)

	for _, kind := range models.Kinds() {
		prevByID := make(map[string]models.Entity)
		for _, e := range store.EntitiesFor(prev, kind) {
			prevByID[e.EntityID()] = e
		}

		nextIDs := make(map[string]bool)
		for _, e := range store.EntitiesFor(next, kind) {
			nextIDs[e.EntityID()] = true
			if old, ok := prevByID[e.EntityID()]; ok && entityEqual(old, e) {
				continue
			}
			appendEntity(delta, e)
		}

		for id := range prevByID {
			if !nextIDs[id] {
				removed[kind] = append(removed[kind], id)
			}
		}
	}

	if len(removed) > 0 {
		delta.Removed = removed
	}
	return delta
}

// applyDelta overlays a delta onto a base state: removed ids drop out,
// delta entities replace or extend the base per id.
func applyDelta(base, delta *models.RecoveryData) *models.RecoveryData {
	out := &models.RecoveryData{SchemaVersion: delta.SchemaVersion}

	for _, kind := range models.Kinds() {
		dropped := make(map[string]bool)
		for _, id := range delta.Removed[kind] {
			dropped[id] = true
		}

		replaced := make(map[string]bool)
		for _, e := range store.EntitiesFor(delta, kind) {
			replaced[e.EntityID()] = true
		}

		for _, e := range store.EntitiesFor(base, kind) {
			if dropped[e.EntityID()] || replaced[e.EntityID()] {
				continue
			}
			appendEntity(out, e)
		}
		for _, e := range store.EntitiesFor(delta, kind) {
			appendEntity(out, e)
		}
	}

	return out
}

// entityEqual compares two same-id entities via their canonical JSON.
func entityEqual(a, b models.Entity) bool {
	da, _, errA := codec.DigestJSON(a)
	db, _, errB := codec.DigestJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return da == db
}

// appendEntity places an entity into the matching collection slice.
func appendEntity(data *models.RecoveryData, e models.Entity) {
	switch v := e.(type) {
	case *models.Card:
		data.Cards = append(data.Cards, v)
	case *models.Folder:
		data.Folders = append(data.Folders, v)
	case *models.Tag:
		data.Tags = append(data.Tags, v)
	case *models.Setting:
		data.Settings = append(data.Settings, v)
	}
}
