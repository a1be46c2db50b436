// Package sync implements the incremental synchronization engine: change
// detection against the remote authority, conflict matching, ordered apply
// and upload phases, and checkpointing.
package sync

import (
	"context"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/remote"
	"github.com/jwlin/recallbox/internal/store"
	"github.com/jwlin/recallbox/internal/sync/queue"
	"github.com/jwlin/recallbox/internal/uuid"
)

// Detector computes the two operation sets of one sync pass: remote changes
// since the last marker, and ready local operations from the pending queue.
type Detector struct {
	authority remote.Authority
	store     store.Store
	queue     *queue.PendingQueue
}

// NewDetector creates a Detector.
func NewDetector(authority remote.Authority, st store.Store, q *queue.PendingQueue) *Detector {
	return &Detector{authority: authority, store: st, queue: q}
}

// DetectChanges fetches the changed-since feed for every collection and
// snapshots ready local operations. Any fetch failure aborts the whole call;
// a partial picture of the remote state must never drive an apply phase.
func (d *Detector) DetectChanges(ctx context.Context, since int64) (remoteOps, localOps []*models.SyncOperation, err error) {
	existing, err := d.localIDs(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, kind := range models.Kinds() {
		payloads, ferr := d.authority.FetchChangedSince(ctx, kind, since)
		if ferr != nil {
			return nil, nil, apperrors.Wrap(apperrors.ErrFetchFailed,
				"failed to fetch remote changes for "+string(kind), ferr)
		}
		for _, p := range payloads {
			if op := remoteOpFor(p, existing); op != nil {
				remoteOps = append(remoteOps, op)
			}
		}
	}

	remoteOps = dedupeByKey(remoteOps)
	localOps = d.queue.Pending()

	logging.Debug("Change detection complete",
		map[string]interface{}{
			"since":      since,
			"remote_ops": len(remoteOps),
			"local_ops":  len(localOps),
		})

	return remoteOps, localOps, nil
}

// localIDs reads the ids currently present in each local collection, used to
// distinguish remote creates from updates.
func (d *Detector) localIDs(ctx context.Context) (map[models.EntityKey]bool, error) {
	release, err := d.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := store.ReadSnapshot(ctx, d.store)
	if err != nil {
		return nil, err
	}

	existing := make(map[models.EntityKey]bool)
	for _, kind := range models.Kinds() {
		for _, e := range store.EntitiesFor(data, kind) {
			existing[models.EntityKey{Type: kind, ID: e.EntityID()}] = true
		}
	}
	return existing, nil
}

// remoteOpFor maps a remote payload onto an operation. Tombstones become
// deletes; everything else is a create or update depending on whether the
// entity already exists locally.
func remoteOpFor(p models.EntityPayload, existing map[models.EntityKey]bool) *models.SyncOperation {
	e := p.Entity()
	if e == nil {
		return nil
	}

	kind := models.OpUpdate
	switch {
	case e.Tombstoned():
		kind = models.OpDelete
	case !existing[models.EntityKey{Type: e.Kind(), ID: e.EntityID()}]:
		kind = models.OpCreate
	}

	return &models.SyncOperation{
		ID:          models.UUID(uuid.New()),
		Kind:        kind,
		EntityType:  e.Kind(),
		EntityID:    e.EntityID(),
		Payload:     p,
		Timestamp:   e.Modified(),
		Priority:    models.PriorityMedium,
		SyncVersion: e.Version(),
	}
}

// dedupeByKey keeps the newest operation per entity. The per-kind feeds are
// ordered ascending, so later entries supersede earlier ones.
func dedupeByKey(ops []*models.SyncOperation) []*models.SyncOperation {
	latest := make(map[models.EntityKey]int, len(ops))
	var out []*models.SyncOperation
	for _, op := range ops {
		if idx, ok := latest[op.Key()]; ok {
			if op.Timestamp >= out[idx].Timestamp {
				out[idx] = op
			}
			continue
		}
		latest[op.Key()] = len(out)
		out = append(out, op)
	}
	return out
}
