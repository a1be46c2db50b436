package sync

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jwlin/recallbox/internal/codec"
	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/remote"
	"github.com/jwlin/recallbox/internal/store"
	syncconflict "github.com/jwlin/recallbox/internal/sync/conflict"
	"github.com/jwlin/recallbox/internal/sync/queue"
	"github.com/jwlin/recallbox/internal/telemetry"
	"github.com/jwlin/recallbox/internal/uuid"
)

// State represents the coordinator's phase within a sync pass.
type State string

const (
	StateIdle          State = "idle"
	StateDetecting     State = "detecting"
	StateResolving     State = "resolving"
	StateApplying      State = "applying"
	StateUploading     State = "uploading"
	StateCheckpointing State = "checkpointing"
	StateAborted       State = "aborted"
)

// DefaultQueueSize bounds the pending-operation queue.
const DefaultQueueSize = 1000

// SyncResult summarizes one sync pass.
type SyncResult struct {
	ProcessedCount int                `json:"processed_count"`
	FailedCount    int                `json:"failed_count"`
	Conflicts      []*models.Conflict `json:"conflicts,omitempty"`
	Errors         []string           `json:"errors,omitempty"`
	DurationMs     int64              `json:"duration_ms"`
	SyncedAt       int64              `json:"synced_at"`
}

// Status is a point-in-time view of the coordinator for the UI surface.
type Status struct {
	State        State          `json:"state"`
	LastSyncedAt int64          `json:"last_synced_at"`
	LastResult   *SyncResult    `json:"last_result,omitempty"`
	QueueStats   map[string]int `json:"queue_stats"`
}

// syncMarker is the persisted high-water mark of applied remote changes.
type syncMarker struct {
	LastSyncedAt int64 `json:"last_synced_at"`
}

// inflight shares one running pass between concurrent Sync callers.
type inflight struct {
	done   chan struct{}
	result *SyncResult
	err    error
}

// Coordinator drives incremental sync passes. At most one pass runs at a
// time; concurrent callers join the in-flight pass and share its result.
type Coordinator struct {
	store       store.Store
	authority   remote.Authority
	queue       *queue.PendingQueue
	detector    *Detector
	resolver    *syncconflict.Resolver
	checkpoints *CheckpointLog
	sink        telemetry.Sink

	mu         sync.Mutex
	state      State
	current    *inflight
	lastResult *SyncResult
}

// NewCoordinator wires a Coordinator from its collaborators. A nil sink
// falls back to the no-op sink.
func NewCoordinator(st store.Store, authority remote.Authority, q *queue.PendingQueue, policy syncconflict.Policy, sink telemetry.Sink) *Coordinator {
	if q == nil {
		q = queue.NewPendingQueue(DefaultQueueSize)
	}
	if sink == nil {
		sink = telemetry.Noop()
	}
	return &Coordinator{
		store:       st,
		authority:   authority,
		queue:       q,
		detector:    NewDetector(authority, st, q),
		resolver:    syncconflict.NewResolver(policy),
		checkpoints: NewCheckpointLog(st, DefaultMaxCheckpoints),
		sink:        sink,
		state:       StateIdle,
	}
}

// Queue exposes the pending-operation queue so the host can enqueue local
// mutations and inspect retry state.
func (c *Coordinator) Queue() *queue.PendingQueue {
	return c.queue
}

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for the UI surface.
func (c *Coordinator) Status(ctx context.Context) *Status {
	marker, _ := c.loadMarker(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	return &Status{
		State:        c.state,
		LastSyncedAt: marker,
		LastResult:   c.lastResult,
		QueueStats:   c.queue.Stats(),
	}
}

// Sync runs one full pass: detect, resolve, apply, upload, checkpoint.
// If a pass is already running the caller joins it and receives the shared
// result instead of starting a second pass.
func (c *Coordinator) Sync(ctx context.Context) (*SyncResult, error) {
	c.mu.Lock()
	if c.current != nil {
		fl := c.current
		c.mu.Unlock()

		logging.Debug("Joining in-flight sync", nil)
		select {
		case <-fl.done:
			return fl.result, fl.err
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.ErrSyncInProgress,
				"sync still in progress when caller gave up", ctx.Err())
		}
	}

	fl := &inflight{done: make(chan struct{})}
	c.current = fl
	c.mu.Unlock()

	result, err := c.run(ctx)

	c.mu.Lock()
	fl.result, fl.err = result, err
	c.current = nil
	c.lastResult = result
	c.mu.Unlock()
	close(fl.done)

	return result, err
}

// run executes the pass body. Only one goroutine is ever inside run.
func (c *Coordinator) run(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
		result.SyncedAt = time.Now().UnixMilli()
		c.finishPass()
		c.sink.RecordTiming("sync.pass", time.Since(start))
	}()

	// Phase 1: detect.
	c.setState(StateDetecting)
	marker, err := c.loadMarker(ctx)
	if err != nil {
		return c.abort(result, err)
	}
	remoteOps, localOps, err := c.detector.DetectChanges(ctx, marker)
	if err != nil {
		return c.abort(result, err)
	}

	// Phase 2: resolve. Conflicts decide which remote ops are applied,
	// which local ops are uploaded, and which entities are held pending.
	c.setState(StateResolving)
	plan := c.resolve(remoteOps, localOps)
	result.Conflicts = plan.conflicts
	c.sink.RecordCount("sync.conflicts", len(plan.conflicts))

	if err := ctx.Err(); err != nil {
		return c.abort(result, apperrors.Wrap(apperrors.ErrSyncFailed, "sync canceled", err))
	}

	// Phase 3: apply accepted remote changes, then phase 4: upload local
	// ones. Remote-first ordering means an interrupted pass leaves the
	// local store at least as current as the marker claims.
	c.setState(StateApplying)
	applyFailed := c.apply(ctx, plan.applies, result)

	c.setState(StateUploading)
	c.upload(ctx, plan.uploads, result)

	// Phase 5: checkpoint. The marker only advances past remote changes
	// that were actually applied.
	c.setState(StateCheckpointing)
	if !applyFailed {
		if m := maxTimestamp(plan.applies); m > marker {
			if err := c.saveMarker(ctx, m); err != nil {
				result.Errors = append(result.Errors, err.Error())
				result.FailedCount++
			}
		}
	}
	if err := c.writeCheckpoint(ctx, plan, result); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	logging.Info("Sync pass complete",
		map[string]interface{}{
			"processed": result.ProcessedCount,
			"failed":    result.FailedCount,
			"conflicts": len(result.Conflicts),
		})

	if result.FailedCount > 0 {
		return result, apperrors.New(apperrors.ErrSyncFailed, "sync pass completed with failures")
	}
	return result, nil
}

// syncPlan is the resolver's verdict over one pass.
type syncPlan struct {
	applies   []*models.SyncOperation // remote ops to apply locally
	uploads   []*models.SyncOperation // local ops to upload
	conflicts []*models.Conflict
	opIDs     []models.UUID
}

// resolve matches remote and local operations by entity and turns conflicts
// into an apply/upload plan. Entities whose conflict stays pending are held
// on both sides until the user decides.
func (c *Coordinator) resolve(remoteOps, localOps []*models.SyncOperation) *syncPlan {
	plan := &syncPlan{}

	localByKey := make(map[models.EntityKey]*models.SyncOperation, len(localOps))
	for _, op := range localOps {
		// The queue may hold several ops per entity; the newest one
		// represents the entity's local end state.
		if prev, ok := localByKey[op.Key()]; !ok || op.Timestamp > prev.Timestamp {
			localByKey[op.Key()] = op
		}
	}

	held := make(map[models.EntityKey]bool)
	dropRemote := make(map[models.EntityKey]bool)
	dropLocal := make(map[models.EntityKey]bool)

	for _, rop := range remoteOps {
		lop, ok := localByKey[rop.Key()]
		if !ok {
			continue
		}
		conflict := c.resolver.Classify(lop, rop)
		if conflict == nil {
			if payloadsEqual(lop.Payload, rop.Payload) {
				// Same content on both sides: apply remote (it carries
				// the authoritative version) and drop the redundant
				// upload.
				dropLocal[rop.Key()] = true
			} else {
				// Same version but different content: a local edit the
				// authority has not seen yet. Upload it, and keep the
				// stale remote copy from clobbering it locally.
				dropRemote[rop.Key()] = true
			}
			continue
		}
		conflict = c.resolver.Propose(conflict)
		plan.conflicts = append(plan.conflicts, conflict)

		switch conflict.Resolution {
		case models.ResolutionCloudWins:
			dropLocal[rop.Key()] = true
		case models.ResolutionLocalWins:
			dropRemote[rop.Key()] = true
		default:
			held[rop.Key()] = true
		}
	}

	for _, rop := range remoteOps {
		if held[rop.Key()] || dropRemote[rop.Key()] {
			continue
		}
		plan.applies = append(plan.applies, rop)
		plan.opIDs = append(plan.opIDs, rop.ID)
	}
	for _, lop := range localOps {
		if held[lop.Key()] {
			continue
		}
		if dropLocal[lop.Key()] {
			// Superseded by the remote copy; drain it from the queue.
			_ = c.queue.Complete(lop.ID)
			continue
		}
		plan.uploads = append(plan.uploads, lop)
		plan.opIDs = append(plan.opIDs, lop.ID)
	}

	return plan
}

// apply writes accepted remote operations into the local store under the
// advisory lock, grouped per collection with deletes first. Returns true
// when any group failed.
func (c *Coordinator) apply(ctx context.Context, ops []*models.SyncOperation, result *SyncResult) bool {
	if len(ops) == 0 {
		return false
	}

	release, err := c.store.Acquire(ctx)
	if err != nil {
		result.FailedCount += len(ops)
		result.Errors = append(result.Errors, err.Error())
		return true
	}
	defer release()

	failed := false
	for _, kind := range models.Kinds() {
		var deletes []string
		var upserts []models.EntityPayload
		count := 0
		for _, op := range ops {
			if op.EntityType != kind {
				continue
			}
			count++
			if op.Kind == models.OpDelete {
				deletes = append(deletes, op.EntityID)
			} else {
				upserts = append(upserts, op.Payload)
			}
		}
		if count == 0 {
			continue
		}

		// One transaction per collection, deletes first so a
		// delete-then-recreate pair lands in order. A failure leaves the
		// collection exactly as it was.
		if err := c.store.Apply(ctx, kind, deletes, upserts); err != nil {
			failed = true
			result.FailedCount += count
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ProcessedCount += count
	}

	return failed
}

// upload pushes local operations to the authority one at a time so each can
// be completed or failed individually. Failures go back through the queue's
// backoff machinery rather than aborting the pass.
func (c *Coordinator) upload(ctx context.Context, ops []*models.SyncOperation, result *SyncResult) {
	sort.SliceStable(ops, func(i, j int) bool {
		// Deletes first within a kind, then chronological.
		if ops[i].EntityType != ops[j].EntityType {
			return ops[i].EntityType < ops[j].EntityType
		}
		di, dj := ops[i].Kind == models.OpDelete, ops[j].Kind == models.OpDelete
		if di != dj {
			return di
		}
		return ops[i].Timestamp < ops[j].Timestamp
	})

	for _, op := range ops {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			return
		}

		_ = c.queue.MarkInFlight(op.ID)
		err := c.authority.Upsert(ctx, op.EntityType, []models.EntityPayload{op.Payload})
		if err != nil {
			result.FailedCount++
			wrapped := apperrors.Wrap(apperrors.ErrUploadFailed,
				"failed to upload "+string(op.EntityType)+" "+op.EntityID, err)
			result.Errors = append(result.Errors, wrapped.Error())
			_ = c.queue.Fail(op.ID, wrapped)
			continue
		}

		result.ProcessedCount++
		_ = c.queue.Complete(op.ID)
	}
}

// writeCheckpoint appends the pass checkpoint to the bounded history.
func (c *Coordinator) writeCheckpoint(ctx context.Context, plan *syncPlan, result *SyncResult) error {
	cp := &models.SyncCheckpoint{
		ID:             models.UUID(uuid.New()),
		Timestamp:      time.Now().UnixMilli(),
		OperationIDs:   plan.opIDs,
		ProcessedCount: result.ProcessedCount,
		FailedCount:    result.FailedCount,
		Checksum:       checkpointChecksum(plan.opIDs),
		IsRollbackSafe: result.FailedCount == 0,
	}
	return c.checkpoints.Append(ctx, cp)
}

// Checkpoints exposes the checkpoint history.
func (c *Coordinator) Checkpoints() *CheckpointLog {
	return c.checkpoints
}

// abort finishes the pass in the aborted state.
func (c *Coordinator) abort(result *SyncResult, err error) (*SyncResult, error) {
	c.setState(StateAborted)
	result.Errors = append(result.Errors, err.Error())

	logging.Error("Sync pass aborted", err)
	c.sink.RecordEvent("sync.aborted", map[string]interface{}{"error": err.Error()})

	return result, err
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// finishPass returns the coordinator to idle. An aborted pass keeps its
// state so the abort stays observable until the next pass starts.
func (c *Coordinator) finishPass() {
	c.mu.Lock()
	if c.state != StateAborted {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// payloadsEqual compares two payloads by their canonical JSON digest.
func payloadsEqual(a, b models.EntityPayload) bool {
	da, _, errA := codec.DigestJSON(a)
	db, _, errB := codec.DigestJSON(b)
	return errA == nil && errB == nil && da == db
}

// loadMarker reads the persisted high-water mark; a never-synced store
// starts from zero.
func (c *Coordinator) loadMarker(ctx context.Context) (int64, error) {
	raw, err := c.store.GetState(ctx, store.StateKeySyncMarker)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var m syncMarker
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternal, "failed to decode sync marker", err)
	}
	return m.LastSyncedAt, nil
}

func (c *Coordinator) saveMarker(ctx context.Context, ts int64) error {
	raw, err := json.Marshal(syncMarker{LastSyncedAt: ts})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode sync marker", err)
	}
	return c.store.PutState(ctx, store.StateKeySyncMarker, raw)
}

// maxTimestamp returns the newest remote timestamp among applied ops.
func maxTimestamp(ops []*models.SyncOperation) int64 {
	var max int64
	for _, op := range ops {
		if op.Timestamp > max {
			max = op.Timestamp
		}
	}
	return max
}
