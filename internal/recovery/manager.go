// Package recovery implements the recovery-point engine: checksummed
// snapshots of the local data set, incremental chains, scored retention,
// health tracking, and restore with selectable merge strategies.
package recovery

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/jwlin/recallbox/internal/codec"
	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/logging"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/store"
	"github.com/jwlin/recallbox/internal/telemetry"
	"github.com/jwlin/recallbox/internal/uuid"
)

// DefaultCompressionThreshold is the snapshot size above which the point
// body is stored gzip-compressed.
const DefaultCompressionThreshold = 32 * 1024

// Options configures a Manager.
type Options struct {
	// CompressionThreshold overrides DefaultCompressionThreshold when > 0.
	CompressionThreshold int64

	// Retention is the cleanup policy enforced after each point creation.
	// The zero value falls back to DefaultRetentionPolicy.
	Retention RetentionPolicy

	// Sink receives engine telemetry; nil means no-op.
	Sink telemetry.Sink
}

// Manager owns the recovery point index and its persisted points.
type Manager struct {
	store     store.Store
	threshold int64
	retention RetentionPolicy
	sink      telemetry.Sink

	now func() time.Time
}

// NewManager creates a Manager over the store.
func NewManager(st store.Store, opts Options) *Manager {
	threshold := opts.CompressionThreshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	retention := opts.Retention
	if retention.isZero() {
		retention = DefaultRetentionPolicy()
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Noop()
	}
	return &Manager{
		store:     st,
		threshold: threshold,
		retention: retention,
		sink:      sink,
		now:       time.Now,
	}
}

// CreateOptions tunes one point creation.
type CreateOptions struct {
	// Priority overrides the type's default retention priority.
	Priority models.PointPriority

	// Tags are free-form labels attached to the point.
	Tags []string
}

// CreateRecoveryPoint snapshots all collections into a new full recovery
// point, persists it and enforces retention.
func (m *Manager) CreateRecoveryPoint(ctx context.Context, typ models.PointType, description string, opts CreateOptions) (*models.RecoveryPoint, error) {
	data, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	point, err := m.buildPoint(typ, description, data, opts)
	if err != nil {
		return nil, err
	}

	if err := m.persistNewPoint(ctx, point); err != nil {
		return nil, err
	}

	logging.Info("Recovery point created",
		map[string]interface{}{
			"point_id": point.ID,
			"type":     point.Type,
			"entities": data.EntityCount(),
			"size":     point.SizeBytes,
		})
	m.sink.RecordEvent("recovery.point_created",
		map[string]interface{}{"type": string(typ), "size": point.SizeBytes})

	if _, err := m.EnforceRetention(ctx); err != nil {
		// The point itself is safe; cleanup can be retried next pass.
		logging.Warn("Retention enforcement failed",
			map[string]interface{}{"error": err.Error()})
	}

	return point, nil
}

// snapshot reads all collections under the advisory lock.
func (m *Manager) snapshot(ctx context.Context) (*models.RecoveryData, error) {
	release, err := m.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return store.ReadSnapshot(ctx, m.store)
}

// buildPoint assembles a point from captured data: checksum over the
// canonical JSON, compression when the body is large enough to pay off.
func (m *Manager) buildPoint(typ models.PointType, description string, data *models.RecoveryData, opts CreateOptions) (*models.RecoveryPoint, error) {
	checksum, raw, err := codec.DigestJSON(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode recovery data", err)
	}

	priority := opts.Priority
	if priority == "" {
		priority = models.DefaultPriorityFor(typ)
	}

	point := &models.RecoveryPoint{
		ID:          models.UUID(uuid.New()),
		Timestamp:   m.now().UnixMilli(),
		Type:        typ,
		Description: description,
		Data:        *data,
		Checksum:    checksum,
		SizeBytes:   int64(len(raw)),
		Priority:    priority,
		Tags:        opts.Tags,
		HealthScore: 100,
	}

	if point.SizeBytes > m.threshold {
		compressed, err := codec.Compress(raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to compress recovery data", err)
		}
		// Keep the compressed form only when it actually shrinks.
		if int64(len(compressed)) < point.SizeBytes {
			point.Compressed = compressed
			point.Data = models.RecoveryData{}
		}
	}

	return point, nil
}

// persistNewPoint saves the point and links it into the index.
func (m *Manager) persistNewPoint(ctx context.Context, point *models.RecoveryPoint) error {
	if err := m.savePoint(ctx, point); err != nil {
		return err
	}

	index, err := m.loadIndex(ctx)
	if err != nil {
		return err
	}
	index = append(index, point.ID)
	return m.saveIndex(ctx, index)
}

// GetRecoveryPoint loads one point by id.
func (m *Manager) GetRecoveryPoint(ctx context.Context, id models.UUID) (*models.RecoveryPoint, error) {
	return m.loadPoint(ctx, id)
}

// GetRecoveryPoints returns all points, newest first.
func (m *Manager) GetRecoveryPoints(ctx context.Context) ([]*models.RecoveryPoint, error) {
	index, err := m.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]*models.RecoveryPoint, 0, len(index))
	for _, id := range index {
		p, err := m.loadPoint(ctx, id)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp > points[j].Timestamp
	})
	return points, nil
}

// DeleteRecoveryPoint removes a point. Protected points and points that
// anchor incremental children refuse deletion.
func (m *Manager) DeleteRecoveryPoint(ctx context.Context, id models.UUID) error {
	point, err := m.loadPoint(ctx, id)
	if err != nil {
		return err
	}
	if point.IsProtected {
		return apperrors.New(apperrors.ErrPointProtected,
			"recovery point is protected: "+string(id))
	}
	if len(point.ChildrenPointIDs) > 0 {
		return apperrors.New(apperrors.ErrChainBroken,
			"recovery point anchors incremental children: "+string(id))
	}
	return m.removePoint(ctx, point)
}

// removePoint deletes a point unconditionally and unlinks it from its
// parent and the index. Retention uses this after its own eligibility checks.
func (m *Manager) removePoint(ctx context.Context, point *models.RecoveryPoint) error {
	if point.ParentPointID != "" {
		parent, err := m.loadPoint(ctx, point.ParentPointID)
		if err == nil {
			parent.ChildrenPointIDs = withoutID(parent.ChildrenPointIDs, point.ID)
			if err := m.savePoint(ctx, parent); err != nil {
				return err
			}
		}
	}

	if err := m.store.DeleteState(ctx, store.StateKeyPointPrefix+string(point.ID)); err != nil {
		return err
	}

	index, err := m.loadIndex(ctx)
	if err != nil {
		return err
	}
	return m.saveIndex(ctx, withoutID(index, point.ID))
}

// Protect marks a point as exempt from deletion and retention.
func (m *Manager) Protect(ctx context.Context, id models.UUID) error {
	return m.setProtected(ctx, id, true)
}

// Unprotect clears the protection flag.
func (m *Manager) Unprotect(ctx context.Context, id models.UUID) error {
	return m.setProtected(ctx, id, false)
}

func (m *Manager) setProtected(ctx context.Context, id models.UUID, protected bool) error {
	point, err := m.loadPoint(ctx, id)
	if err != nil {
		return err
	}
	point.IsProtected = protected
	return m.savePoint(ctx, point)
}

// ValidateIntegrity verifies the point's checksum against its stored body
// without touching any collection.
func (m *Manager) ValidateIntegrity(point *models.RecoveryPoint) error {
	raw, err := m.rawData(point)
	if err != nil {
		return err
	}
	if codec.Digest(raw) != point.Checksum {
		return apperrors.New(apperrors.ErrIntegrity,
			"recovery point checksum mismatch: "+string(point.ID))
	}
	return nil
}

// Validate runs an integrity check and records the outcome on the point:
// validation timestamps, failure counts and a refreshed health score.
func (m *Manager) Validate(ctx context.Context, id models.UUID) error {
	point, err := m.loadPoint(ctx, id)
	if err != nil {
		return err
	}

	verr := m.ValidateIntegrity(point)
	point.LastValidatedAt = m.now().UnixMilli()
	if verr != nil {
		point.ValidationFailures++
	}
	point.HealthScore = HealthScore(point, m.now())

	if err := m.savePoint(ctx, point); err != nil {
		return err
	}
	return verr
}

// pointData materializes the point's RecoveryData, decompressing if needed.
func (m *Manager) pointData(point *models.RecoveryPoint) (*models.RecoveryData, error) {
	raw, err := m.rawData(point)
	if err != nil {
		return nil, err
	}
	var data models.RecoveryData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIntegrity,
			"failed to decode recovery data: "+string(point.ID), err)
	}
	return &data, nil
}

// rawData returns the canonical JSON the checksum was computed over.
func (m *Manager) rawData(point *models.RecoveryPoint) ([]byte, error) {
	if point.IsCompressed() {
		raw, err := codec.Decompress(point.Compressed)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrIntegrity,
				"failed to decompress recovery data: "+string(point.ID), err)
		}
		return raw, nil
	}
	raw, err := json.Marshal(&point.Data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode recovery data", err)
	}
	return raw, nil
}

// Statistics summarizes the recovery point inventory.
type Statistics struct {
	TotalPoints    int                      `json:"total_points"`
	TotalSizeBytes int64                    `json:"total_size_bytes"`
	ByType         map[models.PointType]int `json:"by_type"`
	OldestAt       int64                    `json:"oldest_at,omitempty"`
	NewestAt       int64                    `json:"newest_at,omitempty"`
	AverageHealth  float64                  `json:"average_health"`
	ProtectedCount int                      `json:"protected_count"`
}

// GetStatistics computes inventory statistics.
func (m *Manager) GetStatistics(ctx context.Context) (*Statistics, error) {
	points, err := m.GetRecoveryPoints(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{ByType: make(map[models.PointType]int)}
	var healthSum float64
	for _, p := range points {
		stats.TotalPoints++
		stats.TotalSizeBytes += p.SizeBytes
		stats.ByType[p.Type]++
		healthSum += p.HealthScore
		if p.IsProtected {
			stats.ProtectedCount++
		}
		if stats.OldestAt == 0 || p.Timestamp < stats.OldestAt {
			stats.OldestAt = p.Timestamp
		}
		if p.Timestamp > stats.NewestAt {
			stats.NewestAt = p.Timestamp
		}
	}
	if stats.TotalPoints > 0 {
		stats.AverageHealth = healthSum / float64(stats.TotalPoints)
	}
	return stats, nil
}

// loadPoint reads one persisted point.
func (m *Manager) loadPoint(ctx context.Context, id models.UUID) (*models.RecoveryPoint, error) {
	raw, err := m.store.GetState(ctx, store.StateKeyPointPrefix+string(id))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound,
				"recovery point not found: "+string(id))
		}
		return nil, err
	}
	var point models.RecoveryPoint
	if err := json.Unmarshal(raw, &point); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIntegrity,
			"failed to decode recovery point: "+string(id), err)
	}
	return &point, nil
}

// savePoint persists one point.
func (m *Manager) savePoint(ctx context.Context, point *models.RecoveryPoint) error {
	raw, err := json.Marshal(point)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode recovery point", err)
	}
	return m.store.PutState(ctx, store.StateKeyPointPrefix+string(point.ID), raw)
}

// loadIndex reads the point id index; a never-written index is empty.
func (m *Manager) loadIndex(ctx context.Context) ([]models.UUID, error) {
	raw, err := m.store.GetState(ctx, store.StateKeyRecoveryIndex)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var index []models.UUID
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode recovery index", err)
	}
	return index, nil
}

func (m *Manager) saveIndex(ctx context.Context, index []models.UUID) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode recovery index", err)
	}
	return m.store.PutState(ctx, store.StateKeyRecoveryIndex, raw)
}

func withoutID(ids []models.UUID, id models.UUID) []models.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
