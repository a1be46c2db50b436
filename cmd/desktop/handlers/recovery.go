package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/recovery"
)

// WSRecoveryBroadcaster pushes recovery lifecycle events to UI clients.
type WSRecoveryBroadcaster interface {
	BroadcastRecoveryPointCreated(point *models.RecoveryPoint)
	BroadcastRestoreCompleted(pointID models.UUID)
	BroadcastRestoreFailed(pointID models.UUID, errMsg string)
	BroadcastPointsEvicted(evicted []models.UUID, reclaimedBytes int64)
}

// RecoveryHandler handles recovery point operations.
type RecoveryHandler struct {
	manager *recovery.Manager
	wsHub   WSRecoveryBroadcaster
}

// NewRecoveryHandler creates a new RecoveryHandler.
func NewRecoveryHandler(manager *recovery.Manager) *RecoveryHandler {
	return &RecoveryHandler{manager: manager}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting recovery events.
func (h *RecoveryHandler) SetWebSocketHub(wsHub WSRecoveryBroadcaster) {
	h.wsHub = wsHub
}

// pointSummary is the listing shape: point metadata without the body.
type pointSummary struct {
	ID          models.UUID          `json:"id"`
	Timestamp   int64                `json:"timestamp"`
	Type        models.PointType     `json:"type"`
	Description string               `json:"description"`
	SizeBytes   int64                `json:"size_bytes"`
	Priority    models.PointPriority `json:"priority"`
	Tags        []string             `json:"tags,omitempty"`
	IsProtected bool                 `json:"is_protected"`
	Incremental bool                 `json:"incremental"`
	HealthScore float64              `json:"health_score"`
	RestoreCnt  int                  `json:"restore_count"`
}

func summarize(p *models.RecoveryPoint) pointSummary {
	return pointSummary{
		ID:          p.ID,
		Timestamp:   p.Timestamp,
		Type:        p.Type,
		Description: p.Description,
		SizeBytes:   p.SizeBytes,
		Priority:    p.Priority,
		Tags:        p.Tags,
		IsProtected: p.IsProtected,
		Incremental: p.IsIncremental(),
		HealthScore: p.HealthScore,
		RestoreCnt:  p.RestoreCount,
	}
}

// ListPoints handles GET /recovery/points. Returns summaries newest first.
func (h *RecoveryHandler) ListPoints(w http.ResponseWriter, r *http.Request) {
	points, err := h.manager.GetRecoveryPoints(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]pointSummary, 0, len(points))
	for _, p := range points {
		summaries = append(summaries, summarize(p))
	}
	writeJSON(w, http.StatusOK, summaries)
}

// CreatePoint handles POST /recovery/points. With a parent_id the point is
// incremental against that parent.
func (h *RecoveryHandler) CreatePoint(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type        models.PointType     `json:"type"`
		Description string               `json:"description"`
		Priority    models.PointPriority `json:"priority"`
		Tags        []string             `json:"tags"`
		ParentID    models.UUID          `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if request.Type == "" {
		request.Type = models.PointManual
	}

	opts := recovery.CreateOptions{Priority: request.Priority, Tags: request.Tags}

	var point *models.RecoveryPoint
	var err error
	if request.ParentID != "" {
		point, err = h.manager.CreateIncrementalRecoveryPoint(r.Context(), request.ParentID, request.Type, request.Description, opts)
	} else {
		point, err = h.manager.CreateRecoveryPoint(r.Context(), request.Type, request.Description, opts)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastRecoveryPointCreated(point)
	}
	writeJSON(w, http.StatusCreated, summarize(point))
}

// GetPoint handles GET /recovery/points/{id}.
func (h *RecoveryHandler) GetPoint(w http.ResponseWriter, r *http.Request) {
	point, err := h.manager.GetRecoveryPoint(r.Context(), models.UUID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

// DeletePoint handles DELETE /recovery/points/{id}.
func (h *RecoveryHandler) DeletePoint(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteRecoveryPoint(r.Context(), models.UUID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /recovery/points/{id}/restore.
func (h *RecoveryHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))

	var request struct {
		Strategy    recovery.RestoreStrategy `json:"strategy"`
		Rule        recovery.MergeRule       `json:"rule"`
		Collections []models.EntityKind      `json:"collections"`
		SkipBackup  bool                     `json:"skip_backup"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
			return
		}
	}

	result, err := h.manager.RecoverFromPoint(r.Context(), id, recovery.RestoreOptions{
		Strategy:    request.Strategy,
		Rule:        request.Rule,
		Collections: request.Collections,
		SkipBackup:  request.SkipBackup,
	})
	if err != nil {
		if h.wsHub != nil {
			h.wsHub.BroadcastRestoreFailed(id, err.Error())
		}
		// Partial failures still carry a result worth returning.
		if result != nil {
			writeJSON(w, http.StatusMultiStatus, result)
			return
		}
		writeError(w, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastRestoreCompleted(id)
	}
	writeJSON(w, http.StatusOK, result)
}

// Protect handles POST /recovery/points/{id}/protect.
func (h *RecoveryHandler) Protect(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Protect(r.Context(), models.UUID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unprotect handles DELETE /recovery/points/{id}/protect.
func (h *RecoveryHandler) Unprotect(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Unprotect(r.Context(), models.UUID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate handles POST /recovery/points/{id}/validate.
func (h *RecoveryHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))
	if err := h.manager.Validate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	point, err := h.manager.GetRecoveryPoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":             true,
		"health_score":      point.HealthScore,
		"last_validated_at": point.LastValidatedAt,
	})
}

// ExportPoint handles GET /recovery/points/{id}/export.
func (h *RecoveryHandler) ExportPoint(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(r.PathValue("id"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="recovery-point-`+string(id)+`.json"`)
	if err := h.manager.Export(r.Context(), id, w); err != nil {
		// Headers may already be out; best effort.
		writeError(w, err)
	}
}

// ImportPoint handles POST /recovery/import.
func (h *RecoveryHandler) ImportPoint(w http.ResponseWriter, r *http.Request) {
	point, err := h.manager.Import(r.Context(), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(point))
}

// GetStatistics handles GET /recovery/statistics.
func (h *RecoveryHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.GetStatistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cleanup handles POST /recovery/cleanup. Runs a retention pass on demand.
func (h *RecoveryHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.EnforceRetention(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if h.wsHub != nil && len(report.Evicted) > 0 {
		h.wsHub.BroadcastPointsEvicted(report.Evicted, report.ReclaimedBytes)
	}
	writeJSON(w, http.StatusOK, report)
}
