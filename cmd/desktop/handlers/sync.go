package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/jwlin/recallbox/internal/errors"
	"github.com/jwlin/recallbox/internal/models"
	"github.com/jwlin/recallbox/internal/store"
	enginesync "github.com/jwlin/recallbox/internal/sync"
)

// WSSyncBroadcaster pushes sync lifecycle events to connected UI clients.
type WSSyncBroadcaster interface {
	BroadcastSyncStarted()
	BroadcastSyncCompleted(result *enginesync.SyncResult)
	BroadcastSyncFailed(errorCode string)
	BroadcastSyncConflicts(conflicts []*models.Conflict)
}

// SyncHandler handles sync operations and configuration.
type SyncHandler struct {
	coordinator *enginesync.Coordinator
	store       store.Store
	wsHub       WSSyncBroadcaster
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(coordinator *enginesync.Coordinator, st store.Store) *SyncHandler {
	return &SyncHandler{coordinator: coordinator, store: st}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting sync events.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// TriggerSync handles POST /sync. Runs a full pass (or joins the one in
// flight) and returns the shared result.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.wsHub != nil {
		h.wsHub.BroadcastSyncStarted()
	}

	result, err := h.coordinator.Sync(r.Context())
	if err != nil {
		if h.wsHub != nil {
			code := apperrors.ErrSyncFailed
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				code = appErr.Code
			}
			h.wsHub.BroadcastSyncFailed(string(code))
		}
		writeError(w, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastSyncCompleted(result)
		if len(result.Conflicts) > 0 {
			h.wsHub.BroadcastSyncConflicts(result.Conflicts)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// GetStatus handles GET /sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.Status(r.Context()))
}

// GetConfig handles GET /sync/config.
func (h *SyncHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := enginesync.LoadConfig(r.Context(), h.store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SetConfig handles PUT /sync/config.
func (h *SyncHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg enginesync.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if err := enginesync.SaveConfig(r.Context(), h.store, &cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetQueue handles GET /sync/queue.
func (h *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	q := h.coordinator.Queue()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   q.Stats(),
		"pending": q.Pending(),
	})
}

// RetryFailed handles POST /sync/queue/retry. Revives permanently failed
// operations for the next pass.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	count := h.coordinator.Queue().RetryAll()
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": count})
}

// GetCheckpoints handles GET /sync/checkpoints.
func (h *SyncHandler) GetCheckpoints(w http.ResponseWriter, r *http.Request) {
	history, err := h.coordinator.Checkpoints().List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []*models.SyncCheckpoint{}
	}
	writeJSON(w, http.StatusOK, history)
}
