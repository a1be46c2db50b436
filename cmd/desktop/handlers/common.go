// Package handlers provides REST API handlers for the sync and recovery
// engines on the desktop surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/jwlin/recallbox/internal/errors"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an engine error onto an HTTP status and a JSON body
// carrying the application error code.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.ErrInternal
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrSyncInProgress, apperrors.ErrPointProtected, apperrors.ErrConflictUnresolved:
		status = http.StatusConflict
	case apperrors.ErrFetchFailed, apperrors.ErrUploadFailed:
		status = http.StatusBadGateway
	case apperrors.ErrIntegrity, apperrors.ErrChainBroken:
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": err.Error(),
		},
	})
}
