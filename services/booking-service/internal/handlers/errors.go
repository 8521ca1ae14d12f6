package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
)

// writeEngineError maps engine sentinels to status codes. unavailable is the
// status used for ErrSlotUnavailable, which differs between endpoints.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error, unavailable int) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidTime):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_time", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		httpx.WriteError(w, unavailable, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, scheduling.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, scheduling.ErrInvalidFilter):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_filter", err.Error())
	case errors.Is(err, scheduling.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
