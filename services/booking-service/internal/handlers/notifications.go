package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

const defaultNotificationLimit = 50

type NotificationHandler struct {
	store  storage.Notifications
	logger *slog.Logger
}

func NewNotificationHandler(store storage.Notifications, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, logger: logger}
}

type notificationsResponse struct {
	Success       bool                 `json:"success"`
	Notifications []model.Notification `json:"notifications"`
}

type countResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	items, err := h.store.ListByUser(r.Context(), identity(r).UserID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []model.Notification{}
	}
	httpx.WriteJSON(w, http.StatusOK, notificationsResponse{Success: true, Notifications: items})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "notification not found")
		return
	}
	if err := h.store.MarkRead(r.Context(), identity(r).UserID, id); err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.MarkAllRead(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, countResponse{Success: true, Count: n})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "notification not found")
		return
	}
	if err := h.store.Delete(r.Context(), identity(r).UserID, id); err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.DeleteAll(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, countResponse{Success: true, Count: n})
}

func (h *NotificationHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "notification not found")
		return
	}
	h.logger.Error("notification store failed", "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
}
