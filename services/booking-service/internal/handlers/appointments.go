package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
)

const headerReplayed = "Idempotent-Replayed"

type AppointmentHandler struct {
	engine *scheduling.Engine
	logger *slog.Logger
}

func NewAppointmentHandler(engine *scheduling.Engine, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{engine: engine, logger: logger}
}

type bookSlotRequest struct {
	ProviderID string `json:"providerId"`
	Date       string `json:"date"`
	SlotTime   string `json:"slotTime"`
}

type bookRangeRequest struct {
	ProviderID string `json:"providerId"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// rescheduleRequest accepts either {date, slotTime} or {start, end}.
type rescheduleRequest struct {
	Date     string `json:"date"`
	SlotTime string `json:"slotTime"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type appointmentResponse struct {
	Appointment model.Appointment `json:"appointment"`
}

func (h *AppointmentHandler) BookSlot(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req bookSlotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := h.engine.BookSlot(r.Context(), scheduling.BookSlotRequest{
		UserID:         id.UserID,
		ProviderID:     strings.TrimSpace(req.ProviderID),
		Date:           req.Date,
		SlotTime:       req.SlotTime,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	h.writeBooked(w, res)
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req bookRangeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	start, end, ok := parseRange(w, req.Start, req.End)
	if !ok {
		return
	}
	res, err := h.engine.Book(r.Context(), scheduling.BookRequest{
		UserID:         id.UserID,
		ProviderID:     strings.TrimSpace(req.ProviderID),
		Start:          start,
		End:            end,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusConflict)
		return
	}
	h.writeBooked(w, res)
}

func (h *AppointmentHandler) writeBooked(w http.ResponseWriter, res scheduling.BookResult) {
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	httpx.WriteJSON(w, http.StatusCreated, appointmentResponse{Appointment: res.Appointment})
}

func (h *AppointmentHandler) Mine(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListForUser(r.Context(), identity(r).UserID, r.URL.Query().Get("filter"))
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.DecodeOptionalJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	a, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"), identity(r).UserID, req.Reason)
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: a})
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		a   model.Appointment
		err error
	)
	apptID := chi.URLParam(r, "id")
	switch {
	case req.Date != "" && req.SlotTime != "":
		a, err = h.engine.RescheduleToSlot(r.Context(), apptID, id.UserID, req.Date, req.SlotTime)
	case req.Start != "" && req.End != "":
		start, end, ok := parseRange(w, req.Start, req.End)
		if !ok {
			return
		}
		a, err = h.engine.RescheduleToRange(r.Context(), apptID, id.UserID, start, end)
	default:
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "provide date and slotTime, or start and end")
		return
	}
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: a})
}

// SetStatus applies a provider-side transition.
func (h *AppointmentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	action, err := model.ParseAction(req.Status)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_transition", err.Error())
		return
	}
	a, err := h.engine.Transition(r.Context(), chi.URLParam(r, "id"), action, actor(r))
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusConflict)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: a})
}

func (h *AppointmentHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.History(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func actor(r *http.Request) scheduling.Actor {
	id := identity(r)
	return scheduling.Actor{ID: id.UserID, Role: id.Role, ProviderID: id.ProviderID}
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > 128 {
		return ""
	}
	return key
}

func parseRange(w http.ResponseWriter, rawStart, rawEnd string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(rawStart))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_time", "start must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(rawEnd))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_time", "end must be RFC3339")
		return time.Time{}, time.Time{}, false
	}
	return start.UTC(), end.UTC(), true
}
