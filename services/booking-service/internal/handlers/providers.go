package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
)

type ProviderHandler struct {
	engine *scheduling.Engine
	logger *slog.Logger
}

func NewProviderHandler(engine *scheduling.Engine, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{engine: engine, logger: logger}
}

type blockRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason"`
}

func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.engine.ListProviders(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"provider": p})
}

func (h *ProviderHandler) Slots(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "date is required")
		return
	}
	slots, err := h.engine.ListSlots(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *ProviderHandler) Blocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, ok := parseRange(w, q.Get("from"), q.Get("to"))
	if !ok {
		return
	}
	blocks, err := h.engine.ListBlocks(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (h *ProviderHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	start, end, ok := parseRange(w, req.Start, req.End)
	if !ok {
		return
	}
	b, err := h.engine.CreateBlock(r.Context(), actor(r), chi.URLParam(r, "id"), start, end, req.Reason)
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"block": b})
}

func (h *ProviderHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DeleteBlock(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "blockId"))
	if err != nil {
		writeEngineError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
