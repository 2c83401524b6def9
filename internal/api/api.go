// Package api exposes the run service over HTTP. The surface is small:
// start a run, poll its status, cancel it, and a health probe.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/service"
	"github.com/vk/querygrid/internal/store"
	"github.com/vk/querygrid/internal/validate"
)

// Handler routes the run API.
type Handler struct {
	svc *service.Service
	mux *http.ServeMux
}

// New builds the API handler around a run service.
func New(svc *service.Service) *Handler {
	h := &Handler{svc: svc, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /runs", h.startRun)
	h.mux.HandleFunc("GET /runs/{id}", h.runStatus)
	h.mux.HandleFunc("DELETE /runs/{id}", h.cancelRun)
	h.mux.HandleFunc("GET /health", h.health)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type startRunRequest struct {
	CompositionID string         `json:"composition_id"`
	WindowStart   time.Time      `json:"window_start,omitzero"`
	WindowEnd     time.Time      `json:"window_end,omitzero"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	BestEffort    bool           `json:"best_effort,omitempty"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CompositionID == "" {
		writeError(w, http.StatusBadRequest, "composition_id is required")
		return
	}
	if req.WindowStart.IsZero() != req.WindowEnd.IsZero() {
		writeError(w, http.StatusBadRequest, "window_start and window_end must be set together")
		return
	}

	runID, err := h.svc.StartCompositionRun(r.Context(), service.RunRequest{
		CompositionID: req.CompositionID,
		Window:        composition.TimeWindow{Start: req.WindowStart, End: req.WindowEnd},
		Parameters:    req.Parameters,
		BestEffort:    req.BestEffort,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case isValidationError(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			ctxlog.FromContext(r.Context()).Error("Failed to start run.", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetRunStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelRun(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isValidationError(err error) bool {
	var ves validate.Errors
	var ve *validate.Error
	return errors.As(err, &ves) || errors.As(err, &ve)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
