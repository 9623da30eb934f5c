package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docuflow/waypoint/internal/engine"
)

// ProcessHandler serves process instance lifecycle endpoints.
type ProcessHandler struct {
	engine *engine.Engine
}

// NewProcessHandler creates a process handler.
func NewProcessHandler(e *engine.Engine) *ProcessHandler {
	return &ProcessHandler{engine: e}
}

// Start handles POST /api/v1/processes.
func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	var in engine.StartProcessInput
	if err := decodeBody(r, &in); err != nil {
		WriteError(w, err)
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	inst, err := h.engine.StartProcess(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, inst)
}

// Get handles GET /api/v1/processes/{processID}.
func (h *ProcessHandler) Get(w http.ResponseWriter, r *http.Request) {
	inst, err := h.engine.GetProcess(r.Context(), chi.URLParam(r, "processID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

type statusRequest struct {
	Status string         `json:"status"`
	Detail string         `json:"detail"`
	Output map[string]any `json:"output"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// UpdateStatus handles POST /api/v1/processes/{processID}/status.
func (h *ProcessHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.engine.UpdateProcessStatus(r.Context(), chi.URLParam(r, "processID"), req.Status, req.Detail, req.Output)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Suspend handles POST /api/v1/processes/{processID}/suspend.
func (h *ProcessHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.engine.SuspendProcess(r.Context(), chi.URLParam(r, "processID"), req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Resume handles POST /api/v1/processes/{processID}/resume.
func (h *ProcessHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.engine.ResumeProcess(r.Context(), chi.URLParam(r, "processID"), req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Cancel handles POST /api/v1/processes/{processID}/cancel.
func (h *ProcessHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	inst, err := h.engine.CancelProcess(r.Context(), chi.URLParam(r, "processID"), req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// Events handles GET /api/v1/processes/{processID}/events.
func (h *ProcessHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.ListProcessEvents(r.Context(), chi.URLParam(r, "processID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Tasks handles GET /api/v1/processes/{processID}/tasks.
func (h *ProcessHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.ListTasks(r.Context(), chi.URLParam(r, "processID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}
