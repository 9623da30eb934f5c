package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docuflow/waypoint/internal/engine"
	"github.com/docuflow/waypoint/internal/router"
)

// TaskHandler serves task lifecycle and routing endpoints.
type TaskHandler struct {
	engine *engine.Engine
	router *router.TaskRouter
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(e *engine.Engine, rt *router.TaskRouter) *TaskHandler {
	return &TaskHandler{engine: e, router: rt}
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in engine.CreateTaskInput
	if err := decodeBody(r, &in); err != nil {
		WriteError(w, err)
		return
	}

	task, err := h.engine.CreateTask(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, task)
}

// Get handles GET /api/v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.engine.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Assign handles POST /api/v1/tasks/{taskID}/assign for direct assignment.
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assignee string `json:"assignee"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	task, err := h.engine.AssignTask(r.Context(), chi.URLParam(r, "taskID"), req.Assignee)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Route handles POST /api/v1/tasks/{taskID}/route for strategy assignment.
func (h *TaskHandler) Route(w http.ResponseWriter, r *http.Request) {
	var in router.AssignInput
	if err := decodeBody(r, &in); err != nil {
		WriteError(w, err)
		return
	}
	in.TaskID = chi.URLParam(r, "taskID")

	assignment, err := h.router.Assign(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}

// Reassign handles POST /api/v1/tasks/{taskID}/reassign.
func (h *TaskHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assignee string `json:"assignee"`
		Reason   string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	assignment, err := h.router.Reassign(r.Context(), chi.URLParam(r, "taskID"), req.Assignee, req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}

// Assignments handles GET /api/v1/tasks/{taskID}/assignments.
func (h *TaskHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	history, err := h.router.History(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"assignments": history})
}

// Start handles POST /api/v1/tasks/{taskID}/start.
func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	task, err := h.engine.StartTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Complete handles POST /api/v1/tasks/{taskID}/complete.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Output map[string]any `json:"output"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	task, err := h.engine.CompleteTask(r.Context(), chi.URLParam(r, "taskID"), req.Output)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Fail handles POST /api/v1/tasks/{taskID}/fail.
func (h *TaskHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error string `json:"error"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	task, err := h.engine.FailTask(r.Context(), chi.URLParam(r, "taskID"), req.Error)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}
