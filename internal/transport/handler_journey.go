package transport

import (
	"net/http"

	"github.com/docuflow/waypoint/internal/rewrite"
	"github.com/docuflow/waypoint/model"
)

// JourneyHandler serves journey evaluation and rule management endpoints.
type JourneyHandler struct {
	rewrite *rewrite.Engine
	rules   *rewrite.RuleStore
}

// NewJourneyHandler creates a journey handler.
func NewJourneyHandler(eng *rewrite.Engine, rules *rewrite.RuleStore) *JourneyHandler {
	return &JourneyHandler{rewrite: eng, rules: rules}
}

// Evaluate handles POST /api/v1/journeys/evaluate.
func (h *JourneyHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Journey model.Journey        `json:"journey"`
		Context model.RuntimeContext `json:"context"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Journey.ID == "" {
		WriteError(w, model.NewInvalidArgumentError("journey.id is required"))
		return
	}

	result := h.rewrite.Evaluate(r.Context(), req.Journey, req.Context)
	WriteJSON(w, http.StatusOK, result)
}

// ReloadRules handles POST /api/v1/rules/reload.
func (h *JourneyHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.rewrite.ReloadRules(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "reloaded",
		"active_rules": h.rules.Len(),
	})
}

// Rules handles GET /api/v1/rules.
func (h *JourneyHandler) Rules(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"rules": h.rules.Active()})
}
