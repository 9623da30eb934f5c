package transport

import (
	"net/http"
	"strconv"

	"github.com/docuflow/waypoint/internal/bus"
)

// EventHandler serves the event bus history endpoint.
type EventHandler struct {
	bus *bus.EventBus
}

// NewEventHandler creates an event handler.
func NewEventHandler(b *bus.EventBus) *EventHandler {
	return &EventHandler{bus: b}
}

// History handles GET /api/v1/events?type=&limit=. Events are returned
// most recent first.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events := h.bus.History(eventType, limit)
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
