package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// EventHandler serves recent dispatch events from the event log.
type EventHandler struct {
	log    domain.EventLog
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(log domain.EventLog, logger *slog.Logger) *EventHandler {
	return &EventHandler{log: log, logger: logHandler(logger, "events")}
}

// ListEvents returns up to ?limit= recent events, oldest first.
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.log.Recent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event log failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	events := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		if !json.Valid(e) {
			continue
		}
		events = append(events, json.RawMessage(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
