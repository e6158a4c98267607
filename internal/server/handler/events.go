package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

// EventsHandler pages through the durable event stream.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler. bus may be nil when Redis is
// not configured.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logHandler(logger, "events")}
}

type eventEntry struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns stream entries. Without after it returns the newest
// entries, newest first; with after it returns entries following that id in
// stream order so clients can tail the stream.
// GET /api/events?after=1700000000000-0&count=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}
	q := r.URL.Query()
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	var (
		msgs []domain.StreamMessage
		err  error
	)
	if after := q.Get("after"); after != "" {
		msgs, err = h.bus.StreamRead(r.Context(), domain.StreamEvents, after, count)
	} else {
		msgs, err = h.bus.StreamLatest(r.Context(), domain.StreamEvents, count)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read events")
		return
	}

	out := make([]eventEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			h.logger.WarnContext(r.Context(), "skipping malformed stream entry", slog.String("id", m.ID))
			continue
		}
		out = append(out, eventEntry{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
