package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/middleware"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
)

const heartbeatInterval = 30 * time.Second

// EventsHandler streams session events to clients over SSE.
type EventsHandler struct {
	manager *manager.Manager
	bus     *events.Bus
}

func NewEventsHandler(mgr *manager.Manager, bus *events.Bus) *EventsHandler {
	return &EventsHandler{manager: mgr, bus: bus}
}

func (h *EventsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Stream)
	return r
}

// GET /v1/sessions/{sessionID}/events?kinds=message,presence
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	user := middleware.GetUser(r.Context())
	if user == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Missing user"))
		return
	}
	if user.Role != model.UserRoleAdmin {
		if _, err := h.manager.GetForUser(user.ID, sessionID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("streaming not supported"))
		return
	}

	var kinds []store.EventKind
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			kinds = append(kinds, store.EventKind(strings.TrimSpace(k)))
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.bus.Subscribe(sessionID, kinds...)
	defer h.bus.Unsubscribe(client)

	log.Debug().
		Str("sessionId", sessionID).
		Str("userId", user.ID).
		Msg("event stream opened")

	sendEvent(w, "connected", map[string]string{"sessionId": sessionID})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			sendEvent(w, string(evt.Kind), evt)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal event payload")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
