package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wahub/wahub/internal/audit"
	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/manager"
)

type SystemHandler struct {
	db      *database.DB
	manager *manager.Manager
	bus     *events.Bus
	audit   *audit.Recorder
	started time.Time
}

func NewSystemHandler(db *database.DB, mgr *manager.Manager, bus *events.Bus, recorder *audit.Recorder) *SystemHandler {
	return &SystemHandler{db: db, manager: mgr, bus: bus, audit: recorder, started: time.Now()}
}

func (h *SystemHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/activity", h.Activity)
	return r
}

// GET /healthz
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{
		"status":        status,
		"sessions":      h.manager.Count(),
		"eventClients":  h.bus.TotalClients(),
		"uptimeSeconds": int(time.Since(h.started).Seconds()),
	})
}

// GET /v1/admin/activity?limit=
func (h *SystemHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, apperrors.InvalidInput("limit", raw))
			return
		}
	}

	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"activity": entries})
}
