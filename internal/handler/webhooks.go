package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wahub/wahub/internal/audit"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/middleware"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/session"
)

type WebhookHandler struct {
	manager *manager.Manager
	audit   *audit.Recorder
}

func NewWebhookHandler(mgr *manager.Manager, recorder *audit.Recorder) *WebhookHandler {
	return &WebhookHandler{manager: mgr, audit: recorder}
}

func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/", h.Set)
	r.Get("/", h.List)
	r.Delete("/{event}", h.Delete)
	r.Get("/{webhookID}/deliveries", h.Deliveries)
	return r
}

func (h *WebhookHandler) resolve(r *http.Request) (*session.Session, error) {
	sessionID := chi.URLParam(r, "sessionID")
	user := middleware.GetUser(r.Context())
	if user == nil {
		return nil, apperrors.Unauthorized("Missing user")
	}
	if user.Role == model.UserRoleAdmin {
		return h.manager.Get(sessionID)
	}
	return h.manager.GetForUser(user.ID, sessionID)
}

// PUT /v1/sessions/{sessionID}/webhooks
func (h *WebhookHandler) Set(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var params model.CreateWebhookParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	hook, err := sess.RegisterWebhook(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user := middleware.GetUser(r.Context())
	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionWebhookSet, UserID: user.ID, SessionID: sess.ID,
		Details: map[string]any{"event": hook.Event, "url": hook.URL},
	})
	httputil.WriteJSON(w, http.StatusOK, hook)
}

// GET /v1/sessions/{sessionID}/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	hooks, err := sess.Webhooks(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

// DELETE /v1/sessions/{sessionID}/webhooks/{event}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	event := model.WebhookEvent(chi.URLParam(r, "event"))
	if !event.Valid() {
		httputil.WriteError(w, apperrors.InvalidInput("event", string(event)))
		return
	}

	if err := sess.DeleteWebhook(r.Context(), event); err != nil {
		httputil.WriteError(w, err)
		return
	}

	user := middleware.GetUser(r.Context())
	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionWebhookDelete, UserID: user.ID, SessionID: sess.ID,
		Details: map[string]any{"event": event},
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /v1/sessions/{sessionID}/webhooks/{webhookID}/deliveries?limit=
func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, apperrors.InvalidInput("limit", raw))
			return
		}
	}

	deliveries, err := sess.WebhookDeliveries(r.Context(), chi.URLParam(r, "webhookID"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}
