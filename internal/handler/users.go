package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wahub/wahub/internal/audit"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/middleware"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/users"
)

// UserHandler exposes account management. All routes are admin-gated
// except key rotation, which a user may do for their own account.
type UserHandler struct {
	users *users.Service
	audit *audit.Recorder
}

func NewUserHandler(svc *users.Service, recorder *audit.Recorder) *UserHandler {
	return &UserHandler{users: svc, audit: recorder}
}

func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireAdmin).Post("/", h.Create)
	r.With(middleware.RequireAdmin).Get("/", h.List)
	r.With(middleware.RequireAdmin).Get("/{userID}", h.Get)
	r.With(middleware.RequireAdmin).Delete("/{userID}", h.Delete)
	r.Post("/{userID}/rotate-key", h.RotateKey)
	return r
}

// POST /v1/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params model.CreateUserParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	user, err := h.users.Create(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	actor := middleware.GetUser(r.Context())
	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionUserCreate, UserID: actor.ID,
		Details: map[string]any{"createdUserId": user.ID, "username": user.Username},
	})
	// The API key is only returned here, at creation time.
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"user":   user,
		"apiKey": user.APIKey,
	})
}

// GET /v1/users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": list})
}

// GET /v1/users/{userID}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// DELETE /v1/users/{userID}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	actor := middleware.GetUser(r.Context())
	if actor.ID == userID {
		httputil.WriteError(w, apperrors.InvalidInput("userId", "cannot delete own account"))
		return
	}

	if err := h.users.Delete(r.Context(), userID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionUserDelete, UserID: actor.ID,
		Details: map[string]any{"deletedUserId": userID},
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /v1/users/{userID}/rotate-key
func (h *UserHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	actor := middleware.GetUser(r.Context())
	if actor.Role != model.UserRoleAdmin && actor.ID != userID {
		httputil.WriteError(w, apperrors.Forbidden("cannot rotate another user's key"))
		return
	}

	apiKey, err := h.users.RotateAPIKey(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionKeyRotate, UserID: actor.ID,
		Details: map[string]any{"rotatedUserId": userID},
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"apiKey": apiKey})
}
