package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wahub/wahub/internal/audit"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/middleware"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/session"
	"github.com/wahub/wahub/internal/wasocket"
)

type SessionHandler struct {
	manager *manager.Manager
	audit   *audit.Recorder
}

func NewSessionHandler(mgr *manager.Manager, recorder *audit.Recorder) *SessionHandler {
	return &SessionHandler{manager: mgr, audit: recorder}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{sessionID}", h.Status)
	r.Delete("/{sessionID}", h.Remove)
	r.Post("/{sessionID}/logout", h.Logout)

	r.Post("/{sessionID}/messages", h.SendMessage)
	r.Post("/{sessionID}/reactions", h.React)
	r.Post("/{sessionID}/read", h.MarkRead)
	r.Post("/{sessionID}/presence", h.SetPresence)
	r.Post("/{sessionID}/typing", h.SetTyping)
	r.Post("/{sessionID}/status-message", h.SetStatusMessage)
	r.Post("/{sessionID}/blocklist", h.SetBlocked)
	r.Get("/{sessionID}/profile-picture", h.ProfilePicture)

	r.Post("/{sessionID}/groups", h.CreateGroup)
	r.Post("/{sessionID}/groups/join", h.JoinGroup)
	r.Patch("/{sessionID}/groups/{groupJID}", h.UpdateGroup)
	r.Post("/{sessionID}/groups/{groupJID}/participants", h.UpdateParticipants)
	r.Get("/{sessionID}/groups/{groupJID}/invite-link", h.InviteLink)

	r.Get("/{sessionID}/chats", h.ListChats)
	r.Get("/{sessionID}/contacts", h.ListContacts)
	r.Get("/{sessionID}/messages", h.ListMessages)
	r.Get("/{sessionID}/groups", h.ListGroups)
	r.Get("/{sessionID}/calls", h.ListCalls)
	r.Get("/{sessionID}/labels", h.ListLabels)

	return r
}

// resolve loads the session named in the URL, enforcing ownership for
// non-admin callers.
func (h *SessionHandler) resolve(r *http.Request) (*session.Session, error) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	user := middleware.GetUser(r.Context())
	if user == nil {
		return nil, apperrors.Unauthorized("Missing user")
	}
	if user.Role == model.UserRoleAdmin {
		return h.manager.Get(sessionID)
	}
	return h.manager.GetForUser(user.ID, sessionID)
}

type createSessionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

type sessionResponse struct {
	ID        string              `json:"id"`
	Status    model.SessionStatus `json:"status"`
	QR        string              `json:"qr,omitempty"`
	Connected bool                `json:"connected"`
	Queued    int                 `json:"queuedMessages"`
}

func sessionView(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Status:    s.Status(),
		QR:        s.QRCode(),
		Connected: s.Connected(),
		Queued:    s.QueueDepth(),
	}
}

// POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
			return
		}
	}

	sess, err := h.manager.Create(r.Context(), user.ID, req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionSessionCreate, UserID: user.ID, SessionID: sess.ID,
	})
	httputil.WriteJSON(w, http.StatusCreated, sessionView(sess))
}

// GET /v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	sessions := h.manager.ListForUser(user.ID)

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionView(sess))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionView(sess))
}

// DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	logout := r.URL.Query().Get("logout") != "false"
	wasLive, err := h.manager.Remove(r.Context(), sess.ID, logout)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user := middleware.GetUser(r.Context())
	// The session row is gone; keep its id in the details, not the FK column.
	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionSessionRemove, UserID: user.ID,
		Details: map[string]any{"sessionId": sess.ID},
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "removed", "wasLive": wasLive})
}

// POST /v1/sessions/{sessionID}/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := sess.Logout(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}

	user := middleware.GetUser(r.Context())
	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionSessionLogout, UserID: user.ID, SessionID: sess.ID,
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// POST /v1/sessions/{sessionID}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := sess.SendText(r.Context(), req.To, req.Body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

type reactionRequest struct {
	ChatJID   string `json:"chatJid"`
	SenderJID string `json:"senderJid"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// POST /v1/sessions/{sessionID}/reactions
func (h *SessionHandler) React(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := sess.React(r.Context(), req.ChatJID, req.SenderJID, req.MessageID, req.Emoji); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type markReadRequest struct {
	ChatJID    string   `json:"chatJid"`
	SenderJID  string   `json:"senderJid"`
	MessageIDs []string `json:"messageIds"`
}

// POST /v1/sessions/{sessionID}/read
func (h *SessionHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := sess.MarkRead(r.Context(), req.ChatJID, req.SenderJID, req.MessageIDs); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// POST /v1/sessions/{sessionID}/presence
func (h *SessionHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := sess.SetPresence(r.Context(), req.Available); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// POST /v1/sessions/{sessionID}/typing
func (h *SessionHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req struct {
		ChatJID string `json:"chatJid"`
		Typing  bool   `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := sess.SetTyping(r.Context(), req.ChatJID, req.Typing); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// POST /v1/sessions/{sessionID}/status-message
func (h *SessionHandler) SetStatusMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := sess.SetStatusMessage(r.Context(), req.Message); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// POST /v1/sessions/{sessionID}/blocklist
func (h *SessionHandler) SetBlocked(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req struct {
		JID     string `json:"jid"`
		Blocked bool   `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if err := sess.SetBlocked(r.Context(), req.JID, req.Blocked); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// GET /v1/sessions/{sessionID}/profile-picture?jid=
func (h *SessionHandler) ProfilePicture(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	url, err := sess.ProfilePictureURL(r.Context(), r.URL.Query().Get("jid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// POST /v1/sessions/{sessionID}/groups
func (h *SessionHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	jid, err := sess.CreateGroup(r.Context(), req.Name, req.Members)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"jid": jid})
}

// POST /v1/sessions/{sessionID}/groups/join
func (h *SessionHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	jid, err := sess.JoinGroupWithLink(r.Context(), req.Code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"jid": jid})
}

// PATCH /v1/sessions/{sessionID}/groups/{groupJID}
func (h *SessionHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	groupJID := chi.URLParam(r, "groupJID")

	var req struct {
		Name  *string `json:"name,omitempty"`
		Topic *string `json:"topic,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	if req.Name != nil {
		if err := sess.SetGroupName(r.Context(), groupJID, *req.Name); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if req.Topic != nil {
		if err := sess.SetGroupTopic(r.Context(), groupJID, *req.Topic); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// POST /v1/sessions/{sessionID}/groups/{groupJID}/participants
func (h *SessionHandler) UpdateParticipants(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	groupJID := chi.URLParam(r, "groupJID")

	var req struct {
		Members []string `json:"members"`
		Action  string   `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	action := wasocket.GroupParticipantAction(req.Action)
	switch action {
	case wasocket.ParticipantAdd, wasocket.ParticipantRemove,
		wasocket.ParticipantPromote, wasocket.ParticipantDemote:
	default:
		httputil.WriteError(w, apperrors.InvalidInput("action", req.Action))
		return
	}

	if err := sess.UpdateGroupParticipants(r.Context(), groupJID, req.Members, action); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// GET /v1/sessions/{sessionID}/groups/{groupJID}/invite-link
func (h *SessionHandler) InviteLink(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	groupJID := chi.URLParam(r, "groupJID")
	reset := r.URL.Query().Get("reset") == "true"

	link, err := sess.GroupInviteLink(r.Context(), groupJID, reset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"link": link})
}

// listTable streams rows from one session-scoped table.
func (h *SessionHandler) listTable(w http.ResponseWriter, r *http.Request, table, where string, args ...any) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"

	rows, err := sess.Store().All(r.Context(), table, where, args, includeDeleted)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{table: rows})
}

func (h *SessionHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	h.listTable(w, r, "chats", "")
}

func (h *SessionHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	h.listTable(w, r, "contacts", "")
}

func (h *SessionHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	h.listTable(w, r, "groups", "")
}

func (h *SessionHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	h.listTable(w, r, "calls", "")
}

func (h *SessionHandler) ListLabels(w http.ResponseWriter, r *http.Request) {
	h.listTable(w, r, "labels", "")
}

// GET /v1/sessions/{sessionID}/messages?chatJid=
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatJID := r.URL.Query().Get("chatJid")
	if chatJID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("chatJid"))
		return
	}
	h.listTable(w, r, "messages", "chat_jid = ?", chatJID)
}
