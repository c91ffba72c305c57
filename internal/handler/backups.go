package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/audit"
	"github.com/wahub/wahub/internal/config"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/httputil"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/middleware"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/session"
)

// backupTables is the derived state worth exporting. Credentials and the
// protocol store are deliberately excluded.
var backupTables = []string{"chats", "contacts", "messages", "groups", "labels"}

type BackupHandler struct {
	cfg     *config.Config
	manager *manager.Manager
	audit   *audit.Recorder
}

func NewBackupHandler(cfg *config.Config, mgr *manager.Manager, recorder *audit.Recorder) *BackupHandler {
	return &BackupHandler{cfg: cfg, manager: mgr, audit: recorder}
}

func (h *BackupHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	return r
}

func (h *BackupHandler) resolve(r *http.Request) (*session.Session, error) {
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

// POST /v1/sessions/{sessionID}/backups
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	export := make(map[string]any, len(backupTables))
	for _, table := range backupTables {
		rows, err := sess.Store().All(r.Context(), table, "", nil, false)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		export[table] = rows
	}

	dir := filepath.Join(h.cfg.WAStorePath, "backups")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		httputil.WriteError(w, apperrors.Internal("failed to create backup directory").WithCause(err))
		return
	}

	now := time.Now().UTC()
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", sess.ID, now.Format("20060102T150405Z")))
	payload, err := json.Marshal(export)
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("failed to encode backup").WithCause(err))
		return
	}
	if err := os.WriteFile(path, payload, 0o640); err != nil {
		httputil.WriteError(w, apperrors.Internal("failed to write backup").WithCause(err))
		return
	}

	backup := &model.Backup{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Path:      path,
		SizeBytes: int64(len(payload)),
		CreatedAt: now,
	}
	if err := sess.Store().InsertBackup(r.Context(), backup); err != nil {
		httputil.WriteError(w, err)
		return
	}

	user := middleware.GetUser(r.Context())
	h.audit.Record(r.Context(), audit.Entry{
		Action: audit.ActionBackupCreated, UserID: user.ID, SessionID: sess.ID,
		Details: map[string]any{"path": path, "sizeBytes": backup.SizeBytes},
	})
	log.Info().Str("sessionId", sess.ID).Str("path", path).Int64("bytes", backup.SizeBytes).Msg("backup written")
	httputil.WriteJSON(w, http.StatusCreated, backup)
}

// GET /v1/sessions/{sessionID}/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, err := h.resolve(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	backups, err := sess.Store().ListBackups(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"backups": backups})
}
