package audit

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
)

type Action string

const (
	ActionUserCreate      Action = "user_create"
	ActionUserDelete      Action = "user_delete"
	ActionKeyRotate       Action = "key_rotate"
	ActionAuthFailure     Action = "auth_failure"
	ActionSessionCreate   Action = "session_create"
	ActionSessionRemove   Action = "session_remove"
	ActionSessionLogout   Action = "session_logout"
	ActionSessionEvicted  Action = "session_evicted"
	ActionSessionRestored Action = "session_restored"
	ActionWebhookSet      Action = "webhook_set"
	ActionWebhookDelete   Action = "webhook_delete"
	ActionBackupCreated   Action = "backup_created"
)

// Recorder writes the activity trail. Entries are structured log lines plus
// an append-only database row; recording failures only log, an audit miss
// must not fail the request that triggered it.
type Recorder struct {
	global *store.Store
}

func NewRecorder(global *store.Store) *Recorder {
	return &Recorder{global: global}
}

type Entry struct {
	Action    Action
	UserID    string
	SessionID string
	Details   map[string]any
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	evt := log.Info().
		Str("audit", "activity").
		Str("action", string(entry.Action))
	if entry.UserID != "" {
		evt = evt.Str("userId", entry.UserID)
	}
	if entry.SessionID != "" {
		evt = evt.Str("sessionId", entry.SessionID)
	}
	if len(entry.Details) > 0 {
		evt = evt.Fields(map[string]any(entry.Details))
	}
	evt.Msg("activity recorded")

	row := &model.ActivityLog{
		Action:  string(entry.Action),
		Details: model.JSONMap(entry.Details),
	}
	if entry.UserID != "" {
		row.UserID = &entry.UserID
	}
	if entry.SessionID != "" {
		row.SessionID = &entry.SessionID
	}
	if err := r.global.InsertActivity(ctx, row); err != nil {
		log.Warn().Err(err).Str("action", string(entry.Action)).Msg("activity row write failed")
	}
}

func (r *Recorder) Recent(ctx context.Context, limit int) ([]model.ActivityLog, error) {
	return r.global.ListActivity(ctx, limit)
}
