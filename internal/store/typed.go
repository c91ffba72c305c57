package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/model"
)

// Typed accessors over the hot paths. The generic map primitives serve the
// protocol handlers; session lifecycle, webhooks and audit rows are queried
// often enough that struct scanning and purpose-built statements pay off.

func (s *Store) guard() error {
	if s.closed.Load() {
		return apperrors.StoreClosed()
	}
	return nil
}

// ---- sessions (global store) ----

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var sess model.Session
	err := s.db.GetContext(ctx, &sess, "SELECT * FROM sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	sessions := []model.Session{}
	err := s.db.SelectContext(ctx, &sessions, "SELECT * FROM sessions ORDER BY created_at")
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

// ListLoggedInSessions returns the sessions that held credentials at
// shutdown, oldest first. Startup restore walks this list.
func (s *Store) ListLoggedInSessions(ctx context.Context) ([]model.Session, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	sessions := []model.Session{}
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM sessions WHERE logged_in = 1 ORDER BY created_at")
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

// The Count/Insert/Assign trio runs inside the manager's immediate
// transaction so the cap check and the insert see the same snapshot.

func (s *Store) CountActiveSessionsForUser(ctx context.Context, q database.DBTX, userID string) (int, error) {
	var n int
	err := q.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM user_sessions WHERE user_id = ? AND active = 1", userID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return n, nil
}

func (s *Store) CountSessions(ctx context.Context, q database.DBTX) (int, error) {
	var n int
	if err := q.GetContext(ctx, &n, "SELECT COUNT(*) FROM sessions"); err != nil {
		return 0, apperrors.Database(err)
	}
	return n, nil
}

func (s *Store) InsertSession(ctx context.Context, q database.DBTX, id string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx,
		"INSERT INTO sessions (id, status, logged_in, created_at, updated_at) VALUES (?, ?, 0, ?, ?)",
		id, model.SessionStatusDisconnected, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("session")
		}
		return apperrors.Database(err)
	}
	return nil
}

func (s *Store) AssignSession(ctx context.Context, q database.DBTX, userID, sessionID string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, session_id, active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET active = 1, updated_at = excluded.updated_at`,
		userID, sessionID, now, now)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (s *Store) DeactivateAssignment(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE user_sessions SET active = 0, updated_at = ? WHERE session_id = ?",
			time.Now().UTC(), sessionID)
		return err
	})
}

// OwnerOfSession returns the user holding the active assignment, or empty.
func (s *Store) OwnerOfSession(ctx context.Context, sessionID string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	var userID string
	err := s.db.GetContext(ctx, &userID,
		"SELECT user_id FROM user_sessions WHERE session_id = ? AND active = 1", sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Database(err)
	}
	return userID, nil
}

func (s *Store) SessionIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		"SELECT session_id FROM user_sessions WHERE user_id = ? AND active = 1 ORDER BY created_at", userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return ids, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	if err := s.guard(); err != nil {
		return err
	}
	// An open connection implies a paired, logged-in device.
	query := "UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?"
	if status == model.SessionStatusOpen {
		query = "UPDATE sessions SET status = ?, logged_in = 1, updated_at = ? WHERE id = ?"
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.invalidate("sessions", []any{id})
	return nil
}

// SaveSessionIdentity records the device identity learned on a successful
// pairing and clears any pending QR.
func (s *Store) SaveSessionIdentity(ctx context.Context, id, deviceID, phone, platform string) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			UPDATE sessions
			SET device_id = ?, phone = ?, platform = ?, logged_in = 1, qr = NULL, updated_at = ?
			WHERE id = ?`,
			deviceID, phone, platform, time.Now().UTC(), id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.invalidate("sessions", []any{id})
	return nil
}

// SaveSessionQR stores the current pairing code without touching status;
// QR rotation is not a state transition.
func (s *Store) SaveSessionQR(ctx context.Context, id, qr string) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"UPDATE sessions SET qr = ?, updated_at = ? WHERE id = ?",
			qr, time.Now().UTC(), id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.invalidate("sessions", []any{id})
	return nil
}

// SaveSessionCreds persists the credential blob exactly as handed over.
func (s *Store) SaveSessionCreds(ctx context.Context, id string, creds model.JSONMap) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"UPDATE sessions SET creds = ?, updated_at = ? WHERE id = ?",
			creds, time.Now().UTC(), id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.invalidate("sessions", []any{id})
	return nil
}

// MarkSessionLoggedOut clears credentials and pairing state after an
// explicit logout or a terminal disconnect.
func (s *Store) MarkSessionLoggedOut(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?, logged_in = 0, creds = NULL, qr = NULL, updated_at = ?
			WHERE id = ?`,
			model.SessionStatusLoggedOut, time.Now().UTC(), id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.invalidate("sessions", []any{id})
	return nil
}

func (s *Store) TouchSessionSeen(ctx context.Context, id string, at time.Time) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"UPDATE sessions SET last_seen = ?, updated_at = ? WHERE id = ?",
			at, time.Now().UTC(), id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.invalidate("sessions", []any{id})
	return nil
}

// DeleteSessionRow hard-deletes the session; the cascading foreign keys take
// every scoped row with it.
func (s *Store) DeleteSessionRow(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
		return execErr
	})
	if err != nil {
		return err
	}
	s.cache.Purge()
	return nil
}

// ---- users (global store) ----

func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (id, username, password_hash, api_key, role, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, u.PasswordHash, u.APIKey, u.Role, u.CreatedAt, u.UpdatedAt)
		if err != nil && isUniqueViolation(err) {
			return apperrors.AlreadyExists("user")
		}
		return err
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUserBy(ctx, "username", username)
}

func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	return s.getUserBy(ctx, "api_key", apiKey)
}

func (s *Store) getUserBy(ctx context.Context, col, value string) (*model.User, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var u model.User
	err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE "+col+" = ?", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	users := []model.User{}
	err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY created_at")
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return users, nil
}

func (s *Store) RotateAPIKey(ctx context.Context, id, apiKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE users SET api_key = ?, updated_at = ? WHERE id = ?",
			apiKey, time.Now().UTC(), id)
		return err
	})
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
		return err
	})
}

// ---- webhooks (session store) ----

// UpsertWebhook registers or replaces the callback for the pair
// (session, event). The row id survives replacement so delivery history
// stays attached.
func (s *Store) UpsertWebhook(ctx context.Context, p model.CreateWebhookParams) (*model.Webhook, error) {
	if _, err := s.resolve("webhooks"); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, apperrors.MissingRequired("url")
	}
	if !p.Event.Valid() {
		return nil, apperrors.InvalidInput("event", string(p.Event))
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	now := time.Now().UTC()
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO webhooks
				(id, session_id, event, url, headers, enabled, retry_count, retry_delay_ms, timeout_ms, failure_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(session_id, event) DO UPDATE SET
				url = excluded.url,
				headers = excluded.headers,
				enabled = excluded.enabled,
				retry_count = excluded.retry_count,
				retry_delay_ms = excluded.retry_delay_ms,
				timeout_ms = excluded.timeout_ms,
				failure_count = 0,
				updated_at = excluded.updated_at`,
			uuid.NewString(), s.sessionID, p.Event, p.URL, p.Headers, enabled,
			p.RetryCount, p.RetryDelayMS, p.TimeoutMS, now, now)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidatePrefix("webhooks:")
	return s.FindWebhook(ctx, p.Event)
}

// FindWebhook returns the registered callback for event, or nil.
func (s *Store) FindWebhook(ctx context.Context, event model.WebhookEvent) (*model.Webhook, error) {
	if _, err := s.resolve("webhooks"); err != nil {
		return nil, err
	}
	var w model.Webhook
	err := s.db.GetContext(ctx, &w,
		"SELECT * FROM webhooks WHERE session_id = ? AND event = ?", s.sessionID, event)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &w, nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	if _, err := s.resolve("webhooks"); err != nil {
		return nil, err
	}
	hooks := []model.Webhook{}
	err := s.db.SelectContext(ctx, &hooks,
		"SELECT * FROM webhooks WHERE session_id = ? ORDER BY event", s.sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return hooks, nil
}

func (s *Store) DeleteWebhook(ctx context.Context, event model.WebhookEvent) error {
	if _, err := s.resolve("webhooks"); err != nil {
		return err
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"DELETE FROM webhooks WHERE session_id = ? AND event = ?", s.sessionID, event)
		return execErr
	})
	if err != nil {
		return err
	}
	s.cache.InvalidatePrefix("webhooks:")
	return nil
}

// RecordDelivery appends one attempt to the delivery log.
func (s *Store) RecordDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	if _, err := s.resolve("webhook_deliveries"); err != nil {
		return err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.SessionID = s.sessionID
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO webhook_deliveries
				(id, webhook_id, session_id, event, attempt, status, status_code, error, elapsed_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.WebhookID, d.SessionID, d.Event, d.Attempt, d.Status,
			d.StatusCode, d.Error, d.ElapsedMS, d.CreatedAt)
		return err
	})
}

// RecordWebhookResult folds one finished delivery into the webhook's health
// counters: success resets the failure streak, failure extends it.
func (s *Store) RecordWebhookResult(ctx context.Context, webhookID string, success bool) error {
	if _, err := s.resolve("webhooks"); err != nil {
		return err
	}
	now := time.Now().UTC()
	var query string
	args := []any{now, webhookID}
	if success {
		query = "UPDATE webhooks SET failure_count = 0, last_success = ?, updated_at = ? WHERE id = ?"
		args = []any{now, now, webhookID}
	} else {
		query = "UPDATE webhooks SET failure_count = failure_count + 1, updated_at = ? WHERE id = ?"
	}
	err := s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return err
	}
	s.cache.InvalidatePrefix("webhooks:")
	return nil
}

func (s *Store) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	if _, err := s.resolve("webhook_deliveries"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	deliveries := []model.WebhookDelivery{}
	err := s.db.SelectContext(ctx, &deliveries, `
		SELECT * FROM webhook_deliveries
		WHERE session_id = ? AND webhook_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		s.sessionID, webhookID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return deliveries, nil
}

// PruneDeliveries drops delivery rows older than cutoff. Runs on the global
// store from the cleanup job.
func (s *Store) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	query := "DELETE FROM webhook_deliveries WHERE created_at < ?"
	args := []any{cutoff}
	if s.sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, s.sessionID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- activity log / backups ----

func (s *Store) InsertActivity(ctx context.Context, entry *model.ActivityLog) error {
	if err := s.guard(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO activity_logs (id, session_id, user_id, action, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.SessionID, entry.UserID, entry.Action, entry.Details, entry.CreatedAt)
		return err
	})
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]model.ActivityLog, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	entries := []model.ActivityLog{}
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM activity_logs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return entries, nil
}

func (s *Store) InsertBackup(ctx context.Context, b *model.Backup) error {
	if _, err := s.resolve("backups"); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.SessionID = s.sessionID
	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO backups (id, session_id, path, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)",
			b.ID, b.SessionID, b.Path, b.SizeBytes, b.CreatedAt)
		return err
	})
}

func (s *Store) ListBackups(ctx context.Context) ([]model.Backup, error) {
	if _, err := s.resolve("backups"); err != nil {
		return nil, err
	}
	backups := []model.Backup{}
	err := s.db.SelectContext(ctx, &backups,
		"SELECT * FROM backups WHERE session_id = ? ORDER BY created_at DESC", s.sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return backups, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
