package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/session"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/wasocket"
)

// Manager owns the live session registry: creation under the per-user and
// global caps, restore at boot, idle eviction and teardown. Sessions do the
// protocol work; the manager only decides which ones exist.
type Manager struct {
	cfg    *config.Config
	db     *database.DB
	global *store.Store
	bus    *events.Bus
	dialer wasocket.Dialer

	mu       sync.RWMutex
	sessions map[string]*session.Session
	owners   map[string]string // session id -> user id
	closed   bool
}

func New(cfg *config.Config, db *database.DB, global *store.Store, bus *events.Bus, dialer wasocket.Dialer) *Manager {
	return &Manager{
		cfg:      cfg,
		db:       db,
		global:   global,
		bus:      bus,
		dialer:   dialer,
		sessions: make(map[string]*session.Session),
		owners:   make(map[string]string),
	}
}

// Create registers a new session for userID and starts connecting it. The
// cap check and the insert share one immediate transaction so two racing
// creates cannot both squeeze under the limit.
func (m *Manager) Create(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.Internal("manager is shut down")
	}
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return nil, apperrors.AlreadyExists("session")
	}
	m.mu.Unlock()

	err := m.db.WithImmediateTx(ctx, func(conn *sqlx.Conn) error {
		userCount, err := m.global.CountActiveSessionsForUser(ctx, conn, userID)
		if err != nil {
			return err
		}
		if userCount >= m.cfg.MaxSessionsPerUser {
			return apperrors.LimitExceeded(
				fmt.Sprintf("user session limit reached (%d)", m.cfg.MaxSessionsPerUser))
		}

		total, err := m.global.CountSessions(ctx, conn)
		if err != nil {
			return err
		}
		if total >= m.cfg.MaxSessionsGlobal {
			return apperrors.LimitExceeded(
				fmt.Sprintf("global session limit reached (%d)", m.cfg.MaxSessionsGlobal))
		}

		if err := m.global.InsertSession(ctx, conn, sessionID); err != nil {
			return err
		}
		return m.global.AssignSession(ctx, conn, userID, sessionID)
	})
	if err != nil {
		return nil, err
	}

	sess, err := m.register(sessionID, userID)
	if err != nil {
		return nil, err
	}

	go m.startSession(sess)

	log.Info().Str("sessionId", sessionID).Str("userId", userID).Msg("session created")
	return sess, nil
}

func (m *Manager) register(sessionID, userID string) (*session.Session, error) {
	sess, err := session.New(m.cfg, sessionID, m.db, m.global, m.bus, m.dialer)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sess.Close()
		return nil, apperrors.Internal("manager is shut down")
	}
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		sess.Close()
		return nil, apperrors.AlreadyExists("session")
	}
	m.sessions[sessionID] = sess
	m.owners[sessionID] = userID
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) startSession(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("session start failed")
	}
}

// Get returns the live session or a not-found error.
func (m *Manager) Get(sessionID string) (*session.Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("session")
	}
	return sess, nil
}

// GetForUser returns the session only when userID holds its assignment.
func (m *Manager) GetForUser(userID, sessionID string) (*session.Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	owner := m.owners[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("session")
	}
	if owner != userID {
		return nil, apperrors.Forbidden("session belongs to another user")
	}
	return sess, nil
}

// ListForUser returns the user's live sessions.
func (m *Manager) ListForUser(userID string) []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, 4)
	for id, sess := range m.sessions {
		if m.owners[id] == userID {
			out = append(out, sess)
		}
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Disconnect closes the live session without touching its rows or its
// assignment; a later Create or restore can revive it. Idempotent.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	delete(m.owners, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.Close()
	m.bus.DropSession(sessionID)
}

// Remove logs the session out, detaches its assignment and deletes every
// row it owns. Socket errors during teardown are logged and swallowed; the
// removal itself always completes. The bool reports whether a live session
// was actually torn down, so repeat calls are visible to the caller.
func (m *Manager) Remove(ctx context.Context, sessionID string, logout bool) (bool, error) {
	m.mu.Lock()
	sess, live := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	delete(m.owners, sessionID)
	m.mu.Unlock()

	if live {
		if logout {
			if err := sess.Logout(ctx); err != nil {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("logout during removal failed")
			}
		}
		sess.Close()
	}

	if err := m.global.DeactivateAssignment(ctx, sessionID); err != nil {
		return live, err
	}
	if err := m.global.DeleteSessionRow(ctx, sessionID); err != nil {
		return live, err
	}
	m.bus.DropSession(sessionID)

	log.Info().Str("sessionId", sessionID).Bool("wasLive", live).Msg("session removed")
	return live, nil
}

// RestoreAll revives every session that was logged in at shutdown. A
// session that fails to restore is marked logged out and skipped; one bad
// credential set must not block the rest of the fleet.
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	rows, err := m.global.ListLoggedInSessions(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, row := range rows {
		userID, err := m.global.OwnerOfSession(ctx, row.ID)
		if err != nil || userID == "" {
			log.Warn().Err(err).Str("sessionId", row.ID).Msg("restore skipped, no active owner")
			continue
		}

		sess, err := m.register(row.ID, userID)
		if err != nil {
			log.Error().Err(err).Str("sessionId", row.ID).Msg("restore failed")
			if markErr := m.global.MarkSessionLoggedOut(ctx, row.ID); markErr != nil {
				log.Warn().Err(markErr).Str("sessionId", row.ID).Msg("mark logged out failed")
			}
			continue
		}
		go m.startSession(sess)
		restored++
	}

	log.Info().Int("restored", restored).Int("candidates", len(rows)).Msg("session restore complete")
	return restored, nil
}

// SweepIdle disconnects sessions with no activity since the idle window.
// Open sessions are exempt however quiet they are; only connections already
// down go away. Their rows and assignments survive.
func (m *Manager) SweepIdle(ctx context.Context) []string {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout())

	m.mu.RLock()
	idle := make([]string, 0)
	for id, sess := range m.sessions {
		if sess.Status() == model.SessionStatusOpen {
			continue
		}
		if sess.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		log.Info().Str("sessionId", id).Msg("evicting idle session")
		if err := m.global.UpdateSessionStatus(ctx, id, model.SessionStatusClose); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("persist eviction status failed")
		}
		m.Disconnect(id)
	}
	return idle
}

// CloseAll tears down every live session for shutdown. The database rows
// are untouched so RestoreAll can bring the fleet back.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*session.Session)
	m.owners = make(map[string]string)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Close()
		}(sess)
	}
	wg.Wait()
	log.Info().Int("count", len(sessions)).Msg("all sessions closed")
}
