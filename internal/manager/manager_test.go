package manager

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/wasocket"
)

// stubSocket accepts every call; manager tests only exercise lifecycle.
type stubSocket struct {
	mu        sync.Mutex
	connected bool
	handler   wasocket.Handler
}

func (s *stubSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(wasocket.Connected{})
	}
	return nil
}

func (s *stubSocket) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *stubSocket) Logout(ctx context.Context) error {
	s.Disconnect()
	return nil
}

func (s *stubSocket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubSocket) IsLoggedIn() bool { return true }

func (s *stubSocket) SendText(ctx context.Context, toJID, body string) (string, error) {
	return "ID", nil
}
func (s *stubSocket) SendReaction(ctx context.Context, chatJID, senderJID, messageID, emoji string) error {
	return nil
}
func (s *stubSocket) MarkRead(ctx context.Context, chatJID, senderJID string, messageIDs []string) error {
	return nil
}
func (s *stubSocket) SendPresence(ctx context.Context, available bool) error { return nil }
func (s *stubSocket) SendChatPresence(ctx context.Context, chatJID string, typing bool) error {
	return nil
}
func (s *stubSocket) CreateGroup(ctx context.Context, name string, memberJIDs []string) (string, error) {
	return "", nil
}
func (s *stubSocket) UpdateGroupParticipants(ctx context.Context, groupJID string, memberJIDs []string, action wasocket.GroupParticipantAction) error {
	return nil
}
func (s *stubSocket) SetGroupName(ctx context.Context, groupJID, name string) error   { return nil }
func (s *stubSocket) SetGroupTopic(ctx context.Context, groupJID, topic string) error { return nil }
func (s *stubSocket) GetGroupInviteLink(ctx context.Context, groupJID string, reset bool) (string, error) {
	return "", nil
}
func (s *stubSocket) JoinGroupWithLink(ctx context.Context, code string) (string, error) {
	return "", nil
}
func (s *stubSocket) UpdateBlocklist(ctx context.Context, jid string, block bool) error { return nil }
func (s *stubSocket) SetStatusMessage(ctx context.Context, message string) error        { return nil }
func (s *stubSocket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	return "", nil
}
func (s *stubSocket) SyncContacts(ctx context.Context) ([]store.ContactInput, error) {
	return nil, nil
}
func (s *stubSocket) SyncGroups(ctx context.Context) ([]store.GroupInput, error) { return nil, nil }

func (s *stubSocket) emit(evt wasocket.Event) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

type stubDialer struct{}

func (stubDialer) Dial(ctx context.Context, sessionID string, handler wasocket.Handler) (wasocket.Socket, error) {
	sock := &stubSocket{handler: handler}
	return sock, nil
}

// capturingDialer remembers each socket it hands out so tests can drive
// protocol events into a specific session.
type capturingDialer struct {
	mu    sync.Mutex
	socks map[string]*stubSocket
}

func (d *capturingDialer) Dial(ctx context.Context, sessionID string, handler wasocket.Handler) (wasocket.Socket, error) {
	sock := &stubSocket{handler: handler}
	d.mu.Lock()
	if d.socks == nil {
		d.socks = make(map[string]*stubSocket)
	}
	d.socks[sessionID] = sock
	d.mu.Unlock()
	return sock, nil
}

func (d *capturingDialer) socket(sessionID string) *stubSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socks[sessionID]
}

func testConfig() *config.Config {
	return &config.Config{
		MaxSessionsPerUser:    2,
		MaxSessionsGlobal:     3,
		IdleTimeoutMinutes:    30,
		CacheSize:             64,
		WebhookTimeoutSeconds: 2,
		MaxReconnectAttempts:  1,
	}
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *database.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	global, err := store.New(db, "", 64)
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	m := New(testConfig(), db, global, bus, stubDialer{})
	t.Cleanup(m.CloseAll)
	return m, global, db
}

func seedUser(t *testing.T, global *store.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, global.InsertUser(context.Background(), &model.User{
		ID: id, Username: id, PasswordHash: "x", APIKey: "key-" + id,
		Role: model.UserRoleUser, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestCreateAndGet(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")

	sess, err := m.Create(context.Background(), "u1", "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	got, err = m.GetForUser("u1", sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestCreateDuplicateID(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")

	_, err := m.Create(context.Background(), "u1", "dup")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "u1", "dup")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.GetCode(err))
}

func TestPerUserCap(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")

	_, err := m.Create(context.Background(), "u1", "a")
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "u1", "b")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "u1", "c")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLimitExceeded, apperrors.GetCode(err))
}

func TestGlobalCap(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")
	seedUser(t, global, "u2")

	require.NoError(t, errOnly(m.Create(context.Background(), "u1", "a")))
	require.NoError(t, errOnly(m.Create(context.Background(), "u1", "b")))
	require.NoError(t, errOnly(m.Create(context.Background(), "u2", "c")))

	err := errOnly(m.Create(context.Background(), "u2", "d"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLimitExceeded, apperrors.GetCode(err))
}

func errOnly(_ any, err error) error { return err }

func TestOwnership(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")
	seedUser(t, global, "u2")

	sess, err := m.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	_, err = m.GetForUser("u2", sess.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetCode(err))

	assert.Len(t, m.ListForUser("u1"), 1)
	assert.Empty(t, m.ListForUser("u2"))
}

func TestRemoveDeletesEverything(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")
	ctx := context.Background()

	sess, err := m.Create(ctx, "u1", "gone")
	require.NoError(t, err)

	removed, err := m.Remove(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = m.Get("gone")
	require.Error(t, err)

	row, err := global.GetSession(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, row)

	// Removing again is a no-op and says so.
	removed, err = m.Remove(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDisconnectKeepsRows(t *testing.T) {
	m, global, _ := newTestManager(t)
	seedUser(t, global, "u1")
	ctx := context.Background()

	sess, err := m.Create(ctx, "u1", "kept")
	require.NoError(t, err)
	_ = sess

	m.Disconnect("kept")

	_, err = m.Get("kept")
	require.Error(t, err)

	row, err := global.GetSession(ctx, "kept")
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestRestoreAll(t *testing.T) {
	m, global, db := newTestManager(t)
	seedUser(t, global, "u1")
	ctx := context.Background()

	sess, err := m.Create(ctx, "u1", "revive")
	require.NoError(t, err)
	_ = sess

	// Simulate a pairing having completed before shutdown.
	require.NoError(t, global.SaveSessionIdentity(ctx, "revive", "device:1", "49123456789", "android"))

	m.CloseAll()

	m2 := New(testConfig(), db, global, events.NewBus(), stubDialer{})
	t.Cleanup(m2.CloseAll)

	restored, err := m2.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	_, err = m2.GetForUser("u1", "revive")
	assert.NoError(t, err)
}

func TestRestoreSkipsUnassigned(t *testing.T) {
	m, global, db := newTestManager(t)
	ctx := context.Background()

	// A logged-in session row with no active assignment must be skipped.
	require.NoError(t, global.InsertSession(ctx, db, "orphan"))
	require.NoError(t, global.SaveSessionIdentity(ctx, "orphan", "device:2", "49123456789", "ios"))

	restored, err := m.RestoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
}

func TestSweepIdle(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	global, err := store.New(db, "", 64)
	require.NoError(t, err)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	dialer := &capturingDialer{}
	m := New(testConfig(), db, global, bus, dialer)
	t.Cleanup(m.CloseAll)
	seedUser(t, global, "u1")
	ctx := context.Background()

	busy, err := m.Create(ctx, "u1", "busy")
	require.NoError(t, err)
	sleepy, err := m.Create(ctx, "u1", "sleepy")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return busy.Status() == model.SessionStatusOpen && sleepy.Status() == model.SessionStatusOpen
	}, 2*time.Second, 10*time.Millisecond)

	// Nothing is idle yet.
	assert.Empty(t, m.SweepIdle(ctx))

	// Shrink the window so everything is stale, then knock one
	// connection down. Only the non-open session may be evicted.
	m.cfg.IdleTimeoutMinutes = 0
	sock := dialer.socket("sleepy")
	sock.Disconnect()
	sock.emit(wasocket.Disconnected{})
	require.Eventually(t, func() bool {
		return sleepy.Status() == model.SessionStatusClose
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	evicted := m.SweepIdle(ctx)
	require.Equal(t, []string{"sleepy"}, evicted)

	_, err = m.Get("sleepy")
	require.Error(t, err)
	_, err = m.Get("busy")
	assert.NoError(t, err, "a quiet open session survives the sweep")

	row, err := global.GetSession(ctx, "sleepy")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, model.SessionStatusClose, row.Status)
}
