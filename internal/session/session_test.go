package session

import (
	"context"
	"errors"
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

// fakeSocket is a scriptable stand-in for the protocol client.
type fakeSocket struct {
	mu           sync.Mutex
	connected    bool
	loggedIn     bool
	sent         []string
	sendErr      error
	connectErr   error
	connectCalls int
	handler      wasocket.Handler
}

func (f *fakeSocket) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectCalls++
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.connected = true
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(wasocket.Connected{})
	}
	return nil
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeSocket) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.loggedIn = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeSocket) SendText(ctx context.Context, toJID, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, body)
	return "MSG-ID", nil
}

func (f *fakeSocket) sentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSocket) SendReaction(ctx context.Context, chatJID, senderJID, messageID, emoji string) error {
	return nil
}
func (f *fakeSocket) MarkRead(ctx context.Context, chatJID, senderJID string, messageIDs []string) error {
	return nil
}
func (f *fakeSocket) SendPresence(ctx context.Context, available bool) error          { return nil }
func (f *fakeSocket) SendChatPresence(ctx context.Context, chatJID string, typing bool) error {
	return nil
}
func (f *fakeSocket) CreateGroup(ctx context.Context, name string, memberJIDs []string) (string, error) {
	return "123456789-1@g.us", nil
}
func (f *fakeSocket) UpdateGroupParticipants(ctx context.Context, groupJID string, memberJIDs []string, action wasocket.GroupParticipantAction) error {
	return nil
}
func (f *fakeSocket) SetGroupName(ctx context.Context, groupJID, name string) error   { return nil }
func (f *fakeSocket) SetGroupTopic(ctx context.Context, groupJID, topic string) error { return nil }
func (f *fakeSocket) GetGroupInviteLink(ctx context.Context, groupJID string, reset bool) (string, error) {
	return "https://chat.example.com/invite", nil
}
func (f *fakeSocket) JoinGroupWithLink(ctx context.Context, code string) (string, error) {
	return "123456789-1@g.us", nil
}
func (f *fakeSocket) UpdateBlocklist(ctx context.Context, jid string, block bool) error { return nil }
func (f *fakeSocket) SetStatusMessage(ctx context.Context, message string) error        { return nil }
func (f *fakeSocket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	return "", nil
}
func (f *fakeSocket) SyncContacts(ctx context.Context) ([]store.ContactInput, error) {
	return nil, nil
}
func (f *fakeSocket) SyncGroups(ctx context.Context) ([]store.GroupInput, error) { return nil, nil }

type fakeDialer struct {
	mu      sync.Mutex
	socket  *fakeSocket
	dialErr error
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, sessionID string, handler wasocket.Handler) (wasocket.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.socket.handler = handler
	return d.socket, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxSessionsPerUser:    5,
		MaxSessionsGlobal:     100,
		IdleTimeoutMinutes:    30,
		CacheSize:             64,
		WebhookTimeoutSeconds: 2,
		MaxReconnectAttempts:  2,
	}
}

func newTestSession(t *testing.T, dialer wasocket.Dialer) (*Session, *store.Store) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	global, err := store.New(db, "", 64)
	require.NoError(t, err)
	require.NoError(t, global.InsertSession(context.Background(), db, "s1"))

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	sess, err := New(testConfig(), "s1", db, global, bus, dialer)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess, global
}

func TestStartConnectsAndOpens(t *testing.T) {
	dialer := &fakeDialer{socket: &fakeSocket{}}
	sess, _ := newTestSession(t, dialer)

	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, model.SessionStatusOpen, sess.Status())
	assert.True(t, sess.Connected())
}

func TestSendTextValidatesJID(t *testing.T) {
	dialer := &fakeDialer{socket: &fakeSocket{}}
	sess, _ := newTestSession(t, dialer)

	_, err := sess.SendText(context.Background(), "garbage", "hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidJID, apperrors.GetCode(err))

	_, err = sess.SendText(context.Background(), "123456789@s.whatsapp.net", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
}

func TestSendTextDirectWhenOpen(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, _ := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	id, err := sess.SendText(context.Background(), "123456789@s.whatsapp.net", "hello")
	require.NoError(t, err)
	assert.Equal(t, "MSG-ID", id)
	assert.Equal(t, []string{"hello"}, sock.sentBodies())
}

func TestSendTextQueuesUntilConnected(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, _ := newTestSession(t, dialer)

	result := make(chan error, 1)
	go func() {
		_, err := sess.SendText(context.Background(), "123456789@s.whatsapp.net", "queued")
		result <- err
	}()

	// The send must be parked, not failed.
	require.Eventually(t, func() bool { return sess.QueueDepth() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Start(context.Background()))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queued send never flushed after connect")
	}
	assert.Equal(t, []string{"queued"}, sock.sentBodies())
}

func TestSendQueueExpiresStaleEntries(t *testing.T) {
	sess, _ := newTestSession(t, &fakeDialer{socket: &fakeSocket{}})
	q := newSendQueue(sess)

	stale := q.enqueue("123456789@s.whatsapp.net", "too old")
	fresh := q.enqueue("123456789@s.whatsapp.net", "still good")

	// Backdate the oldest entry past the max age.
	q.mu.Lock()
	q.pending.Front().Value.(*queuedSend).queuedAt =
		time.Now().Add(-config.SendQueueMaxAge - time.Minute)
	q.mu.Unlock()

	q.expire()

	select {
	case res := <-stale:
		require.Error(t, res.err)
		assert.Equal(t, apperrors.ErrCodeSendTimeout, apperrors.GetCode(res.err))
	default:
		t.Fatal("stale entry was not expired")
	}

	assert.Equal(t, 1, q.depth())
	select {
	case <-fresh:
		t.Fatal("fresh entry must stay queued")
	default:
	}
}

func TestSendTextRespectsContext(t *testing.T) {
	dialer := &fakeDialer{socket: &fakeSocket{}}
	sess, _ := newTestSession(t, dialer)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := sess.SendText(ctx, "123456789@s.whatsapp.net", "never sent")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActionsRequireConnection(t *testing.T) {
	dialer := &fakeDialer{socket: &fakeSocket{}}
	sess, _ := newTestSession(t, dialer)

	err := sess.React(context.Background(), "123456789@s.whatsapp.net", "", "m1", "\U0001F44D")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))
}

func TestGroupActionsValidateGroupJID(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, _ := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	err := sess.SetGroupName(context.Background(), "123456789@s.whatsapp.net", "nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidJID, apperrors.GetCode(err))

	require.NoError(t, sess.SetGroupName(context.Background(), "123456789-1@g.us", "ok"))
}

func TestLogoutIsTerminal(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, global := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	require.NoError(t, sess.Logout(context.Background()))
	assert.Equal(t, model.SessionStatusLoggedOut, sess.Status())

	// Terminal state sticks even when the socket reports another event.
	sess.handleEvent(wasocket.Connected{})
	assert.Equal(t, model.SessionStatusLoggedOut, sess.Status())

	_, err := sess.SendText(context.Background(), "123456789@s.whatsapp.net", "hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeLoggedOut, apperrors.GetCode(err))

	row, err := global.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusLoggedOut, row.Status)
	assert.False(t, row.LoggedIn)
}

func TestLoggedOutEventMarksTerminal(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, _ := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	sess.handleEvent(wasocket.LoggedOut{Reason: "device removed"})
	assert.Equal(t, model.SessionStatusLoggedOut, sess.Status())
}

func TestInboundMessagePersisted(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, _ := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	sess.handleEvent(wasocket.Messages{Items: []store.MessageInput{{
		ID:        "m1",
		ChatJID:   "123456789@s.whatsapp.net",
		SenderJID: "123456789@s.whatsapp.net",
		Body:      "hi there",
		Timestamp: time.Now().UTC(),
	}}})

	row, err := sess.Store().Get(context.Background(), "messages", []string{"id"}, []any{"m1"}, false)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "hi there", row["body"])

	chat, err := sess.Store().Get(context.Background(), "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, false)
	require.NoError(t, err)
	require.NotNil(t, chat)
}

func TestQRCodeExposed(t *testing.T) {
	sock := &fakeSocket{}
	dialer := &fakeDialer{socket: sock}
	sess, _ := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	sess.handleEvent(wasocket.QR{Code: "pair-me", PNG: "data:image/png;base64,AAAA"})
	assert.Equal(t, "data:image/png;base64,AAAA", sess.QRCode())

	// Opening the connection clears the pending challenge.
	sess.handleEvent(wasocket.Connected{})
	assert.Empty(t, sess.QRCode())
}

func TestDialFailureLeavesDisconnected(t *testing.T) {
	dialer := &fakeDialer{socket: &fakeSocket{}, dialErr: errors.New("no route")}
	sess, _ := newTestSession(t, dialer)

	err := sess.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.SessionStatusDisconnected, sess.Status())
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	global, err := store.New(db, "", 64)
	require.NoError(t, err)
	require.NoError(t, global.InsertSession(context.Background(), db, "s1"))
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1

	sock := &fakeSocket{}
	sess, err := New(cfg, "s1", db, global, bus, &fakeDialer{socket: sock})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	require.NoError(t, sess.Start(context.Background()))

	client := bus.Subscribe("s1", store.EventError)
	defer bus.Unsubscribe(client)

	// Knock the connection down and make every dial-back fail.
	sock.mu.Lock()
	sock.connected = false
	sock.connectErr = errors.New("socket refused")
	handler := sock.handler
	before := sock.connectCalls
	sock.mu.Unlock()
	handler(wasocket.Disconnected{})

	var evt store.Event
	select {
	case evt = <-client.Events:
	case <-time.After(5 * time.Second):
		t.Fatal("no error event after the retry budget ran out")
	}
	data, ok := evt.Data.(store.ErrorData)
	require.True(t, ok)
	assert.Equal(t, "reconnect", data.Op)

	// One retry, then the session parks in close awaiting manual action.
	assert.Equal(t, model.SessionStatusClose, sess.Status())
	sock.mu.Lock()
	retries := sock.connectCalls - before
	sock.mu.Unlock()
	assert.Equal(t, 1, retries)
}

func TestCloseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{socket: &fakeSocket{}}
	sess, _ := newTestSession(t, dialer)
	require.NoError(t, sess.Start(context.Background()))

	sess.Close()
	sess.Close()
	assert.False(t, dialer.socket.IsConnected())
}
