package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/wasocket"
)

// Session drives one protocol connection: the state machine, event routing
// into the store, the send queue and webhook dispatch. The manager owns the
// registry; the session owns everything below it.
type Session struct {
	ID string

	cfg    *config.Config
	dialer wasocket.Dialer
	store  *store.Store
	global *store.Store
	bus    *events.Bus

	queue      *sendQueue
	dispatcher *webhookDispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	sock         wasocket.Socket
	status       model.SessionStatus
	qr           string
	reconnects   int
	lastActivity time.Time
	closed       bool

	subs []*store.Subscription
}

// New builds the session and wires its event plumbing. The socket is not
// dialed until Start.
func New(cfg *config.Config, id string, db *database.DB, global *store.Store, bus *events.Bus, dialer wasocket.Dialer) (*Session, error) {
	st, err := store.New(db, id, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		cfg:          cfg,
		dialer:       dialer,
		store:        st,
		global:       global,
		bus:          bus,
		ctx:          ctx,
		cancel:       cancel,
		status:       model.SessionStatusDisconnected,
		lastActivity: time.Now(),
	}
	s.queue = newSendQueue(s)
	s.dispatcher = newWebhookDispatcher(s)

	// Everything the store emits flows onto the process bus; SSE streams
	// and the webhook dispatcher consume it from there.
	for _, kind := range []store.EventKind{
		store.EventMessage, store.EventPresence, store.EventChat,
		store.EventReaction, store.EventGroup, store.EventLID,
		store.EventCall, store.EventLabel, store.EventError,
	} {
		s.subs = append(s.subs, st.On(kind, func(e store.Event) {
			bus.Publish(e)
		}))
	}

	s.queue.start()
	s.dispatcher.start()
	return s, nil
}

// Store exposes the session-scoped store for read paths.
func (s *Session) Store() *store.Store {
	return s.store
}

// Start dials the socket and begins connecting. Safe to call once; restarts
// go through the reconnect loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.StoreClosed()
	}
	if s.sock != nil && s.sock.IsConnected() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sock, err := s.dialer.Dial(ctx, s.ID, s.handleEvent)
	if err != nil {
		s.setStatus(model.SessionStatusDisconnected)
		return err
	}

	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()

	s.setStatus(model.SessionStatusConnecting)
	if err := sock.Connect(ctx); err != nil {
		s.setStatus(model.SessionStatusDisconnected)
		return err
	}
	return nil
}

// Status returns the in-memory connection state.
func (s *Session) Status() model.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// QRCode returns the current pairing image data URI, empty when none is
// pending.
func (s *Session) QRCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// LastActivity is the time of the last protocol event or API action; the
// idle sweeper evicts on it.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Touch refreshes the activity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) socket() wasocket.Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sock
}

// Connected reports whether the socket is live and open.
func (s *Session) Connected() bool {
	sock := s.socket()
	return sock != nil && sock.IsConnected() && s.Status() == model.SessionStatusOpen
}

// Logout tears down the pairing server-side and marks the session terminal.
func (s *Session) Logout(ctx context.Context) error {
	sock := s.socket()
	if sock == nil {
		return apperrors.NotConnected(s.ID)
	}
	if err := sock.Logout(ctx); err != nil {
		return err
	}
	s.markLoggedOut("user requested logout")
	return nil
}

// Close releases the session's resources. Idempotent; socket close errors
// are logged, never surfaced.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sock := s.sock
	s.mu.Unlock()

	s.cancel()
	s.queue.stop()
	s.dispatcher.stop()
	if sock != nil {
		sock.Disconnect()
	}
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.store.Close()
	log.Info().Str("sessionId", s.ID).Msg("session closed")
}

// handleEvent routes one normalized socket event. Called from socket
// goroutines; persistence failures stay inside the store's error events.
func (s *Session) handleEvent(evt wasocket.Event) {
	s.Touch()
	ctx := s.ctx

	switch e := evt.(type) {
	case wasocket.QR:
		s.mu.Lock()
		s.qr = e.PNG
		s.mu.Unlock()
		if err := s.global.SaveSessionQR(ctx, s.ID, e.Code); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("persist qr failed")
		}
		s.publishState("qr", map[string]any{"qr": e.PNG, "code": e.Code})

	case wasocket.PairSuccess:
		if err := s.global.SaveSessionIdentity(ctx, s.ID, e.DeviceID, e.Phone, e.Platform); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("persist identity failed")
		}
		creds := model.JSONMap{"deviceId": e.DeviceID, "phone": e.Phone, "platform": e.Platform}
		if err := s.global.SaveSessionCreds(ctx, s.ID, creds); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("persist creds failed")
		}
		s.publishState("paired", map[string]any{"deviceId": e.DeviceID, "phone": e.Phone})

	case wasocket.Connected:
		s.mu.Lock()
		s.qr = ""
		s.reconnects = 0
		s.mu.Unlock()
		s.setStatus(model.SessionStatusOpen)
		go s.syncDirectory()

	case wasocket.Disconnected:
		s.onDisconnect("connection lost")

	case wasocket.StreamReplaced:
		s.onDisconnect("stream replaced by another client")

	case wasocket.LoggedOut:
		s.markLoggedOut(e.Reason)

	case wasocket.Messages:
		s.store.HandleMessages(ctx, e.Items)

	case wasocket.MessageStatus:
		s.store.HandleMessageStatus(ctx, e.ChatJID, e.IDs, e.Status)

	case wasocket.MessageRevoke:
		s.store.HandleMessageDelete(ctx, e.ChatJID, e.MessageID)

	case wasocket.Presence:
		s.store.HandlePresence(ctx, e.Item)

	case wasocket.Reactions:
		s.store.HandleReactions(ctx, e.Items)

	case wasocket.Chats:
		s.store.HandleChats(ctx, e.Items)

	case wasocket.Contacts:
		s.store.HandleContacts(ctx, e.Items)

	case wasocket.GroupUpdate:
		s.store.HandleGroupUpdate(ctx, e.Item)

	case wasocket.GroupMembersLeft:
		s.store.HandleGroupMemberRemove(ctx, e.GroupJID, e.Members)

	case wasocket.LIDMappings:
		s.store.HandleLIDMapping(ctx, e.Items)

	case wasocket.Call:
		s.store.HandleCall(ctx, e.Item)

	case wasocket.LabelEdit:
		s.store.HandleLabelEdit(ctx, e.Item)

	case wasocket.LabelAssociation:
		s.store.HandleLabelAssociation(ctx, e.Item)

	case wasocket.BlocklistChange:
		s.store.HandleBlocklist(ctx, e.JIDs, e.Blocked)

	case wasocket.Unrecognized:
		log.Debug().Str("sessionId", s.ID).Type("event", e.Raw).Msg("unhandled socket event")
	}
}

// syncDirectory refreshes contacts and groups after the connection opens.
func (s *Session) syncDirectory() {
	sock := s.socket()
	if sock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	if contacts, err := sock.SyncContacts(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("contact sync failed")
	} else if len(contacts) > 0 {
		s.store.HandleContacts(ctx, contacts)
	}

	if groups, err := sock.SyncGroups(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("group sync failed")
	} else {
		for _, g := range groups {
			s.store.HandleGroupUpdate(ctx, g)
		}
	}
}

func (s *Session) onDisconnect(reason string) {
	s.mu.Lock()
	if s.closed || s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.reconnects++
	attempt := s.reconnects
	s.mu.Unlock()

	s.setStatus(model.SessionStatusClose)

	if attempt > s.cfg.MaxReconnectAttempts {
		log.Error().Str("sessionId", s.ID).Int("attempts", attempt-1).
			Str("reason", reason).Msg("reconnect budget exhausted")
		// The session stays close until someone reconnects or removes it.
		s.publishError("reconnect", "reconnect attempts exhausted: "+reason)
		return
	}

	delay := config.ReconnectBaseDelay << (attempt - 1)
	log.Info().Str("sessionId", s.ID).Int("attempt", attempt).
		Dur("delay", delay).Str("reason", reason).Msg("scheduling reconnect")

	go func() {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := s.Start(s.ctx); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("reconnect failed")
			s.onDisconnect("reconnect failed")
		}
	}()
}

func (s *Session) markLoggedOut(reason string) {
	s.mu.Lock()
	if s.status == model.SessionStatusLoggedOut {
		s.mu.Unlock()
		return
	}
	s.status = model.SessionStatusLoggedOut
	s.qr = ""
	s.mu.Unlock()

	if err := s.global.MarkSessionLoggedOut(s.ctx, s.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("persist logout failed")
	}
	log.Info().Str("sessionId", s.ID).Str("reason", reason).Msg("session logged out")
	s.publishState("logged_out", map[string]any{"reason": reason})
}

func (s *Session) setStatus(status model.SessionStatus) {
	s.mu.Lock()
	if s.status == status || s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	if err := s.global.UpdateSessionStatus(s.ctx, s.ID, status); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("persist status failed")
	}
	s.publishState(string(status), nil)
}

func (s *Session) publishError(op, msg string) {
	s.bus.Publish(store.Event{
		Kind:      store.EventError,
		SessionID: s.ID,
		Data:      store.ErrorData{Op: op, Err: msg},
	})
}

func (s *Session) publishState(state string, extra map[string]any) {
	data := map[string]any{"state": state}
	for k, v := range extra {
		data[k] = v
	}
	s.bus.Publish(store.Event{
		Kind:      store.EventState,
		SessionID: s.ID,
		Data:      data,
	})
}
