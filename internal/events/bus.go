package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/store"
)

const clientBufferSize = 100

// Client is one consumer of a session's event stream. Events it cannot keep
// up with are dropped, never buffered without bound.
type Client struct {
	SessionID string
	Kinds     map[store.EventKind]bool
	Events    chan store.Event
	Done      chan struct{}
}

func (c *Client) wants(kind store.EventKind) bool {
	return len(c.Kinds) == 0 || c.Kinds[kind]
}

// Bus fans normalized store events out to in-process consumers: SSE
// streams, webhook dispatchers, tests. One bus serves the whole process;
// clients subscribe per session id ("" for everything).
type Bus struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
	closed  bool
}

func NewBus() *Bus {
	return &Bus{clients: make(map[string]map[*Client]bool)}
}

// Subscribe registers a consumer for sessionID, optionally filtered to the
// listed kinds. An empty sessionID receives every session's events.
func (b *Bus) Subscribe(sessionID string, kinds ...store.EventKind) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan store.Event, clientBufferSize),
		Done:      make(chan struct{}),
	}
	if len(kinds) > 0 {
		client.Kinds = make(map[store.EventKind]bool, len(kinds))
		for _, k := range kinds {
			client.Kinds[k] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(client.Done)
		return client
	}
	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[*Client]bool)
	}
	b.clients[sessionID][client] = true
	count := len(b.clients[sessionID])
	b.mu.Unlock()

	log.Debug().
		Str("sessionId", sessionID).
		Int("clientCount", count).
		Msg("event client subscribed")
	return client
}

func (b *Bus) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.SessionID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)
	if len(clients) == 0 {
		delete(b.clients, client.SessionID)
	}

	log.Debug().
		Str("sessionId", client.SessionID).
		Int("clientCount", len(clients)).
		Msg("event client unsubscribed")
}

// Publish delivers the event to every matching consumer. Slow consumers lose
// the event rather than stalling the producer.
func (b *Bus) Publish(event store.Event) {
	b.mu.RLock()
	targets := make([]*Client, 0, 4)
	for c := range b.clients[event.SessionID] {
		targets = append(targets, c)
	}
	if event.SessionID != "" {
		for c := range b.clients[""] {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, client := range targets {
		if !client.wants(event.Kind) {
			continue
		}
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", event.SessionID).
				Str("kind", string(event.Kind)).
				Msg("client event buffer full, dropping event")
		}
	}
}

// DropSession closes every consumer of sessionID, used when the session is
// removed.
func (b *Bus) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients[sessionID] {
		close(client.Done)
	}
	delete(b.clients, sessionID)
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Bus) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

func (b *Bus) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
