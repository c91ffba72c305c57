package store

import (
	"sync"
)

// EventKind is the category of a store callback.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventPresence EventKind = "presence"
	EventChat     EventKind = "chat"
	EventReaction EventKind = "reaction"
	EventGroup    EventKind = "group"
	EventLID      EventKind = "lid"
	EventCall     EventKind = "call"
	EventLabel    EventKind = "label"
	EventState    EventKind = "state"
	EventError    EventKind = "error"
	EventInit     EventKind = "init"
	EventClose    EventKind = "close"
)

// Event is one typed store callback. Data carries the normalized payload
// that produced the write; for EventError it carries an ErrorData.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Data      any       `json:"data,omitempty"`
}

// ErrorData describes a per-item handler failure that did not abort its batch.
type ErrorData struct {
	Op  string `json:"op"`
	Err string `json:"error"`
}

type Handler func(Event)

// Subscription is the unsubscribe handle returned by On.
type Subscription struct {
	emitter *emitter
	kind    EventKind
	id      uint64
}

func (s *Subscription) Cancel() {
	if s.emitter != nil {
		s.emitter.off(s.kind, s.id)
	}
}

type emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventKind]map[uint64]Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventKind]map[uint64]Handler)}
}

func (e *emitter) on(kind EventKind, h Handler) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	if e.handlers[kind] == nil {
		e.handlers[kind] = make(map[uint64]Handler)
	}
	e.handlers[kind][e.nextID] = h
	return &Subscription{emitter: e, kind: kind, id: e.nextID}
}

func (e *emitter) off(kind EventKind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers[kind], id)
}

// emit invokes handlers outside the lock so a handler may cancel itself or
// subscribe again without deadlocking.
func (e *emitter) emit(evt Event) {
	e.mu.RLock()
	snapshot := make([]Handler, 0, len(e.handlers[evt.Kind]))
	for _, h := range e.handlers[evt.Kind] {
		snapshot = append(snapshot, h)
	}
	e.mu.RUnlock()

	for _, h := range snapshot {
		h(evt)
	}
}
