package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/config"
	apperrors "github.com/wahub/wahub/internal/errors"
)

type queuedSend struct {
	toJID    string
	body     string
	queuedAt time.Time
	done     chan sendResult
}

type sendResult struct {
	messageID string
	err       error
}

// sendQueue holds text sends issued while the socket is not open. Strict
// FIFO; entries expire after the max age instead of waiting forever on a
// session that never connects.
type sendQueue struct {
	session *Session

	mu      sync.Mutex
	pending *list.List

	stopOnce sync.Once
	stopped  chan struct{}
}

func newSendQueue(s *Session) *sendQueue {
	return &sendQueue{
		session: s,
		pending: list.New(),
		stopped: make(chan struct{}),
	}
}

func (q *sendQueue) start() {
	go q.loop()
}

func (q *sendQueue) stop() {
	q.stopOnce.Do(func() {
		close(q.stopped)
		q.drain(apperrors.SendTimeout())
	})
}

// enqueue parks a send and returns the channel its result will arrive on.
func (q *sendQueue) enqueue(toJID, body string) <-chan sendResult {
	item := &queuedSend{
		toJID:    toJID,
		body:     body,
		queuedAt: time.Now(),
		done:     make(chan sendResult, 1),
	}
	q.mu.Lock()
	q.pending.PushBack(item)
	depth := q.pending.Len()
	q.mu.Unlock()

	log.Debug().Str("sessionId", q.session.ID).Int("depth", depth).Msg("send queued")
	return item.done
}

func (q *sendQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *sendQueue) loop() {
	ticker := time.NewTicker(config.SendQueuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopped:
			return
		case <-ticker.C:
			q.expire()
			if q.session.Connected() {
				q.flush()
			}
		}
	}
}

// expire completes entries older than the max age with a timeout error.
func (q *sendQueue) expire() {
	cutoff := time.Now().Add(-config.SendQueueMaxAge)
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.pending.Front(); e != nil; {
		item := e.Value.(*queuedSend)
		if item.queuedAt.After(cutoff) {
			break
		}
		next := e.Next()
		q.pending.Remove(e)
		item.done <- sendResult{err: apperrors.SendTimeout()}
		e = next
	}
}

// flush delivers the backlog in order, stopping at the first transport
// failure so ordering survives a flapping connection.
func (q *sendQueue) flush() {
	for {
		q.mu.Lock()
		front := q.pending.Front()
		if front == nil {
			q.mu.Unlock()
			return
		}
		item := front.Value.(*queuedSend)
		q.pending.Remove(front)
		q.mu.Unlock()

		sock := q.session.socket()
		if sock == nil {
			item.done <- sendResult{err: apperrors.NotConnected(q.session.ID)}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.SendQueuePollInterval*10)
		id, err := sock.SendText(ctx, item.toJID, item.body)
		cancel()
		item.done <- sendResult{messageID: id, err: err}
		if err != nil {
			log.Warn().Err(err).Str("sessionId", q.session.ID).Msg("queued send failed, pausing flush")
			return
		}
	}
}

func (q *sendQueue) drain(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.pending.Front(); e != nil; e = e.Next() {
		e.Value.(*queuedSend).done <- sendResult{err: err}
	}
	q.pending.Init()
}
