package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
)

// RegisterWebhook installs or replaces the callback for one event kind.
func (s *Session) RegisterWebhook(ctx context.Context, p model.CreateWebhookParams) (*model.Webhook, error) {
	p.SessionID = s.ID
	hook, err := s.store.UpsertWebhook(ctx, p)
	if err != nil {
		return nil, err
	}
	s.dispatcher.invalidate()
	return hook, nil
}

func (s *Session) Webhooks(ctx context.Context) ([]model.Webhook, error) {
	return s.store.ListWebhooks(ctx)
}

func (s *Session) DeleteWebhook(ctx context.Context, event model.WebhookEvent) error {
	if err := s.store.DeleteWebhook(ctx, event); err != nil {
		return err
	}
	s.dispatcher.invalidate()
	return nil
}

func (s *Session) WebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]model.WebhookDelivery, error) {
	return s.store.ListDeliveries(ctx, webhookID, limit)
}

type cachedHook struct {
	hook      *model.Webhook
	fetchedAt time.Time
}

// webhookDispatcher pushes the session's events to registered callbacks.
// Delivery is fire-and-forget from the event path's perspective; a dead
// endpoint fills the delivery log, never the event pipeline.
type webhookDispatcher struct {
	session *Session
	client  *events.Client
	http    *http.Client

	mu    sync.Mutex
	cache map[model.WebhookEvent]cachedHook
	owner string

	stopOnce sync.Once
}

func newWebhookDispatcher(s *Session) *webhookDispatcher {
	return &webhookDispatcher{
		session: s,
		http:    &http.Client{},
		cache:   make(map[model.WebhookEvent]cachedHook),
	}
}

func (d *webhookDispatcher) start() {
	d.client = d.session.bus.Subscribe(d.session.ID,
		store.EventMessage, store.EventPresence, store.EventChat,
		store.EventReaction, store.EventGroup, store.EventCall,
		store.EventLabel, store.EventState)
	go d.loop()
}

func (d *webhookDispatcher) stop() {
	d.stopOnce.Do(func() {
		d.session.bus.Unsubscribe(d.client)
	})
}

// invalidate drops cached lookups after registration changes.
func (d *webhookDispatcher) invalidate() {
	d.mu.Lock()
	d.cache = make(map[model.WebhookEvent]cachedHook)
	d.mu.Unlock()
}

func (d *webhookDispatcher) loop() {
	for {
		select {
		case <-d.client.Done:
			return
		case evt := <-d.client.Events:
			d.dispatch(evt)
		}
	}
}

var kindToWebhookEvent = map[store.EventKind]model.WebhookEvent{
	store.EventMessage:  model.WebhookEventMessage,
	store.EventPresence: model.WebhookEventPresence,
	store.EventChat:     model.WebhookEventChat,
	store.EventReaction: model.WebhookEventReaction,
	store.EventGroup:    model.WebhookEventGroup,
	store.EventCall:     model.WebhookEventCall,
	store.EventLabel:    model.WebhookEventLabel,
	store.EventState:    model.WebhookEventState,
}

func (d *webhookDispatcher) dispatch(evt store.Event) {
	event, ok := kindToWebhookEvent[evt.Kind]
	if !ok {
		return
	}

	hook := d.lookup(event)
	if hook == nil || !hook.Enabled {
		return
	}

	d.deliver(hook, event, evt.Data)
}

// lookup caches per-event registrations briefly so a busy session does not
// hit the database on every event.
func (d *webhookDispatcher) lookup(event model.WebhookEvent) *model.Webhook {
	d.mu.Lock()
	entry, ok := d.cache[event]
	d.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < config.WebhookCacheTTL {
		return entry.hook
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()
	hook, err := d.session.store.FindWebhook(ctx, event)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", d.session.ID).
			Str("event", string(event)).Msg("webhook lookup failed")
		return nil
	}

	d.mu.Lock()
	d.cache[event] = cachedHook{hook: hook, fetchedAt: time.Now()}
	d.mu.Unlock()
	return hook
}

func (d *webhookDispatcher) ownerID() string {
	d.mu.Lock()
	owner := d.owner
	d.mu.Unlock()
	if owner != "" {
		return owner
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()
	owner, err := d.session.global.OwnerOfSession(ctx, d.session.ID)
	if err != nil {
		return ""
	}

	d.mu.Lock()
	d.owner = owner
	d.mu.Unlock()
	return owner
}

// deliver posts the envelope, retrying per the webhook's own policy. Every
// attempt lands in the delivery log and moves the webhook's health counters:
// a failed attempt extends the failure streak, a success resets it.
func (d *webhookDispatcher) deliver(hook *model.Webhook, event model.WebhookEvent, data any) {
	envelope := map[string]any{
		"event":     event,
		"sessionId": d.session.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	if owner := d.ownerID(); owner != "" {
		envelope["userId"] = owner
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("sessionId", d.session.ID).Msg("webhook payload marshal failed")
		return
	}

	timeout := d.session.cfg.WebhookTimeout()
	if hook.TimeoutMS > 0 {
		timeout = time.Duration(hook.TimeoutMS) * time.Millisecond
	}
	retryDelay := time.Duration(hook.RetryDelayMS) * time.Millisecond

	// retry_count bounds total attempts, not extra retries.
	attempts := hook.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		statusCode, elapsed, attemptErr := d.post(hook, payload, timeout)

		delivery := &model.WebhookDelivery{
			WebhookID: hook.ID,
			Event:     event,
			Attempt:   attempt,
			Status:    model.DeliveryStatusSuccess,
			ElapsedMS: elapsed.Milliseconds(),
		}
		if statusCode != 0 {
			code := statusCode
			delivery.StatusCode = &code
		}
		if attemptErr != nil {
			msg := attemptErr.Error()
			delivery.Status = model.DeliveryStatusFailed
			delivery.Error = &msg
		}

		logCtx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if logErr := d.session.store.RecordDelivery(logCtx, delivery); logErr != nil {
			log.Warn().Err(logErr).Str("sessionId", d.session.ID).Msg("delivery log write failed")
		}
		cancel()

		resCtx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if resErr := d.session.store.RecordWebhookResult(resCtx, hook.ID, attemptErr == nil); resErr != nil {
			log.Warn().Err(resErr).Str("sessionId", d.session.ID).Msg("webhook result write failed")
		}
		cancel()

		if attemptErr == nil {
			return
		}
		log.Warn().Err(attemptErr).Str("sessionId", d.session.ID).
			Str("url", hook.URL).Int("attempt", attempt).Msg("webhook delivery failed")
		if attempt < attempts && retryDelay > 0 {
			time.Sleep(retryDelay)
		}
	}
}

func (d *webhookDispatcher) post(hook *model.Webhook, payload []byte, timeout time.Duration) (int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range hook.Headers {
		if v, ok := value.(string); ok {
			req.Header.Set(key, v)
		}
	}

	started := time.Now()
	resp, err := d.http.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		return 0, elapsed, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, elapsed, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, elapsed, nil
}
