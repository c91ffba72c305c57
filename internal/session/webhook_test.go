package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
)

func openSession(t *testing.T) *Session {
	t.Helper()
	sess, _ := newTestSession(t, &fakeDialer{socket: &fakeSocket{}})
	require.NoError(t, sess.Start(context.Background()))
	return sess
}

func emitTestMessage(sess *Session, id string) {
	sess.Store().HandleMessages(context.Background(), []store.MessageInput{{
		ID:        id,
		ChatJID:   "123456789@s.whatsapp.net",
		SenderJID: "123456789@s.whatsapp.net",
		Body:      "payload",
		Timestamp: time.Now().UTC(),
	}})
}

func TestRegisterWebhookValidation(t *testing.T) {
	sess := openSession(t)

	_, err := sess.RegisterWebhook(context.Background(), model.CreateWebhookParams{
		Event: model.WebhookEventMessage,
	})
	require.Error(t, err)

	_, err = sess.RegisterWebhook(context.Background(), model.CreateWebhookParams{
		Event: "bogus", URL: "http://example.com/hook",
	})
	require.Error(t, err)
}

func TestRegisterWebhookReplacesExisting(t *testing.T) {
	sess := openSession(t)
	ctx := context.Background()

	first, err := sess.RegisterWebhook(ctx, model.CreateWebhookParams{
		Event: model.WebhookEventMessage, URL: "http://example.com/a",
	})
	require.NoError(t, err)

	second, err := sess.RegisterWebhook(ctx, model.CreateWebhookParams{
		Event: model.WebhookEventMessage, URL: "http://example.com/b",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "http://example.com/b", second.URL)
	assert.True(t, second.Enabled)

	hooks, err := sess.Webhooks(ctx)
	require.NoError(t, err)
	assert.Len(t, hooks, 1)
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var envelope map[string]any
		json.Unmarshal(body, &envelope)
		received <- envelope
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sess := openSession(t)
	hook, err := sess.RegisterWebhook(context.Background(), model.CreateWebhookParams{
		Event: model.WebhookEventMessage, URL: server.URL,
	})
	require.NoError(t, err)

	emitTestMessage(sess, "m1")

	select {
	case envelope := <-received:
		assert.Equal(t, "message", envelope["event"])
		assert.Equal(t, "s1", envelope["sessionId"])
		assert.NotNil(t, envelope["data"])
	case <-time.After(5 * time.Second):
		t.Fatal("webhook endpoint never called")
	}

	// The attempt lands in the delivery log and clears the failure count.
	require.Eventually(t, func() bool {
		deliveries, err := sess.WebhookDeliveries(context.Background(), hook.ID, 10)
		return err == nil && len(deliveries) == 1 &&
			deliveries[0].Status == model.DeliveryStatusSuccess
	}, 5*time.Second, 50*time.Millisecond)

	fresh, err := sess.Store().FindWebhook(context.Background(), model.WebhookEventMessage)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.FailureCount)
	assert.NotNil(t, fresh.LastSuccess)
}

func TestWebhookRetriesOnFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sess := openSession(t)
	hook, err := sess.RegisterWebhook(context.Background(), model.CreateWebhookParams{
		Event:        model.WebhookEventMessage,
		URL:          server.URL,
		RetryCount:   3,
		RetryDelayMS: 10,
	})
	require.NoError(t, err)

	emitTestMessage(sess, "m1")

	// retry_count is the total attempt budget: exactly three posts, no fourth.
	require.Eventually(t, func() bool { return calls.Load() == 3 },
		5*time.Second, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())

	require.Eventually(t, func() bool {
		deliveries, err := sess.WebhookDeliveries(context.Background(), hook.ID, 10)
		return err == nil && len(deliveries) == 3
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		fresh, err := sess.Store().FindWebhook(context.Background(), model.WebhookEventMessage)
		return err == nil && fresh.FailureCount == 3
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDisabledWebhookSkipped(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sess := openSession(t)
	disabled := false
	_, err := sess.RegisterWebhook(context.Background(), model.CreateWebhookParams{
		Event: model.WebhookEventMessage, URL: server.URL, Enabled: &disabled,
	})
	require.NoError(t, err)

	emitTestMessage(sess, "m1")

	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 0, calls.Load())
}

func TestDeleteWebhookStopsDelivery(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sess := openSession(t)
	ctx := context.Background()
	_, err := sess.RegisterWebhook(ctx, model.CreateWebhookParams{
		Event: model.WebhookEventMessage, URL: server.URL,
	})
	require.NoError(t, err)
	require.NoError(t, sess.DeleteWebhook(ctx, model.WebhookEventMessage))

	emitTestMessage(sess, "m1")

	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 0, calls.Load())
}
