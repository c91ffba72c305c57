package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/database"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
)

func TestCleanupPurgesRetainedRows(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	global, err := store.New(db, "", 64)
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	cfg := &config.Config{
		MaxSessionsPerUser: 5, MaxSessionsGlobal: 100,
		IdleTimeoutMinutes: 30, CacheSize: 64,
		WebhookTimeoutSeconds: 2, MaxReconnectAttempts: 1,
		RetentionDays: 1,
	}

	ctx := context.Background()
	require.NoError(t, global.InsertSession(ctx, db, "s1"))
	scoped, err := store.New(db, "s1", 64)
	require.NoError(t, err)

	// A soft-deleted chat well past the retention window.
	require.NoError(t, scoped.Upsert(ctx, "chats", map[string]any{"jid": "123456789@s.whatsapp.net"}, []string{"jid"}))
	require.NoError(t, scoped.Delete(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true))
	_, err = db.Exec("UPDATE chats SET deleted_at = ? WHERE jid = ?",
		time.Now().Add(-48*time.Hour), "123456789@s.whatsapp.net")
	require.NoError(t, err)

	// A stale webhook delivery row.
	hook, err := scoped.UpsertWebhook(ctx, model.CreateWebhookParams{
		Event: model.WebhookEventMessage, URL: "http://example.com",
	})
	require.NoError(t, err)
	require.NoError(t, scoped.RecordDelivery(ctx, &model.WebhookDelivery{
		WebhookID: hook.ID, Event: model.WebhookEventMessage, Attempt: 1,
		Status:    model.DeliveryStatusFailed,
		CreatedAt: time.Now().Add(-config.WebhookDeliveryRetention - time.Hour),
	}))

	mgr := manager.New(cfg, db, global, bus, nil)
	t.Cleanup(mgr.CloseAll)

	job := NewCleanupJob(cfg, mgr, global, time.Hour)
	job.cleanup()

	row, err := scoped.Get(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true)
	require.NoError(t, err)
	assert.Nil(t, row)

	deliveries, err := scoped.ListDeliveries(ctx, hook.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestStartStop(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	global, err := store.New(db, "", 64)
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	cfg := &config.Config{
		MaxSessionsPerUser: 5, MaxSessionsGlobal: 100,
		IdleTimeoutMinutes: 30, CacheSize: 64,
		WebhookTimeoutSeconds: 2, MaxReconnectAttempts: 1,
	}
	mgr := manager.New(cfg, db, global, bus, nil)
	t.Cleanup(mgr.CloseAll)

	job := NewCleanupJob(cfg, mgr, global, 10*time.Millisecond)
	job.Start()
	time.Sleep(50 * time.Millisecond)
	job.Stop()
}
