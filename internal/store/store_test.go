package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T, sessionID string) (*database.DB, *Store) {
	t.Helper()
	db := openTestDB(t)

	global, err := New(db, "", 32)
	require.NoError(t, err)
	require.NoError(t, global.InsertSession(context.Background(), db, sessionID))

	scoped, err := New(db, sessionID, 32)
	require.NoError(t, err)
	t.Cleanup(scoped.Close)
	return db, scoped
}

func TestUpsertAndGet(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	row := map[string]any{
		"jid":  "123456789@s.whatsapp.net",
		"name": "Alice",
	}
	require.NoError(t, s.Upsert(ctx, "contacts", row, []string{"jid"}))

	got, err := s.Get(ctx, "contacts", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got["name"])

	// Conflict updates the non-key columns without duplicating the row.
	row["name"] = "Alice B"
	require.NoError(t, s.Upsert(ctx, "contacts", row, []string{"jid"}))

	all, err := s.All(ctx, "contacts", "", nil, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Alice B", all[0]["name"])
}

func TestGetMissingReturnsNil(t *testing.T) {
	_, s := newTestStore(t, "s1")

	got, err := s.Get(context.Background(), "contacts", []string{"jid"}, []any{"nobody@s.whatsapp.net"}, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnknownTable(t *testing.T) {
	_, s := newTestStore(t, "s1")

	err := s.Upsert(context.Background(), "nonsense", map[string]any{"x": 1}, []string{"x"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
}

func TestScopedTableNeedsSession(t *testing.T) {
	db := openTestDB(t)
	global, err := New(db, "", 32)
	require.NoError(t, err)

	_, err = global.All(context.Background(), "messages", "", nil, false)
	require.Error(t, err)

	// Global tables still work on the global store.
	_, err = global.All(context.Background(), "sessions", "", nil, false)
	assert.NoError(t, err)
}

func TestSoftDelete(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "chats", map[string]any{"jid": "123456789@s.whatsapp.net"}, []string{"jid"}))
	require.NoError(t, s.Delete(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true))

	got, err := s.Get(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got["deleted"])
}

func TestHardDelete(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "chats", map[string]any{"jid": "123456789@s.whatsapp.net"}, []string{"jid"}))
	require.NoError(t, s.Delete(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, false))

	got, err := s.Get(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBatchUpsertRollsBack(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	rows := []map[string]any{
		{"jid": "1111111@s.whatsapp.net", "name": "one"},
		{"name": "no key"}, // missing the conflict key
		{"jid": "3333333@s.whatsapp.net", "name": "three"},
	}
	err := s.BatchUpsert(ctx, "contacts", rows, []string{"jid"})
	require.Error(t, err)

	all, err := s.All(ctx, "contacts", "", nil, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPurgeSoftDeleted(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "chats", map[string]any{"jid": "123456789@s.whatsapp.net"}, []string{"jid"}))
	require.NoError(t, s.Delete(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true))

	n, err := s.PurgeSoftDeleted(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.Get(ctx, "chats", []string{"jid"}, []any{"123456789@s.whatsapp.net"}, true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListCacheInvalidatedByWrite(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	all, err := s.All(ctx, "contacts", "", nil, false)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.Upsert(ctx, "contacts", map[string]any{"jid": "123456789@s.whatsapp.net"}, []string{"jid"}))

	all, err = s.All(ctx, "contacts", "", nil, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestScopeIsolation(t *testing.T) {
	db, s1 := newTestStore(t, "s1")
	ctx := context.Background()

	global, err := New(db, "", 32)
	require.NoError(t, err)
	require.NoError(t, global.InsertSession(ctx, db, "s2"))
	s2, err := New(db, "s2", 32)
	require.NoError(t, err)

	require.NoError(t, s1.Upsert(ctx, "contacts", map[string]any{"jid": "123456789@s.whatsapp.net"}, []string{"jid"}))

	all, err := s2.All(ctx, "contacts", "", nil, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClosedStoreRefusesOperations(t *testing.T) {
	_, s := newTestStore(t, "s1")
	s.Close()

	err := s.Upsert(context.Background(), "contacts", map[string]any{"jid": "1@s.whatsapp.net"}, []string{"jid"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStoreClosed, apperrors.GetCode(err))
}

func TestEventEmission(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	var got []Event
	sub := s.On(EventMessage, func(evt Event) { got = append(got, evt) })
	defer sub.Cancel()

	now := time.Now().UTC()
	s.HandleMessages(ctx, []MessageInput{{
		ID:        "m1",
		ChatJID:   "123456789@s.whatsapp.net",
		SenderJID: "123456789@s.whatsapp.net",
		Body:      "hi",
		Timestamp: now,
	}})

	require.Len(t, got, 1)
	assert.Equal(t, EventMessage, got[0].Kind)
	assert.Equal(t, "s1", got[0].SessionID)
}

func TestHandleMessagesIsolatesBadItems(t *testing.T) {
	_, s := newTestStore(t, "s1")
	ctx := context.Background()

	var persisted []Event
	var failures []Event
	subOK := s.On(EventMessage, func(evt Event) { persisted = append(persisted, evt) })
	defer subOK.Cancel()
	subErr := s.On(EventError, func(evt Event) { failures = append(failures, evt) })
	defer subErr.Cancel()

	now := time.Now().UTC()
	chat := "123456789@s.whatsapp.net"
	s.HandleMessages(ctx, []MessageInput{
		{ID: "m1", ChatJID: chat, SenderJID: chat, Body: "first", Timestamp: now},
		{ChatJID: chat, SenderJID: chat, Body: "no id", Timestamp: now},
		{ID: "m3", ChatJID: chat, SenderJID: chat, Body: "third", Timestamp: now},
	})

	// The malformed item is reported, the rest of the batch lands.
	assert.Len(t, persisted, 2)
	require.Len(t, failures, 1)
	data, ok := failures[0].Data.(ErrorData)
	require.True(t, ok)
	assert.Equal(t, "message", data.Op)

	rows, err := s.All(ctx, "messages", "", nil, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
