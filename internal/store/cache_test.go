package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetSetInvalidate(t *testing.T) {
	c, err := NewCache(8)
	require.NoError(t, err)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("chats:1", "row")
	v, ok := c.Get("chats:1")
	assert.True(t, ok)
	assert.Equal(t, "row", v)

	c.Invalidate("chats:1")
	_, ok = c.Get("chats:1")
	assert.False(t, ok)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c, err := NewCache(4)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	assert.Equal(t, 4, c.Len())

	_, ok := c.Get("k0")
	assert.False(t, ok)
	v, ok := c.Get("k9")
	assert.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c, err := NewCache(16)
	require.NoError(t, err)

	c.Set(ListKey("chats", "", nil), []string{"a"})
	c.Set(ListKey("chats", "jid = ?", []any{"1@s.whatsapp.net"}), []string{"b"})
	c.Set(PointKey("chats", []any{"1@s.whatsapp.net"}), "row")
	c.Set(ListKey("contacts", "", nil), []string{"c"})

	c.InvalidatePrefix(ListPrefix("chats"))

	_, ok := c.Get(ListKey("chats", "", nil))
	assert.False(t, ok)
	_, ok = c.Get(ListKey("chats", "jid = ?", []any{"1@s.whatsapp.net"}))
	assert.False(t, ok)

	_, ok = c.Get(PointKey("chats", []any{"1@s.whatsapp.net"}))
	assert.True(t, ok, "point lookups survive list invalidation")
	_, ok = c.Get(ListKey("contacts", "", nil))
	assert.True(t, ok, "other tables untouched")
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "messages:chat@g.us|id-1", PointKey("messages", []any{"chat@g.us", "id-1"}))
	assert.Equal(t, "messages:list:chat_jid = ?:chat@g.us", ListKey("messages", "chat_jid = ?", []any{"chat@g.us"}))
	assert.Equal(t, "messages:list:", ListPrefix("messages"))
}
