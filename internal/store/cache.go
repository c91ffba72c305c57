package store

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the bounded read cache in front of one Store's database handle.
// Each Store owns its own instance; caches are never shared across sessions
// so one tenant's reads can never surface another tenant's rows.
type Cache struct {
	lru *lru.Cache[string, any]
}

func NewCache(size int) (*Cache, error) {
	inner, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner}, nil
}

func (c *Cache) Get(key string) (any, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Set(key string, value any) {
	c.lru.Add(key, value)
}

func (c *Cache) Invalidate(key string) {
	c.lru.Remove(key)
}

// InvalidatePrefix removes every key under prefix. List results are keyed by
// their where clause, so a write cannot know which cached lists it affects;
// correctness depends on dropping all of them unconditionally.
func (c *Cache) InvalidatePrefix(prefix string) {
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// PointKey identifies a single-row lookup: "table:v1|v2".
func PointKey(table string, keyValues []any) string {
	parts := make([]string, len(keyValues))
	for i, v := range keyValues {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return table + ":" + strings.Join(parts, "|")
}

// ListKey identifies a list lookup: "table:list:where:a1|a2".
func ListKey(table, where string, args []any) string {
	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return table + ":list:" + where + ":" + strings.Join(parts, "|")
}

// ListPrefix is the invalidation prefix covering every cached list for table.
func ListPrefix(table string) string {
	return table + ":list:"
}
