// Package parsecache bounds the cost of re-parsing the same schema text
// repeatedly. No LRU library appears anywhere in the example corpus this
// module was grounded on, so this is a small size-and-recency bounded
// cache built on container/list, the same structural choice the standard
// library itself documents for this purpose.
package parsecache

import (
	"container/list"
	"sync"

	"schemaregistry/internal/providers"
)

// Key identifies a parse result. Two requests with the same key must
// produce equivalent ParsedSchema values.
type Key struct {
	SchemaType providers.SchemaType
	Schema     string
	IsNew      bool
	Normalize  bool
}

type entry struct {
	key    Key
	parsed providers.ParsedSchema
}

// Cache is a fixed-capacity, least-recently-used parse result cache.
// Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[Key]*list.Element
}

// New builds a cache holding at most capacity entries. A non-positive
// capacity disables caching (Get always misses, Put is a no-op).
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[Key]*list.Element),
	}
}

// Get returns the cached parse result for key, if present, promoting it
// to most-recently-used.
func (c *Cache) Get(key Key) (providers.ParsedSchema, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).parsed, true
}

// Put inserts or refreshes key's parse result, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Put(key Key, parsed providers.ParsedSchema) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).parsed = parsed
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, parsed: parsed})
	c.index[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).key)
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
