// Package cache memoizes parsed metadata documents by content hash so repeated
// loads of the same $metadata payload skip XML decoding.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/observability"
)

// DefaultMaxEntries bounds the cache when no size is given.
const DefaultMaxEntries = 32

// ParseFunc parses raw metadata bytes.
type ParseFunc func(data []byte) (*metadata.ParsedSchema, error)

type entry struct {
	key    uint64
	schema *metadata.ParsedSchema
}

// Cache is a bounded map from the xxhash64 of a metadata document to its parsed
// schema. The least recently inserted entry is evicted first. It is safe for
// concurrent use; concurrent misses on the same key may both parse.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	entries    map[uint64]*list.Element
	obs        *observability.Config
}

// New creates a cache holding at most maxEntries schemas.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[uint64]*list.Element),
	}
}

// SetObservability records hit/miss counts on the given config.
func (c *Cache) SetObservability(cfg *observability.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = cfg
}

// Key returns the cache key for a document.
func Key(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Get returns the cached schema for data.
func (c *Cache) Get(data []byte) (*metadata.ParsedSchema, bool) {
	key := Key(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		return el.Value.(*entry).schema, true
	}
	return nil, false
}

// Put stores a parsed schema for data.
func (c *Cache) Put(data []byte, schema *metadata.ParsedSchema) {
	c.put(Key(data), schema)
}

func (c *Cache) put(key uint64, schema *metadata.ParsedSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).schema = schema
		return
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, schema: schema})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// GetOrParse returns the cached schema for data or parses and stores it. Parse
// errors are returned unchanged and nothing is cached.
func (c *Cache) GetOrParse(ctx context.Context, data []byte, parse ParseFunc) (*metadata.ParsedSchema, error) {
	key := Key(data)

	c.mu.Lock()
	el, hit := c.entries[key]
	obs := c.obs
	c.mu.Unlock()

	obs.Metrics().RecordCacheLookup(ctx, hit)
	if hit {
		return el.Value.(*entry).schema, nil
	}

	schema, err := parse(data)
	if err != nil {
		return nil, err
	}
	c.put(key, schema)
	return schema, nil
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[uint64]*list.Element)
}
