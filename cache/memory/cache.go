// Package memory provides an in-process LRU blob cache.
package memory

import (
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
)

// DefaultMaxEntries is the default number of blobs kept in memory.
const DefaultMaxEntries = 1024

// Cache implements cache.Cache with a fixed-size LRU.
// The cache is safe for concurrent use.
type Cache struct {
	lru        *lru.Cache[digest.Digest, []byte]
	maxEntries int
	maxBlob    int
	bytes      atomic.Int64
}

// Option configures a memory cache.
type Option func(*Cache)

// WithMaxEntries sets the maximum number of cached blobs.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithMaxBlobSize skips caching blobs larger than n bytes.
// Use 0 to cache blobs of any size.
func WithMaxBlobSize(n int) Option {
	return func(c *Cache) {
		c.maxBlob = n
	}
}

// New creates an empty memory cache.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxEntries <= 0 {
		return nil, errors.New("max entries must be > 0")
	}
	if c.maxBlob < 0 {
		return nil, errors.New("max blob size must be >= 0")
	}
	l, err := lru.NewWithEvict(c.maxEntries, func(_ digest.Digest, v []byte) {
		c.bytes.Add(-int64(len(v)))
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get retrieves a blob by key.
func (c *Cache) Get(key digest.Digest) ([]byte, bool) {
	return c.lru.Get(key)
}

// Put stores a blob by key, evicting the least recently used blob when full.
func (c *Cache) Put(key digest.Digest, content []byte) error {
	if c.maxBlob > 0 && len(content) > c.maxBlob {
		return nil
	}
	if found, _ := c.lru.ContainsOrAdd(key, content); !found {
		c.bytes.Add(int64(len(content)))
	}
	return nil
}

// Len returns the number of cached blobs.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// SizeBytes returns the total size of cached blobs.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Purge drops every cached blob.
func (c *Cache) Purge() {
	c.lru.Purge()
}
