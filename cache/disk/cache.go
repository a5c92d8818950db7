// Package disk provides a blob cache backed by files on the local disk.
//
// Each blob is stored at dir/<algorithm>/<shard>/<encoded key>. Only files
// in that layout whose names are valid digests belong to the cache: other
// files under dir are never counted or removed, and in-flight writes are
// invisible until renamed into place.
//
// Eviction is least recently used. Reads refresh a blob's modification time
// so the order survives reopening the cache.
package disk

import (
	_ "crypto/sha256" // registers digest.SHA256
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/opencontainers/go-digest"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	blobPerm              = 0o600

	// tempPrefix marks blobs still being written.
	tempPrefix = ".put-"
)

// Cache implements cache.Cache using the local filesystem.
// The cache is safe for concurrent use.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64 // 0 = unlimited

	mu    sync.Mutex
	index *simplelru.LRU[digest.Digest, int64] // blob sizes, least recently used first
	bytes int64
}

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of encoded digest characters used to
// name the shard directory. Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes bounds the total size of cached blobs.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// New opens the cache rooted at dir, creating it if needed, and indexes the
// blobs already stored there oldest first.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}

	index, err := simplelru.NewLRU[digest.Digest, int64](math.MaxInt, nil)
	if err != nil {
		return nil, err
	}
	c.index = index
	blobs, err := c.scan()
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}
	for _, b := range blobs {
		c.index.Add(b.key, b.size)
		c.bytes += b.size
	}
	return c, nil
}

// Get retrieves a blob by key and marks it as recently used.
func (c *Cache) Get(key digest.Digest) ([]byte, bool) {
	path, err := c.path(key)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated digest
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	if _, ok := c.index.Get(key); !ok {
		// Stored by another process sharing dir.
		c.index.Add(key, int64(len(data)))
		c.bytes += int64(len(data))
	}
	c.mu.Unlock()

	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return data, true
}

// Put stores a blob by key. Existing blobs are left in place and blobs
// larger than the size limit are skipped.
func (c *Cache) Put(key digest.Digest, content []byte) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	size := int64(len(content))

	c.mu.Lock()
	if c.index.Contains(key) {
		c.mu.Unlock()
		return nil
	}
	ok, err := c.makeRoom(size)
	c.mu.Unlock()
	if err != nil || !ok {
		return err
	}

	if err := c.write(path, content); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.index.Contains(key) {
		c.index.Add(key, size)
		c.bytes += size
	}
	return nil
}

// write stores content at path through a temp file in the same shard.
func (c *Cache) write(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(content)
	if err == nil {
		err = tmp.Chmod(blobPerm)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Delete removes a cached blob. Missing entries are a no-op.
func (c *Cache) Delete(key digest.Digest) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if size, ok := c.index.Peek(key); ok {
		c.index.Remove(key)
		c.bytes -= size
	}
	return nil
}

// Len returns the number of cached blobs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the total size of cached blobs.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Prune removes least recently used blobs until the cache holds at most
// targetBytes. It returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evict(max(targetBytes, 0))
}

// makeRoom evicts blobs so that need more bytes fit under the limit.
// It reports false when the blob can never fit. c.mu must be held.
func (c *Cache) makeRoom(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if _, err := c.evict(c.maxBytes - need); err != nil {
		return false, err
	}
	return true, nil
}

// evict removes the oldest blobs until at most target bytes remain.
// c.mu must be held.
func (c *Cache) evict(target int64) (int64, error) {
	var freed int64
	for c.bytes > target {
		key, size, ok := c.index.GetOldest()
		if !ok {
			break
		}
		path, err := c.path(key)
		if err != nil {
			return freed, err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return freed, err
		}
		c.index.Remove(key)
		c.bytes -= size
		freed += size
	}
	return freed, nil
}

func (c *Cache) path(key digest.Digest) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, c.relPath(key)), nil
}

func (c *Cache) relPath(key digest.Digest) string {
	encoded := key.Encoded()
	alg := key.Algorithm().String()
	if c.shardPrefixLen == 0 {
		return filepath.Join(alg, encoded)
	}
	return filepath.Join(alg, encoded[:min(c.shardPrefixLen, len(encoded))], encoded)
}
