// Package cache provides blob caching for archives.
//
// Keys are digests of a blob's coordinate within a specific archive (see
// [Key]), so the same cache may be shared between archives. Values are the
// decompressed blob bytes.
package cache

import (
	_ "crypto/sha256" // registers digest.SHA256
	"strconv"

	"github.com/opencontainers/go-digest"
)

// Cache stores decompressed blobs.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a blob by key.
	// Returns nil, false if the blob is not cached.
	Get(key digest.Digest) ([]byte, bool)

	// Put stores a blob by key. Callers must not modify content afterwards.
	Put(key digest.Digest, content []byte) error
}

// Key returns the cache key of blob blobNumber in cluster clusterNumber of
// the archive identified by sourceID.
func Key(sourceID string, clusterNumber, blobNumber uint32) digest.Digest {
	buf := make([]byte, 0, len(sourceID)+24)
	buf = append(buf, sourceID...)
	buf = append(buf, '#')
	buf = strconv.AppendUint(buf, uint64(clusterNumber), 10)
	buf = append(buf, '/')
	buf = strconv.AppendUint(buf, uint64(blobNumber), 10)
	return digest.FromBytes(buf)
}
