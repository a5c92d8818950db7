package disk

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

type storedBlob struct {
	key     digest.Digest
	size    int64
	modTime time.Time
}

// scan lists the blobs stored under dir, least recently used first.
// Files that are not blobs at their canonical path are ignored, as are
// in-flight temp files.
func (c *Cache) scan() ([]storedBlob, error) {
	roots, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var blobs []storedBlob
	for _, root := range roots {
		if !root.IsDir() || !digest.Algorithm(root.Name()).Available() {
			continue
		}
		alg := digest.Algorithm(root.Name())
		err := filepath.WalkDir(filepath.Join(c.dir, root.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
				return nil
			}
			key := digest.NewDigestFromEncoded(alg, d.Name())
			if key.Validate() != nil {
				return nil
			}
			if rel, err := filepath.Rel(c.dir, path); err != nil || rel != c.relPath(key) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			blobs = append(blobs, storedBlob{key: key, size: info.Size(), modTime: info.ModTime()})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(blobs, func(a, b storedBlob) int {
		return cmp.Or(a.modTime.Compare(b.modTime), cmp.Compare(a.key, b.key))
	})
	return blobs, nil
}
