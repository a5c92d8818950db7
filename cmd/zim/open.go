package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/meigma/zim"
	"github.com/meigma/zim/cache"
	"github.com/meigma/zim/cache/disk"
	"github.com/meigma/zim/cache/memory"
	zimhttp "github.com/meigma/zim/http"
)

// openArchive opens target as a local file or, for http(s) URLs, over
// HTTP range requests. The returned close func releases the source.
func (e *env) openArchive(target string) (*zim.Archive, func() error, error) {
	opts, err := e.archiveOptions()
	if err != nil {
		return nil, nil, err
	}

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		var srcOpts []zimhttp.Option
		for _, h := range e.headers {
			key, value, ok := strings.Cut(h, ":")
			if !ok {
				return nil, nil, usagef("invalid --header %q: want \"Key: Value\"", h)
			}
			srcOpts = append(srcOpts, zimhttp.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
		}
		src, err := zimhttp.NewSource(target, srcOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", zim.ErrOpen, err)
		}
		a, err := zim.New(src, opts...)
		if err != nil {
			return nil, nil, err
		}
		e.logger.Debug("opened remote archive", "url", target, "size", src.Size())
		return a, func() error {
			e.logger.Debug("remote reads", "requests", src.Requests())
			return nil
		}, nil
	}

	f, err := zim.OpenFile(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return f.Archive, f.Close, nil
}

func (e *env) archiveOptions() ([]zim.Option, error) {
	maxBlob, err := parseSize("max-blob-size", e.maxBlobSize)
	if err != nil {
		return nil, err
	}
	if e.maxRedirects < 1 {
		return nil, usagef("--max-redirects must be at least 1")
	}
	c, err := e.blobCache()
	if err != nil {
		return nil, err
	}

	opts := []zim.Option{
		zim.WithLogger(e.logger),
		zim.WithMaxBlobSize(maxBlob),
		zim.WithMaxRedirects(e.maxRedirects),
	}
	if c != nil {
		opts = append(opts, zim.WithCache(c))
	}
	return opts, nil
}

// blobCache builds the disk cache when --cache-dir is set, otherwise the
// memory cache unless it is disabled.
func (e *env) blobCache() (cache.Cache, error) {
	if e.cacheDir != "" {
		limit, err := parseSize("cache-max", e.cacheMax)
		if err != nil {
			return nil, err
		}
		if limit > math.MaxInt64 {
			limit = math.MaxInt64
		}
		c, err := disk.New(e.cacheDir, disk.WithMaxBytes(int64(limit))) //nolint:gosec // clamped above
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		return c, nil
	}
	if e.memEntries <= 0 {
		return nil, nil
	}
	c, err := memory.New(memory.WithMaxEntries(e.memEntries))
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return c, nil
}
