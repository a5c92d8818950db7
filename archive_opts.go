package zim

import (
	"log/slog"

	"github.com/meigma/zim/cache"
)

// DefaultMaxRedirects is the default length limit of a redirect chain.
const DefaultMaxRedirects = 8

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for debug records about cache use and
// redirect hops. Defaults to discarding all records.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithCache enables blob caching.
//
// When enabled, decoded blobs are cached after the first read and served
// from cache on subsequent reads. Concurrent reads of the same blob are
// deduplicated.
func WithCache(c cache.Cache) Option {
	return func(a *Archive) {
		a.cache = c
	}
}

// WithMaxBlobSize limits the size of a single blob.
// Set limit to 0 to disable the limit.
func WithMaxBlobSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxBlobSize = limit
	}
}

// WithMaxDecoderMemory limits the maximum memory used by the zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(a *Archive) {
		a.maxDecoderMemory = limit
	}
}

// WithDecoderConcurrency sets the zstd decoder concurrency (default: 1).
// Values < 0 are treated as 0 (use GOMAXPROCS).
func WithDecoderConcurrency(n int) Option {
	return func(a *Archive) {
		if n < 0 {
			n = 0
		}
		a.decoderConcurrency = n
		a.decoderConcurrencySet = true
	}
}

// WithDecoderLowmem sets whether the zstd decoder should use low-memory mode (default: false).
func WithDecoderLowmem(enabled bool) Option {
	return func(a *Archive) {
		a.decoderLowmem = enabled
		a.decoderLowmemSet = true
	}
}

// WithMaxRedirects sets how many redirect hops Resolve follows before
// failing with ErrRedirectLoop. Values < 1 are treated as 1.
func WithMaxRedirects(n int) Option {
	return func(a *Archive) {
		a.maxRedirects = max(n, 1)
	}
}

// WithReadBufferSize sets the buffer size of the read cursors used for
// table and entry reads. Larger buffers trade memory for fewer reads from
// slow sources such as HTTP.
func WithReadBufferSize(n int) Option {
	return func(a *Archive) {
		a.readBufferSize = n
	}
}
