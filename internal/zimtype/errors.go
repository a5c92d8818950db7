package zimtype

import "errors"

// Sentinel errors for archive operations.
var (
	// ErrOpen is returned when the archive cannot be opened or read at all.
	ErrOpen = errors.New("zim: open failed")

	// ErrFormat is returned when archive metadata or a directory entry is
	// malformed or truncated.
	ErrFormat = errors.New("zim: malformed archive")

	// ErrOffsetDecode is returned when a blob number or cluster offset table
	// does not describe a valid byte range.
	ErrOffsetDecode = errors.New("zim: invalid blob offset")

	// ErrUnsupportedCompression is returned for cluster markers this reader
	// does not handle.
	ErrUnsupportedCompression = errors.New("zim: unsupported cluster compression")

	// ErrDecompression is returned when compressed cluster data is truncated
	// or corrupt.
	ErrDecompression = errors.New("zim: decompression failed")

	// ErrNotFound is returned when a named article does not exist.
	ErrNotFound = errors.New("zim: article not found")

	// ErrRedirectLoop is returned when a redirect chain exceeds the hop limit.
	ErrRedirectLoop = errors.New("zim: too many redirects")

	// ErrChecksumMismatch is returned when the stored archive checksum does
	// not match the archive content.
	ErrChecksumMismatch = errors.New("zim: checksum verification failed")

	// ErrSizeOverflow is returned when offsets or sizes exceed supported limits.
	ErrSizeOverflow = errors.New("zim: size overflow")
)
