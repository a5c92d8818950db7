package zim

import "github.com/meigma/zim/internal/zimtype"

// Sentinel errors re-exported from internal/zimtype.
var (
	// ErrOpen is returned when the archive cannot be opened.
	ErrOpen = zimtype.ErrOpen

	// ErrFormat is returned for malformed or truncated archive structures.
	ErrFormat = zimtype.ErrFormat

	// ErrOffsetDecode is returned when a cluster or blob number does not
	// describe a valid byte range.
	ErrOffsetDecode = zimtype.ErrOffsetDecode

	// ErrUnsupportedCompression is returned for unknown cluster markers.
	ErrUnsupportedCompression = zimtype.ErrUnsupportedCompression

	// ErrDecompression is returned when compressed cluster data is corrupt.
	ErrDecompression = zimtype.ErrDecompression

	// ErrNotFound is returned when a named article does not exist.
	ErrNotFound = zimtype.ErrNotFound

	// ErrRedirectLoop is returned when a redirect chain is too long.
	ErrRedirectLoop = zimtype.ErrRedirectLoop

	// ErrChecksumMismatch is returned by Verify when the archive is corrupt.
	ErrChecksumMismatch = zimtype.ErrChecksumMismatch

	// ErrSizeOverflow is returned when sizes exceed supported limits.
	ErrSizeOverflow = zimtype.ErrSizeOverflow
)
