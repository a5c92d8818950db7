package zim

import (
	"io"

	"github.com/meigma/zim/internal/header"
	"github.com/meigma/zim/internal/zimtype"
)

// Re-export types from internal packages for the public API.
type (
	// Entry is a decoded directory entry: an article or a redirect.
	Entry = zimtype.Entry

	// EntryRef locates a directory entry found by a lookup.
	EntryRef = zimtype.EntryRef

	// Kind discriminates article and redirect entries.
	Kind = zimtype.Kind

	// Header is the decoded archive header.
	Header = header.Header

	// Compression identifies how a cluster is stored.
	Compression = zimtype.Compression
)

// Re-export entry kinds.
const (
	KindArticle  = zimtype.KindArticle
	KindRedirect = zimtype.KindRedirect
)

// Re-export compression constants.
const (
	CompressionNone = zimtype.CompressionNone
	CompressionXZ   = zimtype.CompressionXZ
	CompressionZstd = zimtype.CompressionZstd
)

// ByteSource provides random access to archive bytes.
//
// Implementations exist for local files and HTTP range requests.
// SourceID must return a stable identifier for the underlying content; it
// scopes cache keys.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}
