package extract

import (
	"io"

	"github.com/meigma/zim/internal/zimtype"
)

// Sink receives decoded article content during extraction.
//
// Implementations determine where content is written and can filter
// which entries to process.
type Sink interface {
	// ShouldProcess returns false if this entry should be skipped.
	ShouldProcess(entry zimtype.Entry) bool

	// Writer returns a writer for the entry's content.
	// The caller writes the full blob and then calls Commit, or Discard
	// on any error.
	Writer(entry zimtype.Entry) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
