package zim

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/zim/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
)

// Open implements fs.FS.
//
// Names are exact "N/url" paths; redirects are followed. The returned file
// holds the whole blob in memory and supports Seek and ReadAt.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return rootDir{}, nil
	}
	content, entry, err := a.readPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &file{
		Reader: bytes.NewReader(content),
		info:   fileInfo{entry: entry, size: int64(len(content))},
	}, nil
}

// Stat implements fs.StatFS.
//
// The size of an article is only known once its blob is decoded, so Stat
// reads the blob.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return rootInfo{}, nil
	}
	content, entry, err := a.readPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return fileInfo{entry: entry, size: int64(len(content))}, nil
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	content, _, err := a.readPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return content, nil
}

func (a *Archive) readPath(name string) ([]byte, Entry, error) {
	e, ok, err := a.lookupPath(name)
	if err != nil {
		return nil, Entry{}, err
	}
	if !ok {
		return nil, Entry{}, fs.ErrNotExist
	}
	article, err := a.Resolve(e)
	if err != nil {
		return nil, Entry{}, err
	}
	clusterNumber, blobNumber, _ := article.Location()
	content, err := a.Blob(clusterNumber, blobNumber)
	if err != nil {
		return nil, Entry{}, err
	}
	return content, article, nil
}

// file is an fs.File over an in-memory blob.
type file struct {
	*bytes.Reader
	info fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *file) Close() error               { return nil }

// fileInfo describes an article. Sys returns its Entry.
type fileInfo struct {
	entry Entry
	size  int64
}

func (fi fileInfo) Name() string       { return pathutil.Base(fi.entry.URL) }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return fi.entry }

// rootDir is the "." directory. Archives have no directory listing, so it
// reads as an empty directory.
type rootDir struct{}

var _ fs.ReadDirFile = rootDir{}

func (rootDir) Stat() (fs.FileInfo, error) { return rootInfo{}, nil }
func (rootDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: errors.New("is a directory")}
}
func (rootDir) Close() error { return nil }

func (rootDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n > 0 {
		return nil, io.EOF
	}
	return nil, nil
}

type rootInfo struct{}

func (rootInfo) Name() string       { return "." }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }

var _ io.ReaderAt = (*file)(nil)
