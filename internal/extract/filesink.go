package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/zim/internal/pathutil"
	"github.com/meigma/zim/internal/zimtype"
)

// FileSink writes entries to the filesystem with atomic writes.
//
// Each entry lands at destDir/N/url. Files are written to a temporary file
// in the same directory, then renamed to the final path on Commit, so
// partially written files are never visible at the final path.
type FileSink struct {
	destDir   string
	overwrite bool
	fileMode  os.FileMode
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithFileMode sets the permission bits of written files.
// The default is 0o644.
func WithFileMode(mode os.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.fileMode = mode.Perm()
	}
}

// NewFileSink creates a FileSink that writes to destDir.
//
// Parent directories are created automatically as needed.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		destDir:  destDir,
		fileMode: 0o644,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess returns false if the file already exists and overwrite is
// disabled. Unsafe paths are let through so Writer can report them.
func (s *FileSink) ShouldProcess(entry zimtype.Entry) bool {
	if s.overwrite {
		return true
	}
	destPath, err := pathutil.Join(s.destDir, entry.Path())
	if err != nil {
		return true
	}
	_, err = os.Stat(destPath)
	return os.IsNotExist(err)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry zimtype.Entry) (Committer, error) {
	destPath, err := pathutil.Join(s.destDir, entry.Path())
	if err != nil {
		return nil, fmt.Errorf("%q: %w", entry.Path(), err)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Same directory as the target so the rename stays atomic.
	tempFile, err := os.CreateTemp(dir, ".zim-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		destPath: destPath,
		tempFile: tempFile,
		mode:     s.fileMode,
	}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	destPath string
	tempFile *os.File
	mode     os.FileMode
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies the mode, and renames to the final path.
func (c *fileCommitter) Commit() error {
	tempPath := c.tempFile.Name()

	if err := c.tempFile.Close(); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, c.mode); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tempPath, c.destPath); err != nil {
		_ = os.Remove(tempPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	tempPath := c.tempFile.Name()
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return os.Remove(tempPath)
}
