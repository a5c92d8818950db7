// Package stream provides a buffered little-endian cursor over random-access
// archive bytes.
//
// A Stream holds exactly one cursor and is not safe for concurrent use.
// Callers that need to return to an earlier position take a Mark and pass it
// back to Restore; the saved position lives with the caller, not the stream.
package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/zim/internal/zimtype"
)

const (
	// DefaultBufferSize is the read-ahead window used between seeks.
	DefaultBufferSize = 4 << 10

	// MaxStringLen bounds NUL-terminated strings.
	MaxStringLen = 64 << 10
)

// Mark is a saved cursor position.
type Mark int64

// Stream is a cursor over an io.ReaderAt.
type Stream struct {
	src     io.ReaderAt
	size    int64
	pos     int64
	bufSize int
	br      *bufio.Reader
	scratch [8]byte
}

// Option configures a Stream.
type Option func(*Stream)

// WithBufferSize sets the read-ahead window. Values below 16 are raised to 16.
func WithBufferSize(n int) Option {
	return func(s *Stream) {
		s.bufSize = n
	}
}

// New creates a Stream positioned at offset 0.
func New(src io.ReaderAt, size int64, opts ...Option) *Stream {
	s := &Stream{
		src:     src,
		size:    size,
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bufSize < 16 {
		s.bufSize = 16
	}
	return s
}

// Size returns the size of the underlying source.
func (s *Stream) Size() int64 {
	return s.size
}

// Offset returns the current cursor position.
func (s *Stream) Offset() int64 {
	return s.pos
}

// Mark returns the current position for a later Restore.
func (s *Stream) Mark() Mark {
	return Mark(s.pos)
}

// Restore moves the cursor back to a saved position.
func (s *Stream) Restore(m Mark) error {
	return s.Seek(int64(m))
}

// Seek moves the cursor to an absolute offset.
func (s *Stream) Seek(off int64) error {
	if off < 0 || off > s.size {
		return fmt.Errorf("%w: seek to %d outside archive of %d bytes", zimtype.ErrFormat, off, s.size)
	}
	if s.br != nil && off >= s.pos && off-s.pos <= int64(s.br.Buffered()) {
		if _, err := s.br.Discard(int(off - s.pos)); err != nil {
			return err
		}
		s.pos = off
		return nil
	}
	section := io.NewSectionReader(s.src, off, s.size-off)
	if s.br == nil {
		s.br = bufio.NewReaderSize(section, s.bufSize)
	} else {
		s.br.Reset(section)
	}
	s.pos = off
	return nil
}

// Skip advances the cursor by n bytes.
func (s *Stream) Skip(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative skip %d", zimtype.ErrFormat, n)
	}
	end := s.pos + n
	if end < s.pos || end > s.size {
		return s.truncated(n)
	}
	return s.Seek(end)
}

// Read implements io.Reader over the remaining bytes.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.ensureReader(); err != nil {
		return 0, err
	}
	n, err := s.br.Read(p)
	s.pos += int64(n)
	return n, err
}

// ReadBytes reads exactly n bytes.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", zimtype.ErrFormat, n)
	}
	if int64(n) > s.size-s.pos {
		return nil, s.truncated(int64(n))
	}
	buf := make([]byte, n)
	if err := s.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint8 reads one byte.
func (s *Stream) ReadUint8() (uint8, error) {
	if err := s.readFull(s.scratch[:1]); err != nil {
		return 0, err
	}
	return s.scratch[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (s *Stream) ReadUint16() (uint16, error) {
	if err := s.readFull(s.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(s.scratch[:2]), nil
}

// ReadUint32 reads a little-endian uint32.
func (s *Stream) ReadUint32() (uint32, error) {
	if err := s.readFull(s.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s.scratch[:4]), nil
}

// ReadUint64 reads a little-endian uint64.
func (s *Stream) ReadUint64() (uint64, error) {
	if err := s.readFull(s.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s.scratch[:8]), nil
}

// ReadCString reads a NUL-terminated string and consumes the terminator.
func (s *Stream) ReadCString() (string, error) {
	if err := s.ensureReader(); err != nil {
		return "", err
	}
	var out []byte
	for {
		chunk, err := s.br.ReadSlice(0)
		s.pos += int64(len(chunk))
		switch {
		case err == nil:
			out = append(out, chunk[:len(chunk)-1]...)
			if len(out) > MaxStringLen {
				return "", fmt.Errorf("%w: string at %d exceeds %d bytes", zimtype.ErrFormat, s.pos, MaxStringLen)
			}
			return string(out), nil
		case errors.Is(err, bufio.ErrBufferFull):
			out = append(out, chunk...)
			if len(out) > MaxStringLen {
				return "", fmt.Errorf("%w: string at %d exceeds %d bytes", zimtype.ErrFormat, s.pos, MaxStringLen)
			}
		case errors.Is(err, io.EOF):
			return "", fmt.Errorf("%w: unterminated string at %d: %w", zimtype.ErrFormat, s.pos, io.ErrUnexpectedEOF)
		default:
			return "", fmt.Errorf("read string at %d: %w", s.pos, err)
		}
	}
}

// Section returns an independent reader over [Offset(), end).
// Reading from the section does not move the stream cursor.
func (s *Stream) Section(end int64) (*io.SectionReader, error) {
	if end < s.pos || end > s.size {
		return nil, fmt.Errorf("%w: section [%d, %d) outside archive of %d bytes", zimtype.ErrFormat, s.pos, end, s.size)
	}
	return io.NewSectionReader(s.src, s.pos, end-s.pos), nil
}

func (s *Stream) ensureReader() error {
	if s.br == nil {
		return s.Seek(s.pos)
	}
	return nil
}

func (s *Stream) readFull(p []byte) error {
	if err := s.ensureReader(); err != nil {
		return err
	}
	n, err := io.ReadFull(s.br, p)
	s.pos += int64(n)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return s.truncated(int64(len(p)))
	}
	return fmt.Errorf("read %d bytes at %d: %w", len(p), s.pos-int64(n), err)
}

func (s *Stream) truncated(n int64) error {
	return fmt.Errorf("%w: read %d bytes at %d: %w", zimtype.ErrFormat, n, s.pos, io.ErrUnexpectedEOF)
}
