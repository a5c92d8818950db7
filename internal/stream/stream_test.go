package stream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zim/internal/zimtype"
)

// countingReaderAt records how many ReadAt calls reach the source.
type countingReaderAt struct {
	r     *bytes.Reader
	calls int
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	c.calls++
	return c.r.ReadAt(p, off)
}

func newStream(data []byte, opts ...Option) *Stream {
	return New(bytes.NewReader(data), int64(len(data)), opts...)
}

func TestStreamIntegers(t *testing.T) {
	t.Parallel()

	data := []byte{
		0xAB,
		0x34, 0x12,
		0x78, 0x56, 0x34, 0x12,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	s := newStream(data)

	u8, err := s.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	u16, err := s.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := s.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), u32)

	u64, err := s.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	assert.Equal(t, int64(len(data)), s.Offset())

	_, err = s.ReadUint8()
	require.ErrorIs(t, err, zimtype.ErrFormat)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamCString(t *testing.T) {
	t.Parallel()

	s := newStream([]byte("hello\x00\x00world\x00tail"))

	got, err := s.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = s.ReadCString()
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "world", got)

	_, err = s.ReadCString()
	require.ErrorIs(t, err, zimtype.ErrFormat)
}

func TestStreamCStringLongerThanBuffer(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	s := newStream([]byte(long+"\x00"), WithBufferSize(16))

	got, err := s.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, long, got)
	assert.Equal(t, int64(101), s.Offset())
}

func TestStreamCStringTooLong(t *testing.T) {
	t.Parallel()

	data := append(bytes.Repeat([]byte{'a'}, MaxStringLen+10), 0)
	s := newStream(data)

	_, err := s.ReadCString()
	require.ErrorIs(t, err, zimtype.ErrFormat)
}

func TestStreamMarkRestore(t *testing.T) {
	t.Parallel()

	s := newStream([]byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0})

	first, err := s.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first)

	mark := s.Mark()
	require.NoError(t, s.Seek(8))
	third, err := s.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), third)

	require.NoError(t, s.Restore(mark))
	second, err := s.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), second)
}

func TestStreamSeekBounds(t *testing.T) {
	t.Parallel()

	s := newStream(make([]byte, 8))
	require.NoError(t, s.Seek(8))
	require.ErrorIs(t, s.Seek(9), zimtype.ErrFormat)
	require.ErrorIs(t, s.Seek(-1), zimtype.ErrFormat)
	require.ErrorIs(t, s.Skip(1), zimtype.ErrFormat)
}

func TestStreamSeekWithinBufferReusesWindow(t *testing.T) {
	t.Parallel()

	src := &countingReaderAt{r: bytes.NewReader(bytes.Repeat([]byte{7}, 256))}
	s := New(src, 256, WithBufferSize(64))

	_, err := s.ReadUint32()
	require.NoError(t, err)
	calls := src.calls

	require.NoError(t, s.Seek(20))
	_, err = s.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, calls, src.calls, "forward seek inside buffer should not hit the source")

	require.NoError(t, s.Seek(0))
	_, err = s.ReadUint32()
	require.NoError(t, err)
	assert.Greater(t, src.calls, calls, "backward seek refills the buffer")
}

func TestStreamReadBytesAndSection(t *testing.T) {
	t.Parallel()

	s := newStream([]byte("0123456789"))
	require.NoError(t, s.Seek(2))

	got, err := s.ReadBytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("234"), got)

	sec, err := s.Section(8)
	require.NoError(t, err)
	rest, err := io.ReadAll(sec)
	require.NoError(t, err)
	assert.Equal(t, []byte("567"), rest)
	assert.Equal(t, int64(5), s.Offset(), "section must not move the cursor")

	_, err = s.ReadBytes(10)
	require.ErrorIs(t, err, zimtype.ErrFormat)

	_, err = s.Section(11)
	require.ErrorIs(t, err, zimtype.ErrFormat)
}
