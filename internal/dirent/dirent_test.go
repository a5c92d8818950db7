package dirent

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/zimtype"
)

type record struct {
	mimeType  uint16
	namespace byte
	revision  uint32
	redirect  uint32
	cluster   uint32
	blob      uint32
	url       string
	title     string
	params    []byte
}

func (r record) encode() []byte {
	var buf bytes.Buffer
	buf.Write(binary.LittleEndian.AppendUint16(nil, r.mimeType))
	buf.WriteByte(byte(len(r.params)))
	buf.WriteByte(r.namespace)
	buf.Write(binary.LittleEndian.AppendUint32(nil, r.revision))
	if r.mimeType == zimtype.RedirectMIMEType {
		buf.Write(binary.LittleEndian.AppendUint32(nil, r.redirect))
	} else {
		buf.Write(binary.LittleEndian.AppendUint32(nil, r.cluster))
		buf.Write(binary.LittleEndian.AppendUint32(nil, r.blob))
	}
	buf.WriteString(r.url)
	buf.WriteByte(0)
	buf.WriteString(r.title)
	buf.WriteByte(0)
	buf.Write(r.params)
	return buf.Bytes()
}

// at places data at offset 7 behind some padding so decoding never starts at 0.
func at(data []byte) (*stream.Stream, int64) {
	const offset = 7
	buf := append(bytes.Repeat([]byte{0xEE}, offset), data...)
	return stream.New(bytes.NewReader(buf), int64(len(buf))), offset
}

func TestDecodeArticle(t *testing.T) {
	t.Parallel()

	s, off := at(record{
		mimeType: 2, namespace: 'A', revision: 9,
		cluster: 4, blob: 11,
		url: "Main_Page", title: "Main Page",
		params: []byte{1, 2, 3},
	}.encode())

	e, err := Decode(s, off, 42)
	require.NoError(t, err)
	assert.Equal(t, zimtype.KindArticle, e.Kind)
	assert.Equal(t, uint16(2), e.MIMEType)
	assert.Equal(t, byte('A'), e.Namespace)
	assert.Equal(t, uint32(9), e.Revision)
	assert.Equal(t, "Main_Page", e.URL)
	assert.Equal(t, "Main Page", e.Title)
	assert.Equal(t, uint32(42), e.URLIndex)
	assert.Equal(t, off, e.Offset)

	c, b, ok := e.Location()
	require.True(t, ok)
	assert.Equal(t, uint32(4), c)
	assert.Equal(t, uint32(11), b)
}

func TestDecodeRedirect(t *testing.T) {
	t.Parallel()

	s, off := at(record{
		mimeType: zimtype.RedirectMIMEType, namespace: 'A',
		redirect: 17, url: "Home",
	}.encode())

	e, err := Decode(s, off, 3)
	require.NoError(t, err)
	assert.Equal(t, zimtype.KindRedirect, e.Kind)
	idx, ok := e.Redirect()
	require.True(t, ok)
	assert.Equal(t, uint32(17), idx)
	assert.Equal(t, "Home", e.URL)
	assert.Equal(t, "Home", e.Title, "empty title defaults to url")
}

func TestDecodeVariantFollowsMIMETypeOnly(t *testing.T) {
	t.Parallel()

	for _, ns := range []byte{0, 'A', 'I', '-', 0xFF} {
		for _, rev := range []uint32{0, 1, 0xFFFFFFFF} {
			s, off := at(record{mimeType: zimtype.RedirectMIMEType, namespace: ns, revision: rev, url: "r"}.encode())
			e, err := Decode(s, off, 0)
			require.NoError(t, err)
			assert.Equal(t, zimtype.KindRedirect, e.Kind, "ns=%q rev=%d", ns, rev)

			s, off = at(record{mimeType: 0xFFFE, namespace: ns, revision: rev, url: "a"}.encode())
			e, err = Decode(s, off, 0)
			require.NoError(t, err)
			assert.Equal(t, zimtype.KindArticle, e.Kind, "ns=%q rev=%d", ns, rev)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	full := record{mimeType: 1, namespace: 'A', cluster: 1, blob: 2, url: "Foo", title: "Bar"}.encode()
	// Every strict prefix that cuts into a field or a string terminator must fail.
	for n := 0; n < len(full); n++ {
		s, off := at(full[:n])
		_, err := Decode(s, off, 0)
		require.ErrorIs(t, err, zimtype.ErrFormat, "prefix of %d bytes", n)
	}
}

func TestPeek(t *testing.T) {
	t.Parallel()

	s, off := at(record{mimeType: 0, namespace: 'A', url: "Zeta", title: "alpha"}.encode())

	url, err := PeekURL(s, off)
	require.NoError(t, err)
	assert.Equal(t, "Zeta", url)

	k, err := PeekKey(s, off)
	require.NoError(t, err)
	assert.Equal(t, Key{Namespace: 'A', Name: "Zeta"}, k)

	k, err = PeekTitleKey(s, off)
	require.NoError(t, err)
	assert.Equal(t, Key{Namespace: 'A', Name: "alpha"}, k)

	ns, err := PeekNamespace(s, off)
	require.NoError(t, err)
	assert.Equal(t, byte('A'), ns)

	s, off = at(record{mimeType: zimtype.RedirectMIMEType, namespace: 'B', url: "Redir"}.encode())
	k, err = PeekTitleKey(s, off)
	require.NoError(t, err)
	assert.Equal(t, Key{Namespace: 'B', Name: "Redir"}, k)
}

func TestKeyCompare(t *testing.T) {
	t.Parallel()

	assert.Negative(t, Key{'A', "Zed"}.Compare(Key{'B', "Abc"}))
	assert.Positive(t, Key{'A', "b"}.Compare(Key{'A', "B"}))
	assert.Zero(t, Key{'A', "x"}.Compare(Key{'A', "x"}))
}
