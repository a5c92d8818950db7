package header

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/testutil"
	"github.com/meigma/zim/internal/zimtype"
)

func buildFixture(t *testing.T) *testutil.Fixture {
	t.Helper()
	return testutil.Build(t, testutil.Builder{
		Articles: []testutil.TestArticle{
			{Namespace: 'A', URL: "Alpha", MIMEType: "text/html", Content: []byte("a")},
			{Namespace: 'A', URL: "Beta", MIMEType: "text/plain", Content: []byte("b")},
			{Namespace: 'I', URL: "logo.png", MIMEType: "image/png", Content: []byte{0x89, 'P'}},
		},
		MainPage: "A/Beta",
	})
}

func TestRead(t *testing.T) {
	t.Parallel()

	f := buildFixture(t)
	s := stream.New(bytes.NewReader(f.Data), int64(len(f.Data)))

	h, err := Read(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(Magic), h.MagicNumber)
	assert.Equal(t, uint16(5), h.MajorVersion)
	assert.Equal(t, uint32(3), h.ArticleCount)
	assert.Equal(t, uint32(1), h.ClusterCount)
	assert.Equal(t, f.URLPtrPos, h.URLPtrPos)
	assert.Equal(t, f.TitlePtrPos, h.TitlePtrPos)
	assert.Equal(t, f.ClusterPtrPos, h.ClusterPtrPos)
	assert.Equal(t, f.MIMEListPos, h.MIMEListPos)
	assert.Equal(t, f.ChecksumPos, h.ChecksumPos)
	assert.Equal(t, []byte("0123456789abcdef"), h.UUID[:])
	assert.True(t, h.HasMainPage())
	assert.Equal(t, uint32(1), h.MainPage)
	assert.False(t, h.HasLayoutPage())
}

func TestReadRejectsBadMagic(t *testing.T) {
	t.Parallel()

	f := buildFixture(t)
	data := bytes.Clone(f.Data)
	binary.LittleEndian.PutUint32(data[0:], 0xDEADBEEF)

	_, err := Read(stream.New(bytes.NewReader(data), int64(len(data))))
	require.ErrorIs(t, err, zimtype.ErrFormat)
}

func TestReadRejectsTruncatedHeader(t *testing.T) {
	t.Parallel()

	f := buildFixture(t)
	data := f.Data[:Size-1]

	_, err := Read(stream.New(bytes.NewReader(data), int64(len(data))))
	require.ErrorIs(t, err, zimtype.ErrFormat)
}

func TestReadRejectsTablesOutsideArchive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		offset int
		value  uint64
	}{
		{name: "url table past end", offset: 32, value: 1 << 40},
		{name: "title table inside header", offset: 40, value: 8},
		{name: "cluster table overflow", offset: 48, value: ^uint64(0) - 4},
		{name: "checksum past end", offset: 72, value: 1 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := bytes.Clone(buildFixture(t).Data)
			binary.LittleEndian.PutUint64(data[tt.offset:], tt.value)
			_, err := Read(stream.New(bytes.NewReader(data), int64(len(data))))
			require.ErrorIs(t, err, zimtype.ErrFormat)
		})
	}
}

func TestReadMIMETypes(t *testing.T) {
	t.Parallel()

	f := buildFixture(t)
	s := stream.New(bytes.NewReader(f.Data), int64(len(f.Data)))

	types, err := ReadMIMETypes(s, f.MIMEListPos)
	require.NoError(t, err)
	assert.Equal(t, f.MIMETypes, types)
	assert.Equal(t, []string{"text/html", "text/plain", "image/png"}, types)
}

func TestReadMIMETypesUnterminated(t *testing.T) {
	t.Parallel()

	data := append(make([]byte, Size), []byte("text/html\x00text/pl")...)
	s := stream.New(bytes.NewReader(data), int64(len(data)))

	_, err := ReadMIMETypes(s, Size)
	require.ErrorIs(t, err, zimtype.ErrFormat)
}
