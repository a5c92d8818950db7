package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zim/internal/dirent"
	"github.com/meigma/zim/internal/header"
	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/testutil"
	"github.com/meigma/zim/internal/zimtype"
)

func sampleArticles() []testutil.TestArticle {
	return []testutil.TestArticle{
		{Namespace: 'A', URL: "Zebra", Title: "A zebra", MIMEType: "text/html", Content: []byte("z")},
		{Namespace: 'A', URL: "Apple", MIMEType: "text/html", Content: []byte("apple")},
		{Namespace: 'A', URL: "Mango", Title: "Yellow fruit", MIMEType: "text/html", Content: []byte("m")},
		{Namespace: 'A', URL: "Fruit", RedirectTo: "A/Apple"},
		{Namespace: 'I', URL: "favicon.png", MIMEType: "image/png", Content: []byte{1, 2, 3}},
		{Namespace: 'I', URL: "Apple", MIMEType: "image/png", Content: []byte{4}},
		{Namespace: '-', URL: "style.css", MIMEType: "text/css", Content: []byte("body{}")},
		{Namespace: 'M', URL: "Title", MIMEType: "text/plain", Content: []byte("t")},
	}
}

func newNavigator(t *testing.T, data []byte) *Navigator {
	t.Helper()
	src := bytes.NewReader(data)
	h, err := header.Read(stream.New(src, int64(len(data))))
	require.NoError(t, err)
	return New(src, int64(len(data)), h)
}

func TestListURLsByURL(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	urls, err := nav.ListURLsByURL()
	require.NoError(t, err)
	require.Len(t, urls, len(f.URLOrder))

	s := stream.New(bytes.NewReader(f.Data), int64(len(f.Data)))
	for i, url := range urls {
		assert.Equal(t, f.URLOrder[i].URL, url, "slot %d", i)

		// Decode directly from the pointer stored at urlPtrPos + 8*i.
		ptr := binary.LittleEndian.Uint64(f.Data[f.URLPtrPos+8*uint64(i):])
		direct, err := dirent.PeekURL(s, int64(ptr))
		require.NoError(t, err)
		assert.Equal(t, direct, url, "slot %d", i)
	}
}

func TestListURLsByTitle(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	byTitle, err := nav.ListURLsByTitle()
	require.NoError(t, err)
	byURL, err := nav.ListURLsByURL()
	require.NoError(t, err)

	assert.ElementsMatch(t, byURL, byTitle)
	for i, url := range byTitle {
		assert.Equal(t, f.TitleOrder[i].URL, url, "slot %d", i)
	}
	// Zebra sorts first in A by its title "A zebra"; Mango sorts last by "Yellow fruit".
	assert.NotEqual(t, byURL, byTitle)
}

func TestURLsIteratorRestartsAndStopsEarly(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	first, err := collect(nav.URLsByURL(), 0)
	require.NoError(t, err)
	second, err := collect(nav.URLsByURL(), 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var seen []string
	for url, err := range nav.URLsByTitle() {
		require.NoError(t, err)
		seen = append(seen, url)
		if len(seen) == 2 {
			break
		}
	}
	assert.Len(t, seen, 2)
}

func TestURLsByTitleRejectsBadArticleNumber(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	data := bytes.Clone(f.Data)
	binary.LittleEndian.PutUint32(data[f.TitlePtrPos+4:], 999)

	nav := newNavigator(t, data)
	_, err := nav.ListURLsByTitle()
	require.ErrorIs(t, err, zimtype.ErrFormat)
}

func TestFindEntryOffset(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	for i, a := range f.URLOrder {
		t.Run(a.Path(), func(t *testing.T) {
			t.Parallel()
			ref, ok, err := nav.FindEntryOffset(a.Path())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint32(i), ref.Index)
			assert.Equal(t, f.EntryOffsets[i], ref.Offset)
			assert.Equal(t, int64(f.URLPtrPos)+8*int64(i), ref.PointerPos)
		})
	}
}

func TestFindEntryOffsetBareName(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	tests := []struct {
		name string
		want string
	}{
		{name: "style.css", want: "-/style.css"},
		{name: "Mango", want: "A/Mango"},
		// Present in A and I; the first namespace in table order wins.
		{name: "Apple", want: "A/Apple"},
		{name: "favicon.png", want: "I/favicon.png"},
		{name: "Title", want: "M/Title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ref, ok, err := nav.FindEntryOffset(tt.name)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, f.URLOrder[ref.Index].Path())
		})
	}
}

func TestFindEntryOffsetAbsent(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	for _, name := range []string{"", "Nope", "A/Nope", "Z/Zebra", "zebra", "A/", "/", "AAAA", "~~~~"} {
		ref, ok, err := nav.FindEntryOffset(name)
		require.NoError(t, err, name)
		assert.False(t, ok, name)
		assert.Equal(t, zimtype.EntryRef{}, ref, name)
	}
}

func TestFindEntryOffsetEmptyArchive(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{})
	nav := newNavigator(t, f.Data)

	_, ok, err := nav.FindEntryOffset("A/Anything")
	require.NoError(t, err)
	assert.False(t, ok)

	urls, err := nav.ListURLsByURL()
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestFind(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	ref, ok, err := nav.Find('I', "Apple")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "I/Apple", f.URLOrder[ref.Index].Path())

	_, ok, err = nav.Find('I', "Mango")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindByTitle(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	ref, ok, err := nav.FindByTitle('A', "Yellow fruit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A/Mango", f.URLOrder[ref.Index].Path())

	// Empty stored titles are searched by URL.
	ref, ok, err = nav.FindByTitle('A', "Apple")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A/Apple", f.URLOrder[ref.Index].Path())

	_, ok, err = nav.FindByTitle('A', "Mango")
	require.NoError(t, err)
	assert.False(t, ok, "stored title hides the url from title lookup")
}

func TestFindEntryOffsetIsLogarithmic(t *testing.T) {
	t.Parallel()

	articles := make([]testutil.TestArticle, 512)
	for i := range articles {
		articles[i] = testutil.TestArticle{
			Namespace: 'A',
			URL:       fmt.Sprintf("Page_%04d", i),
			MIMEType:  "text/plain",
			Content:   []byte{byte(i)},
		}
	}
	f := testutil.Build(t, testutil.Builder{Articles: articles, Clusters: []testutil.TestCluster{{Compression: zimtype.CompressionNone}}})
	src := f.Source()
	h, err := header.Read(stream.New(src, src.Size()))
	require.NoError(t, err)
	nav := New(src, src.Size(), h)

	before := src.Reads()
	ref, ok, err := nav.FindEntryOffset("A/Page_0377")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(377), ref.Index)
	assert.Less(t, src.Reads()-before, int64(64), "lookup should touch O(log n) entries")
}

func TestPointer(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	nav := newNavigator(t, f.Data)

	ptr, err := nav.Pointer(2)
	require.NoError(t, err)
	assert.Equal(t, f.EntryOffsets[2], ptr)

	_, err = nav.Pointer(uint32(nav.Len()))
	require.ErrorIs(t, err, zimtype.ErrFormat)
}

func TestRefs(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, testutil.Builder{Articles: sampleArticles()})
	src := testutil.NewMockByteSource(f.Data)
	h, err := header.Read(stream.New(src, src.Size()))
	require.NoError(t, err)
	nav := New(src, src.Size(), h)

	before := src.Reads()
	var refs []zimtype.EntryRef
	for ref, err := range nav.Refs() {
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.Len(t, refs, len(f.URLOrder))
	// The whole pointer table fits in one buffered window.
	assert.LessOrEqual(t, src.Reads()-before, int64(2))

	for i, ref := range refs {
		assert.Equal(t, uint32(i), ref.Index) //nolint:gosec // small test values
		assert.Equal(t, int64(f.URLPtrPos)+8*int64(i), ref.PointerPos) //nolint:gosec // small test values
		assert.Equal(t, f.EntryOffsets[i], ref.Offset, "slot %d", i)
	}

	for range nav.Refs() {
		break
	}
}
