package testutil

import (
	"bytes"
	"cmp"
	"crypto/md5" //nolint:gosec // the archive format mandates MD5
	"encoding/binary"
	"slices"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/meigma/zim/internal/zimtype"
)

// Fixed layout constants used by the builder.
const (
	Magic      = 72173914
	HeaderSize = 80
	NoPage     = 0xFFFFFFFF
)

// TestArticle describes one directory entry of a built archive.
type TestArticle struct {
	Namespace byte
	URL       string
	// Title is stored verbatim; leave empty to exercise the title-defaults-to-URL rule.
	Title    string
	MIMEType string
	Content  []byte
	Revision uint32
	// Params is written as trailing parameter bytes.
	Params []byte
	// Cluster selects the cluster the content is stored in.
	Cluster int
	// RedirectTo makes the entry a redirect to the given "N/url" path.
	RedirectTo string
}

// Path returns the namespaced path of the article.
func (a TestArticle) Path() string {
	return string(a.Namespace) + "/" + a.URL
}

// TestCluster describes how a cluster of the built archive is encoded.
type TestCluster struct {
	Compression zimtype.Compression
	Extended    bool
	// Raw replaces the generated cluster bytes (info byte included) when set.
	Raw []byte
}

// Builder assembles a complete archive in memory.
type Builder struct {
	Articles []TestArticle
	// Clusters defaults to a single xz cluster.
	Clusters []TestCluster
	// MainPage is the "N/url" path of the main page, if any.
	MainPage string
}

// Fixture is a built archive plus the layout facts tests assert against.
type Fixture struct {
	Data           []byte
	URLPtrPos      uint64
	TitlePtrPos    uint64
	ClusterPtrPos  uint64
	MIMEListPos    uint64
	ChecksumPos    uint64
	MIMETypes      []string
	URLOrder       []TestArticle
	TitleOrder     []TestArticle
	EntryOffsets   []int64
	ClusterOffsets []int64
	// BlobOf maps an article path to its (cluster, blob) coordinate.
	BlobOf map[string][2]uint32
}

// Source wraps the fixture data in a MockByteSource.
func (f *Fixture) Source() *MockByteSource {
	return NewMockByteSource(f.Data)
}

// Build encodes the archive described by b.
func Build(tb testing.TB, b Builder) *Fixture {
	tb.Helper()

	clusters := b.Clusters
	if len(clusters) == 0 {
		clusters = []TestCluster{{Compression: zimtype.CompressionXZ}}
	}

	urlOrder := slices.Clone(b.Articles)
	slices.SortStableFunc(urlOrder, func(x, y TestArticle) int {
		return cmp.Or(cmp.Compare(x.Namespace, y.Namespace), cmp.Compare(x.URL, y.URL))
	})
	indexOf := make(map[string]uint32, len(urlOrder))
	for i, a := range urlOrder {
		indexOf[a.Path()] = uint32(i) //nolint:gosec // test fixtures are small
	}

	titleIdx := make([]uint32, len(urlOrder))
	for i := range titleIdx {
		titleIdx[i] = uint32(i) //nolint:gosec // test fixtures are small
	}
	titleOf := func(a TestArticle) string {
		if a.Title == "" {
			return a.URL
		}
		return a.Title
	}
	slices.SortStableFunc(titleIdx, func(x, y uint32) int {
		ax, ay := urlOrder[x], urlOrder[y]
		return cmp.Or(cmp.Compare(ax.Namespace, ay.Namespace), cmp.Compare(titleOf(ax), titleOf(ay)))
	})
	titleOrder := make([]TestArticle, len(titleIdx))
	for i, idx := range titleIdx {
		titleOrder[i] = urlOrder[idx]
	}

	var mimeTypes []string
	mimeIndex := map[string]uint16{}
	blobs := make([][][]byte, len(clusters))
	blobOf := map[string][2]uint32{}
	for _, a := range urlOrder {
		if a.RedirectTo != "" {
			continue
		}
		if _, ok := mimeIndex[a.MIMEType]; !ok {
			mimeIndex[a.MIMEType] = uint16(len(mimeTypes)) //nolint:gosec // test fixtures are small
			mimeTypes = append(mimeTypes, a.MIMEType)
		}
		if a.Cluster < 0 || a.Cluster >= len(clusters) {
			tb.Fatalf("article %s: cluster %d out of range", a.Path(), a.Cluster)
		}
		blobOf[a.Path()] = [2]uint32{uint32(a.Cluster), uint32(len(blobs[a.Cluster]))} //nolint:gosec // test fixtures are small
		blobs[a.Cluster] = append(blobs[a.Cluster], a.Content)
	}

	var mimeList bytes.Buffer
	for _, m := range mimeTypes {
		mimeList.WriteString(m)
		mimeList.WriteByte(0)
	}
	mimeList.WriteByte(0)

	n := uint64(len(urlOrder))
	mimeListPos := uint64(HeaderSize)
	urlPtrPos := mimeListPos + uint64(mimeList.Len())
	titlePtrPos := urlPtrPos + 8*n
	direntPos := titlePtrPos + 4*n

	var dirents bytes.Buffer
	entryOffsets := make([]int64, len(urlOrder))
	for i, a := range urlOrder {
		entryOffsets[i] = int64(direntPos) + int64(dirents.Len()) //nolint:gosec // test fixtures are small
		var hdr [8]byte
		mime := uint16(zimtype.RedirectMIMEType)
		if a.RedirectTo == "" {
			mime = mimeIndex[a.MIMEType]
		}
		binary.LittleEndian.PutUint16(hdr[0:], mime)
		hdr[2] = byte(len(a.Params))
		hdr[3] = a.Namespace
		binary.LittleEndian.PutUint32(hdr[4:], a.Revision)
		dirents.Write(hdr[:])
		if a.RedirectTo != "" {
			target, ok := indexOf[a.RedirectTo]
			if !ok {
				tb.Fatalf("redirect %s: unknown target %s", a.Path(), a.RedirectTo)
			}
			dirents.Write(binary.LittleEndian.AppendUint32(nil, target))
		} else {
			loc := blobOf[a.Path()]
			dirents.Write(binary.LittleEndian.AppendUint32(nil, loc[0]))
			dirents.Write(binary.LittleEndian.AppendUint32(nil, loc[1]))
		}
		dirents.WriteString(a.URL)
		dirents.WriteByte(0)
		dirents.WriteString(a.Title)
		dirents.WriteByte(0)
		dirents.Write(a.Params)
	}

	clusterPtrPos := direntPos + uint64(dirents.Len())
	clusterPos := clusterPtrPos + 8*uint64(len(clusters))

	var clusterData bytes.Buffer
	clusterOffsets := make([]int64, len(clusters))
	for i, c := range clusters {
		clusterOffsets[i] = int64(clusterPos) + int64(clusterData.Len()) //nolint:gosec // test fixtures are small
		if c.Raw != nil {
			clusterData.Write(c.Raw)
			continue
		}
		width := 4
		if c.Extended {
			width = 8
		}
		clusterData.Write(EncodeCluster(tb, c, ClusterBody(width, blobs[i])))
	}
	checksumPos := clusterPos + uint64(clusterData.Len())

	mainPage := uint32(NoPage)
	if b.MainPage != "" {
		idx, ok := indexOf[b.MainPage]
		if !ok {
			tb.Fatalf("main page %s not in archive", b.MainPage)
		}
		mainPage = idx
	}

	var out bytes.Buffer
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:], Magic)
	binary.LittleEndian.PutUint16(header[4:], 5)
	binary.LittleEndian.PutUint16(header[6:], 0)
	copy(header[8:24], []byte("0123456789abcdef"))
	binary.LittleEndian.PutUint32(header[24:], uint32(n))             //nolint:gosec // test fixtures are small
	binary.LittleEndian.PutUint32(header[28:], uint32(len(clusters))) //nolint:gosec // test fixtures are small
	binary.LittleEndian.PutUint64(header[32:], urlPtrPos)
	binary.LittleEndian.PutUint64(header[40:], titlePtrPos)
	binary.LittleEndian.PutUint64(header[48:], clusterPtrPos)
	binary.LittleEndian.PutUint64(header[56:], mimeListPos)
	binary.LittleEndian.PutUint32(header[64:], mainPage)
	binary.LittleEndian.PutUint32(header[68:], NoPage)
	binary.LittleEndian.PutUint64(header[72:], checksumPos)
	out.Write(header)
	out.Write(mimeList.Bytes())
	for _, off := range entryOffsets {
		out.Write(binary.LittleEndian.AppendUint64(nil, uint64(off))) //nolint:gosec // offsets are non-negative
	}
	for _, idx := range titleIdx {
		out.Write(binary.LittleEndian.AppendUint32(nil, idx))
	}
	out.Write(dirents.Bytes())
	for _, off := range clusterOffsets {
		out.Write(binary.LittleEndian.AppendUint64(nil, uint64(off))) //nolint:gosec // offsets are non-negative
	}
	out.Write(clusterData.Bytes())
	sum := md5.Sum(out.Bytes()) //nolint:gosec // the archive format mandates MD5
	out.Write(sum[:])

	return &Fixture{
		Data:           out.Bytes(),
		URLPtrPos:      urlPtrPos,
		TitlePtrPos:    titlePtrPos,
		ClusterPtrPos:  clusterPtrPos,
		MIMEListPos:    mimeListPos,
		ChecksumPos:    checksumPos,
		MIMETypes:      mimeTypes,
		URLOrder:       urlOrder,
		TitleOrder:     titleOrder,
		EntryOffsets:   entryOffsets,
		ClusterOffsets: clusterOffsets,
		BlobOf:         blobOf,
	}
}

// ClusterBody lays out an offset table of the given width followed by the
// concatenated blobs.
func ClusterBody(width int, blobs [][]byte) []byte {
	table := width * (len(blobs) + 1)
	body := make([]byte, table)
	off := uint64(table) //nolint:gosec // table is non-negative
	put := func(i int, v uint64) {
		if width == 8 {
			binary.LittleEndian.PutUint64(body[i*8:], v)
			return
		}
		binary.LittleEndian.PutUint32(body[i*4:], uint32(v)) //nolint:gosec // test fixtures are small
	}
	for i, blob := range blobs {
		put(i, off)
		off += uint64(len(blob))
	}
	put(len(blobs), off)
	for _, blob := range blobs {
		body = append(body, blob...)
	}
	return body
}

// EncodeCluster prefixes body with the cluster info byte and compresses it
// as c describes.
func EncodeCluster(tb testing.TB, c TestCluster, body []byte) []byte {
	tb.Helper()

	info := byte(c.Compression)
	if c.Extended {
		info |= zimtype.ExtendedClusterFlag
	}
	out := []byte{info}
	switch c.Compression {
	case zimtype.CompressionDefault, zimtype.CompressionNone:
		return append(out, body...)
	case zimtype.CompressionXZ:
		var buf bytes.Buffer
		w, err := xz.WriterConfig{DictCap: 1 << 20}.NewWriter(&buf)
		if err != nil {
			tb.Fatalf("xz writer: %v", err)
		}
		if _, err := w.Write(body); err != nil {
			tb.Fatalf("xz write: %v", err)
		}
		if err := w.Close(); err != nil {
			tb.Fatalf("xz close: %v", err)
		}
		return append(out, buf.Bytes()...)
	case zimtype.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			tb.Fatalf("zstd writer: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(body, out)
	default:
		// Unsupported kinds are emitted uncompressed so readers can reject the marker.
		return append(out, body...)
	}
}
