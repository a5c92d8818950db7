// Package cluster extracts blobs from archive clusters.
//
// A cluster starts with one info byte. Its low nibble names the compression
// and bit 0x10 marks an extended cluster. The (decompressed) body is an
// offset table of numberOfBlobs+1 entries, 4 bytes each or 8 for extended
// clusters, followed by the concatenated blobs. Offsets are relative to the
// body start, so the first offset is also the size of the table.
package cluster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/ulikunitz/xz"

	"github.com/meigma/zim/internal/header"
	"github.com/meigma/zim/internal/sizing"
	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/zimtype"
)

const (
	// XZDictCap is the minimum LZMA2 dictionary window for xz clusters.
	XZDictCap = 4 << 20

	// DefaultMaxBlobSize is the default maximum blob size (256MB).
	DefaultMaxBlobSize = 256 << 20

	// DefaultMaxDecoderMemory is the default maximum zstd decoder memory (256MB).
	DefaultMaxDecoderMemory = 256 << 20

	clusterPtrWidth = 8
	inputBufferSize = 64 << 10
)

// Extractor reads blobs out of the clusters of one archive.
//
// Each call uses its own cursor; an Extractor is safe for concurrent use
// when the source's ReadAt is.
type Extractor struct {
	src         io.ReaderAt
	size        int64
	hdr         header.Header
	maxBlobSize uint64
	decoder     decoderConfig
	zstd        *zstdPool
	streamOpts  []stream.Option
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBlobSize sets the maximum blob size limit.
// Set to 0 to disable the limit.
func WithMaxBlobSize(limit uint64) Option {
	return func(x *Extractor) {
		x.maxBlobSize = limit
	}
}

// WithMaxDecoderMemory sets the maximum zstd decoder memory limit.
// Set to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(x *Extractor) {
		x.decoder.maxMemory = limit
	}
}

// WithDecoderConcurrency sets the zstd decoder concurrency (default: 1).
// Values < 0 are treated as 0 (use GOMAXPROCS).
func WithDecoderConcurrency(n int) Option {
	return func(x *Extractor) {
		if n < 0 {
			n = 0
		}
		x.decoder.concurrency = n
		x.decoder.concurrencySet = true
	}
}

// WithDecoderLowmem sets whether the zstd decoder should use low-memory mode.
func WithDecoderLowmem(enabled bool) Option {
	return func(x *Extractor) {
		x.decoder.lowmem = enabled
	}
}

// WithStreamOptions configures the cursors used for archive reads.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(x *Extractor) {
		x.streamOpts = opts
	}
}

// New creates an Extractor for the clusters described by h.
func New(src io.ReaderAt, size int64, h header.Header, opts ...Option) *Extractor {
	x := &Extractor{
		src:         src,
		size:        size,
		hdr:         h,
		maxBlobSize: DefaultMaxBlobSize,
		decoder: decoderConfig{
			maxMemory:      DefaultMaxDecoderMemory,
			concurrency:    1,
			concurrencySet: true,
		},
	}
	for _, opt := range opts {
		opt(x)
	}
	x.zstd = newZstdPool(x.decoder)
	return x
}

// location describes where a cluster lives in the archive.
type location struct {
	compression zimtype.Compression
	extended    bool
	body        int64 // first byte after the info byte
	end         int64 // first byte after the cluster
}

func (l location) width() uint64 {
	if l.extended {
		return 8
	}
	return 4
}

func (x *Extractor) newStream() *stream.Stream {
	return stream.New(x.src, x.size, x.streamOpts...)
}

// locate reads the cluster pointer and info byte. The cluster ends where the
// next cluster starts, or at the checksum for the last cluster.
func (x *Extractor) locate(s *stream.Stream, clusterNumber uint32) (location, error) {
	if clusterNumber >= x.hdr.ClusterCount {
		return location{}, fmt.Errorf("%w: cluster %d of %d", zimtype.ErrOffsetDecode, clusterNumber, x.hdr.ClusterCount)
	}
	pos, err := sizing.Slot(x.hdr.ClusterPtrPos, clusterPtrWidth, uint64(clusterNumber), zimtype.ErrSizeOverflow)
	if err != nil {
		return location{}, err
	}
	if err := s.Seek(pos); err != nil {
		return location{}, err
	}
	rawStart, err := s.ReadUint64()
	if err != nil {
		return location{}, fmt.Errorf("read cluster pointer %d: %w", clusterNumber, err)
	}
	end := x.size
	if clusterNumber+1 < x.hdr.ClusterCount {
		next, err := s.ReadUint64()
		if err != nil {
			return location{}, fmt.Errorf("read cluster pointer %d: %w", clusterNumber+1, err)
		}
		if end, err = sizing.ToInt64(next, zimtype.ErrSizeOverflow); err != nil {
			return location{}, err
		}
	} else if x.hdr.ChecksumPos != 0 {
		if end, err = sizing.ToInt64(x.hdr.ChecksumPos, zimtype.ErrSizeOverflow); err != nil {
			return location{}, err
		}
	}
	start, err := sizing.ToInt64(rawStart, zimtype.ErrSizeOverflow)
	if err != nil {
		return location{}, err
	}
	if start >= end || end > x.size {
		return location{}, fmt.Errorf("%w: cluster %d spans [%d, %d) in archive of %d bytes", zimtype.ErrFormat, clusterNumber, start, end, x.size)
	}
	if err := s.Seek(start); err != nil {
		return location{}, err
	}
	info, err := s.ReadUint8()
	if err != nil {
		return location{}, fmt.Errorf("read cluster %d info: %w", clusterNumber, err)
	}
	compression, extended := zimtype.ParseClusterInfo(info)
	return location{
		compression: compression,
		extended:    extended,
		body:        start + 1,
		end:         end,
	}, nil
}

// Info reports how cluster clusterNumber is stored.
func (x *Extractor) Info(clusterNumber uint32) (compression zimtype.Compression, extended bool, err error) {
	loc, err := x.locate(x.newStream(), clusterNumber)
	if err != nil {
		return 0, false, err
	}
	return loc.compression, loc.extended, nil
}

// BlobCount returns the number of blobs in cluster clusterNumber.
func (x *Extractor) BlobCount(clusterNumber uint32) (uint64, error) {
	s := x.newStream()
	loc, err := x.locate(s, clusterNumber)
	if err != nil {
		return 0, err
	}
	var first uint64
	switch {
	case loc.compression.Stored():
		first, err = readStreamOffset(s, loc.width())
	case loc.compression == zimtype.CompressionXZ, loc.compression == zimtype.CompressionZstd:
		r, release, openErr := x.decompressor(s, loc)
		if openErr != nil {
			return 0, openErr
		}
		defer release()
		first, err = readOffset(r, loc.width())
	default:
		return 0, unsupported(clusterNumber, loc)
	}
	if err != nil {
		return 0, fmt.Errorf("cluster %d: %w", clusterNumber, err)
	}
	n, err := blobCount(first, loc.width())
	if err != nil {
		return 0, fmt.Errorf("cluster %d: %w", clusterNumber, err)
	}
	return n, nil
}

// Blob returns the bytes of blob blobNumber in cluster clusterNumber.
//
// Compressed clusters are decoded as a stream up to the end of the blob;
// nothing past it is decompressed and nothing before it is retained.
func (x *Extractor) Blob(clusterNumber, blobNumber uint32) ([]byte, error) {
	s := x.newStream()
	loc, err := x.locate(s, clusterNumber)
	if err != nil {
		return nil, err
	}
	var blob []byte
	switch {
	case loc.compression.Stored():
		blob, err = x.storedBlob(s, loc, blobNumber)
	case loc.compression == zimtype.CompressionXZ, loc.compression == zimtype.CompressionZstd:
		r, release, openErr := x.decompressor(s, loc)
		if openErr != nil {
			return nil, fmt.Errorf("cluster %d: %w", clusterNumber, openErr)
		}
		defer release()
		blob, err = x.compressedBlob(r, loc.width(), blobNumber)
	default:
		return nil, unsupported(clusterNumber, loc)
	}
	if err != nil {
		return nil, fmt.Errorf("cluster %d blob %d: %w", clusterNumber, blobNumber, err)
	}
	return blob, nil
}

// Blobs yields every blob of cluster clusterNumber in blob order.
//
// The cluster is read once: the offset table is decoded up front and the
// payloads are then streamed from a single decoder. Breaking out of the
// loop stops decoding. Each yielded slice is freshly allocated.
func (x *Extractor) Blobs(clusterNumber uint32) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		s := x.newStream()
		loc, err := x.locate(s, clusterNumber)
		if err != nil {
			yield(nil, err)
			return
		}
		var (
			r       io.Reader
			release = func() {}
		)
		switch {
		case loc.compression.Stored():
			section, err := s.Section(loc.end)
			if err != nil {
				yield(nil, err)
				return
			}
			r = bufio.NewReaderSize(section, inputBufferSize)
		case loc.compression == zimtype.CompressionXZ, loc.compression == zimtype.CompressionZstd:
			r, release, err = x.decompressor(s, loc)
			if err != nil {
				yield(nil, fmt.Errorf("cluster %d: %w", clusterNumber, err))
				return
			}
		default:
			yield(nil, unsupported(clusterNumber, loc))
			return
		}
		defer release()

		offsets, err := x.offsetTable(r, loc)
		if err != nil {
			yield(nil, fmt.Errorf("cluster %d: %w", clusterNumber, err))
			return
		}
		pos := loc.width() * uint64(len(offsets))
		for bn := range len(offsets) - 1 {
			blob, err := x.nextBlob(r, &pos, offsets[bn], offsets[bn+1], offsets[0])
			if err != nil {
				yield(nil, fmt.Errorf("cluster %d blob %d: %w", clusterNumber, bn, err))
				return
			}
			if !yield(blob, nil) {
				return
			}
		}
	}
}

// offsetTable reads all numberOfBlobs+1 offsets from the head of a cluster
// body. The table grows as entries are decoded, so a corrupt first offset
// cannot force a large allocation up front. Stored clusters must fit inside
// their byte range.
func (x *Extractor) offsetTable(r io.Reader, loc location) ([]uint64, error) {
	width := loc.width()
	first, err := readOffset(r, width)
	if err != nil {
		return nil, err
	}
	count, err := blobCount(first, width)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint64, 1, min(count+1, 1024))
	offsets[0] = first
	for range count {
		off, err := readOffset(r, width)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, off)
	}
	if loc.compression.Stored() {
		last := offsets[len(offsets)-1]
		if last > uint64(loc.end-loc.body) { //nolint:gosec // end > body
			return nil, fmt.Errorf("%w: blobs end at %d past cluster end %d", zimtype.ErrOffsetDecode, last, loc.end-loc.body)
		}
	}
	return offsets, nil
}

// nextBlob reads the blob spanning [offset1, offset2) given that the reader
// has consumed *pos bytes of the body, and advances *pos past it.
func (x *Extractor) nextBlob(r io.Reader, pos *uint64, offset1, offset2, first uint64) ([]byte, error) {
	length, err := x.span(offset1, offset2, first)
	if err != nil {
		return nil, err
	}
	if offset1 < *pos {
		return nil, fmt.Errorf("%w: blob at %d overlaps data read up to %d", zimtype.ErrOffsetDecode, offset1, *pos)
	}
	if err := skip(r, offset1-*pos); err != nil {
		return nil, err
	}
	blob := make([]byte, length)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, decodeError(err)
	}
	*pos = offset2
	return blob, nil
}

func unsupported(clusterNumber uint32, loc location) error {
	return fmt.Errorf("%w: cluster %d uses %s", zimtype.ErrUnsupportedCompression, clusterNumber, loc.compression)
}

// decompressor opens a decoder over the cluster body. The stream must be
// positioned just after the info byte.
func (x *Extractor) decompressor(s *stream.Stream, loc location) (io.Reader, func(), error) {
	section, err := s.Section(loc.end)
	if err != nil {
		return nil, nil, err
	}
	in := bufio.NewReaderSize(section, inputBufferSize)
	switch loc.compression {
	case zimtype.CompressionXZ:
		r, err := xz.ReaderConfig{DictCap: XZDictCap, SingleStream: true}.NewReader(in)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", zimtype.ErrDecompression, err)
		}
		return r, func() {}, nil
	case zimtype.CompressionZstd:
		dec, release, err := x.zstd.Get(in)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", zimtype.ErrDecompression, err)
		}
		return dec, release, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", zimtype.ErrUnsupportedCompression, loc.compression)
	}
}

// compressedBlob walks the offset table at the head of a decompressed body.
// After reading the table entries for blobNumber and blobNumber+1 the
// decoder has consumed width*(blobNumber+2) bytes; the remainder of the gap
// to offset1 is skipped.
func (x *Extractor) compressedBlob(r io.Reader, width uint64, blobNumber uint32) ([]byte, error) {
	first, err := readOffset(r, width)
	if err != nil {
		return nil, err
	}
	count, err := blobCount(first, width)
	if err != nil {
		return nil, err
	}
	bn := uint64(blobNumber)
	if bn >= count {
		return nil, fmt.Errorf("%w: blob %d of %d", zimtype.ErrOffsetDecode, blobNumber, count)
	}

	offset1 := first
	if bn > 0 {
		if err := skip(r, (bn-1)*width); err != nil {
			return nil, err
		}
		if offset1, err = readOffset(r, width); err != nil {
			return nil, err
		}
	}
	offset2, err := readOffset(r, width)
	if err != nil {
		return nil, err
	}
	length, err := x.span(offset1, offset2, first)
	if err != nil {
		return nil, err
	}
	if err := skip(r, offset1-width*(bn+2)); err != nil {
		return nil, err
	}

	blob := make([]byte, length)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, decodeError(err)
	}
	return blob, nil
}

// storedBlob reads the two bounding offsets straight from the archive and
// then the payload with a single bounded read.
func (x *Extractor) storedBlob(s *stream.Stream, loc location, blobNumber uint32) ([]byte, error) {
	width := loc.width()
	first, err := readStreamOffset(s, width)
	if err != nil {
		return nil, err
	}
	count, err := blobCount(first, width)
	if err != nil {
		return nil, err
	}
	bn := uint64(blobNumber)
	if bn >= count {
		return nil, fmt.Errorf("%w: blob %d of %d", zimtype.ErrOffsetDecode, blobNumber, count)
	}
	slot, err := sizing.Slot(uint64(loc.body), width, bn, zimtype.ErrSizeOverflow) //nolint:gosec // body is non-negative
	if err != nil {
		return nil, err
	}
	if err := s.Seek(slot); err != nil {
		return nil, err
	}
	offset1, err := readStreamOffset(s, width)
	if err != nil {
		return nil, err
	}
	offset2, err := readStreamOffset(s, width)
	if err != nil {
		return nil, err
	}
	length, err := x.span(offset1, offset2, first)
	if err != nil {
		return nil, err
	}
	rel, err := sizing.ToInt64(offset1, zimtype.ErrOffsetDecode)
	if err != nil {
		return nil, err
	}
	start := loc.body + rel
	if start < loc.body || !sizing.InBounds(start, int64(length), loc.end) {
		return nil, fmt.Errorf("%w: blob [%d, +%d) past cluster end %d", zimtype.ErrOffsetDecode, start, length, loc.end)
	}
	if err := s.Seek(start); err != nil {
		return nil, err
	}
	return s.ReadBytes(length)
}

// span validates a blob's bounding offsets and returns its length.
func (x *Extractor) span(offset1, offset2, first uint64) (int, error) {
	if offset1 < first || offset2 < offset1 {
		return 0, fmt.Errorf("%w: offsets [%d, %d) with table of %d bytes", zimtype.ErrOffsetDecode, offset1, offset2, first)
	}
	length := offset2 - offset1
	if x.maxBlobSize > 0 && length > x.maxBlobSize {
		return 0, fmt.Errorf("%w: blob of %d bytes exceeds limit %d", zimtype.ErrSizeOverflow, length, x.maxBlobSize)
	}
	return sizing.ToInt(length, zimtype.ErrSizeOverflow)
}

// blobCount derives numberOfBlobs from the first table offset.
func blobCount(first, width uint64) (uint64, error) {
	if first < width {
		return 0, fmt.Errorf("%w: first offset %d smaller than one table entry", zimtype.ErrOffsetDecode, first)
	}
	return first/width - 1, nil
}

func readOffset(r io.Reader, width uint64) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:width]); err != nil {
		return 0, decodeError(err)
	}
	if width == 8 {
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
	return uint64(binary.LittleEndian.Uint32(buf[:4])), nil
}

func readStreamOffset(s *stream.Stream, width uint64) (uint64, error) {
	if width == 8 {
		return s.ReadUint64()
	}
	v, err := s.ReadUint32()
	return uint64(v), err
}

func skip(r io.Reader, n uint64) error {
	if n == 0 {
		return nil
	}
	m, err := sizing.ToInt64(n, zimtype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(io.Discard, r, m); err != nil {
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", zimtype.ErrDecompression, err)
}
