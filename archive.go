package zim

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/zim/cache"
	"github.com/meigma/zim/internal/cluster"
	"github.com/meigma/zim/internal/dirent"
	"github.com/meigma/zim/internal/header"
	"github.com/meigma/zim/internal/index"
	"github.com/meigma/zim/internal/stream"
)

// Archive provides read access to the entries and blobs of an archive.
//
// Archive implements fs.FS, fs.StatFS, and fs.ReadFileFS over "N/url"
// paths for compatibility with the standard library.
type Archive struct {
	source                ByteSource
	size                  int64
	sourceID              string
	hdr                   header.Header
	mimeTypes             []string
	nav                   *index.Navigator
	blobs                 *cluster.Extractor
	streamOpts            []stream.Option
	maxBlobSize           uint64
	maxDecoderMemory      uint64
	decoderConcurrencySet bool
	decoderConcurrency    int
	decoderLowmemSet      bool
	decoderLowmem         bool
	maxRedirects          int
	readBufferSize        int
	cache                 cache.Cache        // nil = no caching
	fillGroup             singleflight.Group // zero value is valid
	logger                *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// New reads the header and MIME table of the archive in source.
//
// No half-open archives are returned: on error the Archive is nil.
func New(source ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{
		source:           source,
		size:             source.Size(),
		sourceID:         source.SourceID(),
		maxBlobSize:      cluster.DefaultMaxBlobSize,
		maxDecoderMemory: cluster.DefaultMaxDecoderMemory,
		maxRedirects:     DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readBufferSize > 0 {
		a.streamOpts = append(a.streamOpts, stream.WithBufferSize(a.readBufferSize))
	}

	s := a.newStream()
	hdr, err := header.Read(s)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	mimeTypes, err := header.ReadMIMETypes(s, hdr.MIMEListPos)
	if err != nil {
		return nil, fmt.Errorf("read mime types: %w", err)
	}
	a.hdr = hdr
	a.mimeTypes = mimeTypes
	a.nav = index.New(source, a.size, hdr, a.streamOpts...)

	extractorOpts := []cluster.Option{
		cluster.WithMaxBlobSize(a.maxBlobSize),
		cluster.WithMaxDecoderMemory(a.maxDecoderMemory),
		cluster.WithStreamOptions(a.streamOpts...),
	}
	if a.decoderConcurrencySet {
		extractorOpts = append(extractorOpts, cluster.WithDecoderConcurrency(a.decoderConcurrency))
	}
	if a.decoderLowmemSet {
		extractorOpts = append(extractorOpts, cluster.WithDecoderLowmem(a.decoderLowmem))
	}
	a.blobs = cluster.New(source, a.size, hdr, extractorOpts...)

	a.log().Debug("archive opened",
		"uuid", hdr.UUID,
		"version", fmt.Sprintf("%d.%d", hdr.MajorVersion, hdr.MinorVersion),
		"entries", hdr.ArticleCount,
		"clusters", hdr.ClusterCount,
	)
	return a, nil
}

func (a *Archive) newStream() *stream.Stream {
	return stream.New(a.source, a.size, a.streamOpts...)
}

// Header returns the decoded archive header.
func (a *Archive) Header() Header {
	return a.hdr
}

// Size returns the archive size in bytes.
func (a *Archive) Size() int64 {
	return a.size
}

// Len returns the number of directory entries.
func (a *Archive) Len() int {
	return a.nav.Len()
}

// MIMETypes returns the archive's MIME table.
func (a *Archive) MIMETypes() []string {
	return slices.Clone(a.mimeTypes)
}

// MIMEType returns the MIME type of an article. Redirects have none and
// return "".
func (a *Archive) MIMEType(e Entry) (string, error) {
	if e.IsRedirect() {
		return "", nil
	}
	if int(e.MIMEType) >= len(a.mimeTypes) {
		return "", fmt.Errorf("%w: entry %s names mime type %d of %d", ErrFormat, e.Path(), e.MIMEType, len(a.mimeTypes))
	}
	return a.mimeTypes[e.MIMEType], nil
}

// URLsByURL yields every URL in URL-table order. The sequence may be ranged
// over more than once.
func (a *Archive) URLsByURL() iter.Seq2[string, error] {
	return a.nav.URLsByURL()
}

// URLsByTitle yields every URL in title-table order.
func (a *Archive) URLsByTitle() iter.Seq2[string, error] {
	return a.nav.URLsByTitle()
}

// ListURLsByURL returns every URL in URL-table order.
func (a *Archive) ListURLsByURL() ([]string, error) {
	return a.nav.ListURLsByURL()
}

// ListURLsByTitle returns every URL in title-table order.
func (a *Archive) ListURLsByTitle() ([]string, error) {
	return a.nav.ListURLsByTitle()
}

// FindEntryOffset locates the directory entry for name. Names are "N/url"
// or a bare URL searched in every namespace. ok is false, with a nil
// error, when no entry matches.
func (a *Archive) FindEntryOffset(name string) (EntryRef, bool, error) {
	return a.nav.FindEntryOffset(name)
}

// Lookup finds and decodes the directory entry for name. Redirects are
// returned as is; see Resolve.
func (a *Archive) Lookup(name string) (Entry, bool, error) {
	ref, ok, err := a.nav.FindEntryOffset(name)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := dirent.Decode(a.newStream(), ref.Offset, ref.Index)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// LookupTitle finds the entry with the given namespace and title. Entries
// without a stored title are found by URL.
func (a *Archive) LookupTitle(namespace byte, title string) (Entry, bool, error) {
	ref, ok, err := a.nav.FindByTitle(namespace, title)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := dirent.Decode(a.newStream(), ref.Offset, ref.Index)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// lookupPath finds the entry at an exact "N/url" path, without the bare
// URL fallback of Lookup.
func (a *Archive) lookupPath(name string) (Entry, bool, error) {
	if len(name) < 3 || name[1] != '/' {
		return Entry{}, false, nil
	}
	ref, ok, err := a.nav.Find(name[0], name[2:])
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := dirent.Decode(a.newStream(), ref.Offset, ref.Index)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// EntryAt decodes the entry in URL-table slot urlIndex.
func (a *Archive) EntryAt(urlIndex uint32) (Entry, error) {
	ptr, err := a.nav.Pointer(urlIndex)
	if err != nil {
		return Entry{}, err
	}
	return dirent.Decode(a.newStream(), ptr, urlIndex)
}

// Entries yields every entry in URL-table order. Iteration stops after the
// first error.
//
// The pointer table and the entry records are read through two cursors, one
// for each region, so neither refills its buffer per entry.
func (a *Archive) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		s := a.newStream()
		for ref, err := range a.nav.Refs() {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			e, err := dirent.Decode(s, ref.Offset, ref.Index)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Resolve follows redirects from e to an article. Articles are returned
// unchanged. Chains longer than the redirect limit fail with
// ErrRedirectLoop.
func (a *Archive) Resolve(e Entry) (Entry, error) {
	for hops := 0; ; hops++ {
		switch e.Kind {
		case KindArticle:
			return e, nil
		case KindRedirect:
			if hops >= a.maxRedirects {
				return Entry{}, fmt.Errorf("%w: %s after %d hops", ErrRedirectLoop, e.Path(), hops)
			}
			target, _ := e.Redirect()
			next, err := a.EntryAt(target)
			if err != nil {
				return Entry{}, fmt.Errorf("resolve %s: %w", e.Path(), err)
			}
			a.log().Debug("redirect", "from", e.Path(), "to", next.Path())
			e = next
		default:
			return Entry{}, fmt.Errorf("%w: entry %s has kind %s", ErrFormat, e.Path(), e.Kind)
		}
	}
}

// Content returns the blob of an article, following redirects first.
func (a *Archive) Content(e Entry) ([]byte, error) {
	article, err := a.Resolve(e)
	if err != nil {
		return nil, err
	}
	clusterNumber, blobNumber, _ := article.Location()
	return a.Blob(clusterNumber, blobNumber)
}

// ReadArticle looks up name, follows redirects, and returns the article's
// content with its entry. A missing name fails with ErrNotFound.
func (a *Archive) ReadArticle(name string) ([]byte, Entry, error) {
	e, ok, err := a.Lookup(name)
	if err != nil {
		return nil, Entry{}, err
	}
	if !ok {
		return nil, Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	article, err := a.Resolve(e)
	if err != nil {
		return nil, Entry{}, err
	}
	clusterNumber, blobNumber, _ := article.Location()
	content, err := a.Blob(clusterNumber, blobNumber)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("read %s: %w", article.Path(), err)
	}
	return content, article, nil
}

// MainPage returns the entry named as the archive's main page, unresolved.
// ok is false when the archive names none.
func (a *Archive) MainPage() (Entry, bool, error) {
	if !a.hdr.HasMainPage() {
		return Entry{}, false, nil
	}
	e, err := a.EntryAt(a.hdr.MainPage)
	if err != nil {
		return Entry{}, false, fmt.Errorf("main page: %w", err)
	}
	return e, true, nil
}

// LayoutPage returns the entry named as the archive's layout page.
// ok is false when the archive names none.
func (a *Archive) LayoutPage() (Entry, bool, error) {
	if !a.hdr.HasLayoutPage() {
		return Entry{}, false, nil
	}
	e, err := a.EntryAt(a.hdr.LayoutPage)
	if err != nil {
		return Entry{}, false, fmt.Errorf("layout page: %w", err)
	}
	return e, true, nil
}

// Blob returns the bytes of blob blobNumber in cluster clusterNumber.
//
// When caching is enabled, concurrent calls for the same blob are
// deduplicated using singleflight, and the returned slice is a copy the
// caller may modify.
func (a *Archive) Blob(clusterNumber, blobNumber uint32) ([]byte, error) {
	if a.cache == nil {
		return a.blobs.Blob(clusterNumber, blobNumber)
	}

	key := cache.Key(a.sourceID, clusterNumber, blobNumber)
	if data, ok := a.cache.Get(key); ok {
		a.log().Debug("blob cache hit", "cluster", clusterNumber, "blob", blobNumber)
		return slices.Clone(data), nil
	}
	a.log().Debug("blob cache miss", "cluster", clusterNumber, "blob", blobNumber)

	result, err, _ := a.fillGroup.Do(key.String(), func() (any, error) {
		// Double-check cache
		if data, ok := a.cache.Get(key); ok {
			return data, nil
		}
		data, err := a.blobs.Blob(clusterNumber, blobNumber)
		if err != nil {
			return nil, err
		}
		if err := a.cache.Put(key, data); err != nil {
			a.log().Warn("blob cache put failed", "cluster", clusterNumber, "blob", blobNumber, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(result.([]byte)), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// ClusterBlobs yields every blob of a cluster in blob order, decoding the
// cluster once. It reads around the blob cache, which suits bulk reads such
// as extraction where each blob is wanted exactly once.
func (a *Archive) ClusterBlobs(clusterNumber uint32) iter.Seq2[[]byte, error] {
	return a.blobs.Blobs(clusterNumber)
}

// BlobText returns a blob decoded as UTF-8. Invalid sequences are replaced
// with U+FFFD.
func (a *Archive) BlobText(clusterNumber, blobNumber uint32) (string, error) {
	data, err := a.Blob(clusterNumber, blobNumber)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// BlobCount returns the number of blobs in a cluster.
func (a *Archive) BlobCount(clusterNumber uint32) (uint64, error) {
	return a.blobs.BlobCount(clusterNumber)
}

// ClusterInfo reports how a cluster is stored.
func (a *Archive) ClusterInfo(clusterNumber uint32) (compression Compression, extended bool, err error) {
	return a.blobs.Info(clusterNumber)
}
