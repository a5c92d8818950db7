// Package zim reads ZIM archives: many named articles grouped into
// compressed clusters, addressable by URL or title.
//
// An [Archive] is opened over any [ByteSource] (a local file via [OpenFile],
// or an HTTP range source from the http subpackage). Lookups binary-search
// the archive's sorted pointer tables, and blob reads decode only the part
// of a cluster up to the requested blob.
//
// # Quick Start
//
//	a, err := zim.OpenFile("wikipedia.zim")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	content, entry, err := a.ReadArticle("A/Main_Page")
//
// Names are "N/url" where N is the single-character namespace. Bare URLs are
// also accepted and searched in every namespace.
//
// # Caching
//
// Decoded blobs can be cached across reads with [WithCache], using the
// implementations in cache/memory or cache/disk:
//
//	c, _ := memory.New(memory.WithMaxEntries(512))
//	a, err := zim.OpenFile("wikipedia.zim", zim.WithCache(c))
//
// # Concurrency
//
// Every operation uses its own read cursor, so an Archive may be shared
// between goroutines when the source's ReadAt is safe for concurrent use.
package zim
