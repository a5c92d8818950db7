// Package index navigates the URL-pointer and title-pointer tables.
package index

import (
	"fmt"
	"io"
	"iter"

	"github.com/meigma/zim/internal/dirent"
	"github.com/meigma/zim/internal/header"
	"github.com/meigma/zim/internal/sizing"
	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/zimtype"
)

const (
	urlPtrWidth   = 8
	titlePtrWidth = 4
)

// Navigator provides ordered access to directory entries.
//
// Lookups are O(log n) binary searches. They rely on the URL-pointer table
// being sorted by (namespace, url) and the title-pointer table by
// (namespace, title); the archive format guarantees both orders and the
// navigator does not verify them. On an unsorted archive a lookup may
// report not found for an entry that exists.
//
// Every method opens its own cursor, so a Navigator may be shared between
// goroutines when the source's ReadAt is safe for concurrent use.
type Navigator struct {
	src        io.ReaderAt
	size       int64
	hdr        header.Header
	streamOpts []stream.Option
}

// New creates a Navigator over the tables described by h.
func New(src io.ReaderAt, size int64, h header.Header, opts ...stream.Option) *Navigator {
	return &Navigator{src: src, size: size, hdr: h, streamOpts: opts}
}

// Len returns the number of directory entries.
func (n *Navigator) Len() int {
	return int(n.hdr.ArticleCount)
}

func (n *Navigator) newStream() *stream.Stream {
	return stream.New(n.src, n.size, n.streamOpts...)
}

// Pointer returns the directory entry offset stored in URL-table slot i.
func (n *Navigator) Pointer(i uint32) (int64, error) {
	return n.pointerAt(n.newStream(), i)
}

func (n *Navigator) pointerAt(s *stream.Stream, i uint32) (int64, error) {
	if i >= n.hdr.ArticleCount {
		return 0, fmt.Errorf("%w: url index %d of %d entries", zimtype.ErrFormat, i, n.hdr.ArticleCount)
	}
	pos, err := sizing.Slot(n.hdr.URLPtrPos, urlPtrWidth, uint64(i), zimtype.ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	if err := s.Seek(pos); err != nil {
		return 0, err
	}
	return n.readPointer(s)
}

func (n *Navigator) readPointer(s *stream.Stream) (int64, error) {
	ptr, err := s.ReadUint64()
	if err != nil {
		return 0, fmt.Errorf("read url pointer: %w", err)
	}
	return sizing.ToInt64(ptr, zimtype.ErrSizeOverflow)
}

// articleAt returns the article number stored in title-table slot i.
func (n *Navigator) articleAt(s *stream.Stream, i uint32) (uint32, error) {
	pos, err := sizing.Slot(n.hdr.TitlePtrPos, titlePtrWidth, uint64(i), zimtype.ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	if err := s.Seek(pos); err != nil {
		return 0, err
	}
	return n.readArticleNumber(s)
}

func (n *Navigator) readArticleNumber(s *stream.Stream) (uint32, error) {
	an, err := s.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("read title pointer: %w", err)
	}
	if an >= n.hdr.ArticleCount {
		return 0, fmt.Errorf("%w: title table names article %d of %d", zimtype.ErrFormat, an, n.hdr.ArticleCount)
	}
	return an, nil
}

// Refs yields a reference to every entry in URL-table order. The pointer
// table is read sequentially through one cursor.
func (n *Navigator) Refs() iter.Seq2[zimtype.EntryRef, error] {
	return func(yield func(zimtype.EntryRef, error) bool) {
		s := n.newStream()
		start, err := sizing.ToInt64(n.hdr.URLPtrPos, zimtype.ErrSizeOverflow)
		if err == nil {
			err = s.Seek(start)
		}
		if err != nil {
			yield(zimtype.EntryRef{}, err)
			return
		}
		for i := range n.hdr.ArticleCount {
			pos := s.Offset()
			ptr, err := n.readPointer(s)
			if err != nil {
				yield(zimtype.EntryRef{}, err)
				return
			}
			if !yield(zimtype.EntryRef{Index: i, PointerPos: pos, Offset: ptr}, nil) {
				return
			}
		}
	}
}

// URLsByURL yields every URL in URL-table order. The sequence is finite and
// may be ranged over more than once. Iteration stops after the first error.
func (n *Navigator) URLsByURL() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s := n.newStream()
		start, err := sizing.ToInt64(n.hdr.URLPtrPos, zimtype.ErrSizeOverflow)
		if err == nil {
			err = s.Seek(start)
		}
		if err != nil {
			yield("", err)
			return
		}
		for range n.hdr.ArticleCount {
			ptr, err := n.readPointer(s)
			if err != nil {
				yield("", err)
				return
			}
			mark := s.Mark()
			url, err := dirent.PeekURL(s, ptr)
			if err == nil {
				err = s.Restore(mark)
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(url, nil) {
				return
			}
		}
	}
}

// URLsByTitle yields every URL in title-table order. Title slots hold
// article numbers that are resolved through the URL-pointer table.
func (n *Navigator) URLsByTitle() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s := n.newStream()
		start, err := sizing.ToInt64(n.hdr.TitlePtrPos, zimtype.ErrSizeOverflow)
		if err == nil {
			err = s.Seek(start)
		}
		if err != nil {
			yield("", err)
			return
		}
		for range n.hdr.ArticleCount {
			an, err := n.readArticleNumber(s)
			if err != nil {
				yield("", err)
				return
			}
			mark := s.Mark()
			url, err := n.urlOf(s, an)
			if err == nil {
				err = s.Restore(mark)
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(url, nil) {
				return
			}
		}
	}
}

func (n *Navigator) urlOf(s *stream.Stream, an uint32) (string, error) {
	ptr, err := n.pointerAt(s, an)
	if err != nil {
		return "", err
	}
	return dirent.PeekURL(s, ptr)
}

// ListURLsByURL collects URLsByURL.
func (n *Navigator) ListURLsByURL() ([]string, error) {
	return collect(n.URLsByURL(), n.Len())
}

// ListURLsByTitle collects URLsByTitle.
func (n *Navigator) ListURLsByTitle() ([]string, error) {
	return collect(n.URLsByTitle(), n.Len())
}

func collect(seq iter.Seq2[string, error], hint int) ([]string, error) {
	out := make([]string, 0, hint)
	for url, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, nil
}

// FindEntryOffset locates name in the URL-pointer table.
//
// A name of the form "N/url" is searched under namespace N first. Any name
// not found that way is searched as a bare URL in every namespace, in
// namespace order. ok is false when no entry matches; err is only set for
// read failures.
func (n *Navigator) FindEntryOffset(name string) (ref zimtype.EntryRef, ok bool, err error) {
	s := n.newStream()
	if len(name) >= 2 && name[1] == '/' {
		ref, ok, err = n.findKey(s, 0, n.hdr.ArticleCount, dirent.Key{Namespace: name[0], Name: name[2:]})
		if err != nil || ok {
			return ref, ok, err
		}
	}
	return n.findBare(s, name)
}

// Find locates the entry with the given namespace and URL.
func (n *Navigator) Find(namespace byte, url string) (zimtype.EntryRef, bool, error) {
	return n.findKey(n.newStream(), 0, n.hdr.ArticleCount, dirent.Key{Namespace: namespace, Name: url})
}

func (n *Navigator) urlKeyAt(s *stream.Stream, i uint32) (dirent.Key, int64, error) {
	ptr, err := n.pointerAt(s, i)
	if err != nil {
		return dirent.Key{}, 0, err
	}
	k, err := dirent.PeekKey(s, ptr)
	return k, ptr, err
}

// findKey binary-searches [lo, hi) of the URL table for target.
func (n *Navigator) findKey(s *stream.Stream, lo, hi uint32, target dirent.Key) (zimtype.EntryRef, bool, error) {
	i, err := search(lo, hi, func(i uint32) (bool, error) {
		k, _, err := n.urlKeyAt(s, i)
		if err != nil {
			return false, err
		}
		return k.Compare(target) >= 0, nil
	})
	if err != nil || i >= hi {
		return zimtype.EntryRef{}, false, err
	}
	k, ptr, err := n.urlKeyAt(s, i)
	if err != nil || k != target {
		return zimtype.EntryRef{}, false, err
	}
	return n.ref(i, ptr)
}

// findBare searches url within each namespace run of the URL table. Runs
// are contiguous because the table is sorted by namespace first.
func (n *Navigator) findBare(s *stream.Stream, url string) (zimtype.EntryRef, bool, error) {
	count := n.hdr.ArticleCount
	for start := uint32(0); start < count; {
		ptr, err := n.pointerAt(s, start)
		if err != nil {
			return zimtype.EntryRef{}, false, err
		}
		ns, err := dirent.PeekNamespace(s, ptr)
		if err != nil {
			return zimtype.EntryRef{}, false, err
		}
		end, err := search(start, count, func(i uint32) (bool, error) {
			p, err := n.pointerAt(s, i)
			if err != nil {
				return false, err
			}
			other, err := dirent.PeekNamespace(s, p)
			return other > ns, err
		})
		if err != nil {
			return zimtype.EntryRef{}, false, err
		}
		ref, ok, err := n.findKey(s, start, end, dirent.Key{Namespace: ns, Name: url})
		if err != nil || ok {
			return ref, ok, err
		}
		start = end
	}
	return zimtype.EntryRef{}, false, nil
}

// FindByTitle locates the entry with the given namespace and title via the
// title-pointer table. Titles default to the URL when not stored.
func (n *Navigator) FindByTitle(namespace byte, title string) (zimtype.EntryRef, bool, error) {
	s := n.newStream()
	target := dirent.Key{Namespace: namespace, Name: title}
	keyAt := func(i uint32) (dirent.Key, uint32, int64, error) {
		an, err := n.articleAt(s, i)
		if err != nil {
			return dirent.Key{}, 0, 0, err
		}
		ptr, err := n.pointerAt(s, an)
		if err != nil {
			return dirent.Key{}, 0, 0, err
		}
		k, err := dirent.PeekTitleKey(s, ptr)
		return k, an, ptr, err
	}
	count := n.hdr.ArticleCount
	i, err := search(0, count, func(i uint32) (bool, error) {
		k, _, _, err := keyAt(i)
		if err != nil {
			return false, err
		}
		return k.Compare(target) >= 0, nil
	})
	if err != nil || i >= count {
		return zimtype.EntryRef{}, false, err
	}
	k, an, ptr, err := keyAt(i)
	if err != nil || k != target {
		return zimtype.EntryRef{}, false, err
	}
	return n.ref(an, ptr)
}

func (n *Navigator) ref(i uint32, ptr int64) (zimtype.EntryRef, bool, error) {
	pos, err := sizing.Slot(n.hdr.URLPtrPos, urlPtrWidth, uint64(i), zimtype.ErrSizeOverflow)
	if err != nil {
		return zimtype.EntryRef{}, false, err
	}
	return zimtype.EntryRef{Index: i, PointerPos: pos, Offset: ptr}, true, nil
}

// search returns the smallest i in [lo, hi) for which pred is true, or hi.
// pred must be false then true across the range.
func search(lo, hi uint32, pred func(uint32) (bool, error)) (uint32, error) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, err := pred(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}
