package zimtype

import "fmt"

// RedirectMIMEType is the mimeType sentinel that marks a redirect entry.
const RedirectMIMEType = 0xFFFF

// Kind discriminates the directory entry variants.
type Kind uint8

const (
	KindArticle Kind = iota + 1
	KindRedirect
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindArticle:
		return "article"
	case KindRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is a decoded directory entry.
//
// Entry is a closed variant: Kind selects which of the variant fields are
// meaningful. Use Location and Redirect rather than reading the variant
// fields directly.
type Entry struct {
	Kind Kind

	// MIMEType indexes the archive's MIME table, or is RedirectMIMEType.
	MIMEType uint16

	// Namespace is the single-character namespace, e.g. 'A' for articles.
	Namespace byte

	Revision uint32

	URL string

	// Title equals URL when the stored title is empty.
	Title string

	// URLIndex is the entry's position in the URL-pointer table.
	URLIndex uint32

	// Offset is the archive offset of the directory entry record.
	Offset int64

	clusterNumber uint32
	blobNumber    uint32
	redirectIndex uint32
}

// NewArticle builds an article entry.
func NewArticle(common Entry, clusterNumber, blobNumber uint32) Entry {
	common.Kind = KindArticle
	common.clusterNumber = clusterNumber
	common.blobNumber = blobNumber
	common.redirectIndex = 0
	return common
}

// NewRedirect builds a redirect entry.
func NewRedirect(common Entry, redirectIndex uint32) Entry {
	common.Kind = KindRedirect
	common.MIMEType = RedirectMIMEType
	common.redirectIndex = redirectIndex
	common.clusterNumber = 0
	common.blobNumber = 0
	return common
}

// IsRedirect reports whether the entry is a redirect.
func (e Entry) IsRedirect() bool {
	return e.Kind == KindRedirect
}

// Location returns the cluster and blob numbers of an article entry.
// ok is false for redirects.
func (e Entry) Location() (clusterNumber, blobNumber uint32, ok bool) {
	if e.Kind != KindArticle {
		return 0, 0, false
	}
	return e.clusterNumber, e.blobNumber, true
}

// Redirect returns the URL-table index of a redirect's target.
// ok is false for articles.
func (e Entry) Redirect() (redirectIndex uint32, ok bool) {
	if e.Kind != KindRedirect {
		return 0, false
	}
	return e.redirectIndex, true
}

// Path returns the namespaced path "N/url" used by the fs.FS view.
func (e Entry) Path() string {
	return string(e.Namespace) + "/" + e.URL
}

// EntryRef locates a directory entry found by a lookup.
type EntryRef struct {
	// Index is the slot in the URL-pointer table.
	Index uint32

	// PointerPos is the archive offset of the URL-pointer table slot.
	PointerPos int64

	// Offset is the archive offset of the directory entry.
	Offset int64
}
