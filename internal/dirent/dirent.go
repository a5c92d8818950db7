// Package dirent decodes directory entry records.
//
// Record layout, little-endian:
//
//	mimeType(2) paramLen(1) namespace(1) revision(4)
//	redirect: redirectIndex(4)
//	article:  clusterNumber(4) blobNumber(4)
//	url\0 title\0 params[paramLen]
package dirent

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/zimtype"
)

// Offsets of the URL field from the start of a record.
const (
	redirectURLOffset = 12
	articleURLOffset  = 16
	namespaceOffset   = 3
)

// Decode parses the directory entry at offset. urlIndex is recorded on the
// entry as its position in the URL-pointer table.
func Decode(s *stream.Stream, offset int64, urlIndex uint32) (zimtype.Entry, error) {
	e, err := decode(s, offset, urlIndex)
	if err != nil {
		return zimtype.Entry{}, fmt.Errorf("decode entry %d at %d: %w", urlIndex, offset, err)
	}
	return e, nil
}

func decode(s *stream.Stream, offset int64, urlIndex uint32) (zimtype.Entry, error) {
	if err := s.Seek(offset); err != nil {
		return zimtype.Entry{}, err
	}
	mimeType, err := s.ReadUint16()
	if err != nil {
		return zimtype.Entry{}, err
	}
	// paramLen: parameter bytes trail the title and are not read.
	if _, err := s.ReadUint8(); err != nil {
		return zimtype.Entry{}, err
	}
	namespace, err := s.ReadUint8()
	if err != nil {
		return zimtype.Entry{}, err
	}
	revision, err := s.ReadUint32()
	if err != nil {
		return zimtype.Entry{}, err
	}
	common := zimtype.Entry{
		MIMEType:  mimeType,
		Namespace: namespace,
		Revision:  revision,
		URLIndex:  urlIndex,
		Offset:    offset,
	}

	if mimeType == zimtype.RedirectMIMEType {
		redirectIndex, err := s.ReadUint32()
		if err != nil {
			return zimtype.Entry{}, err
		}
		if err := readNames(s, &common); err != nil {
			return zimtype.Entry{}, err
		}
		return zimtype.NewRedirect(common, redirectIndex), nil
	}

	clusterNumber, err := s.ReadUint32()
	if err != nil {
		return zimtype.Entry{}, err
	}
	blobNumber, err := s.ReadUint32()
	if err != nil {
		return zimtype.Entry{}, err
	}
	if err := readNames(s, &common); err != nil {
		return zimtype.Entry{}, err
	}
	return zimtype.NewArticle(common, clusterNumber, blobNumber), nil
}

func readNames(s *stream.Stream, e *zimtype.Entry) error {
	url, err := s.ReadCString()
	if err != nil {
		return err
	}
	title, err := s.ReadCString()
	if err != nil {
		return err
	}
	if title == "" {
		title = url
	}
	e.URL = url
	e.Title = title
	return nil
}

// Key is the sort key of a directory entry: namespace, then URL or title.
type Key struct {
	Namespace byte
	Name      string
}

// Compare orders keys by namespace byte, then by name bytes.
func (k Key) Compare(o Key) int {
	return cmp.Or(cmp.Compare(k.Namespace, o.Namespace), strings.Compare(k.Name, o.Name))
}

// PeekURL reads only the URL of the record at offset. The mimeType decides
// whether the URL starts 12 (redirect) or 16 (article) bytes in.
func PeekURL(s *stream.Stream, offset int64) (string, error) {
	k, err := PeekKey(s, offset)
	return k.Name, err
}

// PeekKey reads the namespace and URL of the record at offset.
func PeekKey(s *stream.Stream, offset int64) (Key, error) {
	return peek(s, offset, false)
}

// PeekTitleKey reads the namespace and title of the record at offset, with
// the title defaulting to the URL.
func PeekTitleKey(s *stream.Stream, offset int64) (Key, error) {
	return peek(s, offset, true)
}

// PeekNamespace reads only the namespace byte of the record at offset.
func PeekNamespace(s *stream.Stream, offset int64) (byte, error) {
	if err := s.Seek(offset + namespaceOffset); err != nil {
		return 0, err
	}
	ns, err := s.ReadUint8()
	if err != nil {
		return 0, fmt.Errorf("peek namespace at %d: %w", offset, err)
	}
	return ns, nil
}

func peek(s *stream.Stream, offset int64, wantTitle bool) (Key, error) {
	if err := s.Seek(offset); err != nil {
		return Key{}, err
	}
	mimeType, err := s.ReadUint16()
	if err != nil {
		return Key{}, fmt.Errorf("peek entry at %d: %w", offset, err)
	}
	if err := s.Skip(1); err != nil {
		return Key{}, fmt.Errorf("peek entry at %d: %w", offset, err)
	}
	namespace, err := s.ReadUint8()
	if err != nil {
		return Key{}, fmt.Errorf("peek entry at %d: %w", offset, err)
	}
	urlOffset := int64(articleURLOffset)
	if mimeType == zimtype.RedirectMIMEType {
		urlOffset = redirectURLOffset
	}
	if err := s.Seek(offset + urlOffset); err != nil {
		return Key{}, fmt.Errorf("peek entry at %d: %w", offset, err)
	}
	url, err := s.ReadCString()
	if err != nil {
		return Key{}, fmt.Errorf("peek entry at %d: %w", offset, err)
	}
	if !wantTitle {
		return Key{Namespace: namespace, Name: url}, nil
	}
	title, err := s.ReadCString()
	if err != nil {
		return Key{}, fmt.Errorf("peek entry at %d: %w", offset, err)
	}
	if title == "" {
		title = url
	}
	return Key{Namespace: namespace, Name: title}, nil
}
