// Package header parses the fixed archive header and the MIME-type table.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/meigma/zim/internal/sizing"
	"github.com/meigma/zim/internal/stream"
	"github.com/meigma/zim/internal/zimtype"
)

const (
	// Magic identifies an archive.
	Magic = 72173914

	// Size is the length of the fixed header in bytes.
	Size = 80

	// NoPage marks an absent main or layout page.
	NoPage = 0xFFFFFFFF

	// ChecksumSize is the length of the MD5 digest stored at ChecksumPos.
	ChecksumSize = 16

	maxMIMETypes = 1 << 16
)

// Header is the decoded archive header.
// All positions are byte offsets into the archive.
type Header struct {
	MagicNumber   uint32
	MajorVersion  uint16
	MinorVersion  uint16
	UUID          uuid.UUID
	ArticleCount  uint32
	ClusterCount  uint32
	URLPtrPos     uint64
	TitlePtrPos   uint64
	ClusterPtrPos uint64
	MIMEListPos   uint64
	MainPage      uint32
	LayoutPage    uint32
	ChecksumPos   uint64
}

// HasMainPage reports whether the archive names a main page.
func (h *Header) HasMainPage() bool {
	return h.MainPage != NoPage
}

// HasLayoutPage reports whether the archive names a layout page.
func (h *Header) HasLayoutPage() bool {
	return h.LayoutPage != NoPage
}

// rawHeader mirrors the on-disk layout for binary.Read.
type rawHeader struct {
	MagicNumber   uint32
	MajorVersion  uint16
	MinorVersion  uint16
	UUID          [16]byte
	ArticleCount  uint32
	ClusterCount  uint32
	URLPtrPos     uint64
	TitlePtrPos   uint64
	ClusterPtrPos uint64
	MIMEListPos   uint64
	MainPage      uint32
	LayoutPage    uint32
	ChecksumPos   uint64
}

// Read decodes the header at offset 0 and checks that every table it points
// to lies inside the archive.
func Read(s *stream.Stream) (Header, error) {
	if err := s.Seek(0); err != nil {
		return Header{}, err
	}
	buf, err := s.ReadBytes(Size)
	if err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	var raw rawHeader
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return Header{}, fmt.Errorf("%w: decode header: %w", zimtype.ErrFormat, err)
	}
	if raw.MagicNumber != Magic {
		return Header{}, fmt.Errorf("%w: bad magic number %#x", zimtype.ErrFormat, raw.MagicNumber)
	}
	h := Header{
		MagicNumber:   raw.MagicNumber,
		MajorVersion:  raw.MajorVersion,
		MinorVersion:  raw.MinorVersion,
		UUID:          uuid.UUID(raw.UUID),
		ArticleCount:  raw.ArticleCount,
		ClusterCount:  raw.ClusterCount,
		URLPtrPos:     raw.URLPtrPos,
		TitlePtrPos:   raw.TitlePtrPos,
		ClusterPtrPos: raw.ClusterPtrPos,
		MIMEListPos:   raw.MIMEListPos,
		MainPage:      raw.MainPage,
		LayoutPage:    raw.LayoutPage,
		ChecksumPos:   raw.ChecksumPos,
	}
	if err := h.validate(s.Size()); err != nil {
		return Header{}, err
	}
	return h, nil
}

func (h *Header) validate(size int64) error {
	tables := []struct {
		name  string
		pos   uint64
		width uint64
		count uint64
	}{
		{"url pointer table", h.URLPtrPos, 8, uint64(h.ArticleCount)},
		{"title pointer table", h.TitlePtrPos, 4, uint64(h.ArticleCount)},
		{"cluster pointer table", h.ClusterPtrPos, 8, uint64(h.ClusterCount)},
		{"mime list", h.MIMEListPos, 1, 1},
	}
	for _, t := range tables {
		end, err := sizing.Slot(t.pos, t.width, t.count, zimtype.ErrSizeOverflow)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", zimtype.ErrFormat, t.name, err)
		}
		if t.pos < Size || end > size {
			return fmt.Errorf("%w: %s [%d, %d) outside archive of %d bytes", zimtype.ErrFormat, t.name, t.pos, end, size)
		}
	}
	if h.ChecksumPos > uint64(size) { //nolint:gosec // size is non-negative
		return fmt.Errorf("%w: checksum position %d beyond archive of %d bytes", zimtype.ErrFormat, h.ChecksumPos, size)
	}
	if h.HasMainPage() && h.MainPage >= h.ArticleCount {
		return fmt.Errorf("%w: main page %d of %d articles", zimtype.ErrFormat, h.MainPage, h.ArticleCount)
	}
	return nil
}

// ReadMIMETypes reads the NUL-terminated MIME strings at pos, stopping at
// the first empty string.
func ReadMIMETypes(s *stream.Stream, pos uint64) ([]string, error) {
	off, err := sizing.ToInt64(pos, zimtype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if err := s.Seek(off); err != nil {
		return nil, fmt.Errorf("read mime list: %w", err)
	}
	var types []string
	for {
		m, err := s.ReadCString()
		if err != nil {
			return nil, fmt.Errorf("read mime list: %w", err)
		}
		if m == "" {
			return types, nil
		}
		if len(types) == maxMIMETypes {
			return nil, fmt.Errorf("%w: more than %d mime types", zimtype.ErrFormat, maxMIMETypes)
		}
		types = append(types, m)
	}
}
