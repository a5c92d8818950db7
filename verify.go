package zim

import (
	"bytes"
	"crypto/md5" //nolint:gosec // the archive format mandates MD5
	"fmt"
	"io"

	"github.com/meigma/zim/internal/header"
	"github.com/meigma/zim/internal/sizing"
)

// Checksum returns the MD5 digest stored at the end of the archive.
func (a *Archive) Checksum() ([]byte, error) {
	pos, err := a.checksumPos()
	if err != nil {
		return nil, err
	}
	s := a.newStream()
	if err := s.Seek(pos); err != nil {
		return nil, err
	}
	sum, err := s.ReadBytes(header.ChecksumSize)
	if err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	return sum, nil
}

// Verify hashes every byte before the stored checksum and compares the
// result with it. A mismatch fails with ErrChecksumMismatch.
func (a *Archive) Verify() error {
	pos, err := a.checksumPos()
	if err != nil {
		return err
	}
	want, err := a.Checksum()
	if err != nil {
		return err
	}
	h := md5.New() //nolint:gosec // the archive format mandates MD5
	if _, err := io.Copy(h, io.NewSectionReader(a.source, 0, pos)); err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}
	if got := h.Sum(nil); !bytes.Equal(got, want) {
		return fmt.Errorf("%w: stored %x, computed %x", ErrChecksumMismatch, want, got)
	}
	a.log().Debug("checksum verified", "md5", fmt.Sprintf("%x", want))
	return nil
}

func (a *Archive) checksumPos() (int64, error) {
	pos, err := sizing.ToInt64(a.hdr.ChecksumPos, ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	if pos == 0 || !sizing.InBounds(pos, header.ChecksumSize, a.size) {
		return 0, fmt.Errorf("%w: no checksum at %d in archive of %d bytes", ErrFormat, pos, a.size)
	}
	return pos, nil
}
