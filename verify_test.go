package zim

import (
	"bytes"
	"crypto/md5" //nolint:gosec // the archive format mandates MD5
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zim/internal/testutil"
)

func TestVerify(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, sampleBuilder())
	a, _ := openFixture(t, f)
	require.NoError(t, a.Verify())

	sum, err := a.Checksum()
	require.NoError(t, err)
	want := md5.Sum(f.Data[:f.ChecksumPos]) //nolint:gosec // the archive format mandates MD5
	assert.Equal(t, want[:], sum)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, sampleBuilder())
	data := bytes.Clone(f.Data)
	// Flip a byte in the last cluster, which the header does not describe.
	data[f.ChecksumPos-1] ^= 0x01

	a, err := New(testutil.NewMockByteSource(data))
	require.NoError(t, err)
	require.ErrorIs(t, a.Verify(), ErrChecksumMismatch)
}

func TestVerifyWithoutChecksum(t *testing.T) {
	t.Parallel()

	f := testutil.Build(t, sampleBuilder())
	// Drop the trailing digest.
	a, err := New(testutil.NewMockByteSource(f.Data[:f.ChecksumPos]))
	require.NoError(t, err)
	require.ErrorIs(t, a.Verify(), ErrFormat)
}
