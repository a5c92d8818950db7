package zimtype

import "fmt"

// Compression identifies how a cluster body is stored.
// Values are the low nibble of the cluster info byte.
type Compression uint8

const (
	// CompressionDefault marks an uncompressed cluster in early archives.
	CompressionDefault Compression = 0
	CompressionNone    Compression = 1
	CompressionZlib    Compression = 2
	CompressionBzip2   Compression = 3
	CompressionXZ      Compression = 4
	CompressionZstd    Compression = 5
)

// ExtendedClusterFlag marks clusters whose offset table uses 8-byte offsets.
const ExtendedClusterFlag = 0x10

// String returns the human-readable name of the compression kind.
func (c Compression) String() string {
	switch c {
	case CompressionDefault, CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionBzip2:
		return "bzip2"
	case CompressionXZ:
		return "xz"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Stored reports whether the cluster body is stored without compression.
func (c Compression) Stored() bool {
	return c == CompressionDefault || c == CompressionNone
}

// ParseClusterInfo splits a cluster info byte into its compression kind and
// extended-offset flag.
func ParseClusterInfo(b byte) (Compression, bool) {
	return Compression(b & 0x0F), b&ExtendedClusterFlag != 0
}
