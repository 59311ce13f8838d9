// Package contenthash defines the opaque content-addressing identifiers
// the distributed content session operates on: ContentHash, its
// directory-key prefix ShortHash, and the (hash, size) pair the session
// threads through lookups, pins, places, and puts.
//
// Hashing itself is explicitly out of scope for this module (spec.md §1
// Non-goals): HashType only tags which algorithm produced a digest so
// equality/ordering stay well defined across algorithms: this package
// never computes a digest from bytes.
package contenthash

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// HashType tags which hashing algorithm produced a Hash's digest. The
// session never hashes content itself; it only carries this tag through
// from whoever did (the local CAS, a copier, or a test fixture).
type HashType byte

const (
	HashTypeUnknown HashType = iota
	HashTypeSHA256
	HashTypeBlake3
	HashTypeVSO0
	// HashTypeSynthetic tags a digest the session itself derived rather
	// than one produced by a content hashing algorithm — currently only
	// the build-ring membership blob (session/ring.go), which is keyed
	// by MD5(build id) purely so it round-trips through the same local
	// CAS and directory plumbing as real content.
	HashTypeSynthetic
)

func (t HashType) String() string {
	switch t {
	case HashTypeSHA256:
		return "SHA256"
	case HashTypeBlake3:
		return "Blake3"
	case HashTypeVSO0:
		return "VSO0"
	case HashTypeSynthetic:
		return "Synthetic"
	default:
		return "Unknown"
	}
}

// Size is the digest width in bytes. All HashTypes this module carries
// share one width; a real deployment with mixed-width algorithms would
// need a per-type width table, but that is a local-CAS concern.
const Size = 32

// ShortSize is the width of a ShortHash, the directory-key prefix of a
// Hash.
const ShortSize = 8

// Hash is a content-addressing identifier: an algorithm tag plus a
// fixed-size digest. Equality and ordering are exact bitwise on the
// digest, per spec.md §3.
type Hash struct {
	Type  HashType
	Bytes [Size]byte
}

// FromBytes builds a Hash from a raw digest, trusting the caller that
// digest was produced by typ. It does not hash d itself.
func FromBytes(typ HashType, d []byte) Hash {
	var h Hash
	h.Type = typ
	copy(h.Bytes[:], d)
	return h
}

// Equal reports exact bitwise equality, including HashType: two digests
// that happen to collide under different algorithms are not equal.
func (h Hash) Equal(other Hash) bool {
	return h.Type == other.Type && h.Bytes == other.Bytes
}

// Compare gives the exact bitwise ordering spec.md §3 requires (ordered
// first by Type, then by digest bytes), used by contentfleet/session's
// in-flight set, which must order hashes without regard for why they
// are equal.
func (h Hash) Compare(other Hash) int {
	if h.Type != other.Type {
		if h.Type < other.Type {
			return -1
		}
		return 1
	}
	for i := range h.Bytes {
		if h.Bytes[i] != other.Bytes[i] {
			if h.Bytes[i] < other.Bytes[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// String renders the digest as lowercase hex, prefixed by the algorithm
// tag, e.g. "SHA256:3a7bd3e2360a...".
func (h Hash) String() string {
	return fmt.Sprintf("%s:%s", h.Type, hex.EncodeToString(h.Bytes[:]))
}

// DisplayString renders the digest as base58, a more compact form used
// only for human-facing output (CLI tables, log lines) — never for
// equality or wire purposes.
func (h Hash) DisplayString() string {
	return base58.Encode(h.Bytes[:])
}

// Short returns the ShortHash directory-key prefix of h. The conversion
// is lossy (only the leading ShortSize bytes survive) but total: every
// Hash has exactly one Short().
func (h Hash) Short() ShortHash {
	var s ShortHash
	copy(s[:], h.Bytes[:ShortSize])
	return s
}

// ShortHash is a lossy, total prefix of a Hash used as a directory key.
type ShortHash [ShortSize]byte

func (s ShortHash) String() string {
	return hex.EncodeToString(s[:])
}

// emptyContentBytes is the well-known SHA-256 digest of the empty byte
// string. EmptyContent is never pushed, never registered (spec.md §3):
// every engine short-circuits on it before touching the directory,
// copier, or local CAS.
var emptyContentBytes = [Size]byte{
	0xe3, 0xb0, 0xc4, 0x42, 0x98, 0xfc, 0x1c, 0x14,
	0x9a, 0xfb, 0xf4, 0xc8, 0x99, 0x6f, 0xb9, 0x24,
	0x27, 0xae, 0x41, 0xe4, 0x64, 0x9b, 0x93, 0x4c,
	0xa4, 0x95, 0x99, 0x1b, 0x78, 0x52, 0xb8, 0x55,
}

// EmptyContent is the distinguished hash of the empty blob.
var EmptyContent = Hash{Type: HashTypeSHA256, Bytes: emptyContentBytes}

// AbsentFile is the distinguished hash standing in for "no file here";
// it is a policy-violation input for pin/place/put (spec.md §7
// PolicyViolation) and is never pushed or registered, like EmptyContent.
var AbsentFile = Hash{Type: HashTypeVSO0, Bytes: [Size]byte{}}

// IsEmptyContent reports whether h is the distinguished empty-content
// hash.
func (h Hash) IsEmptyContent() bool {
	return h.Equal(EmptyContent)
}

// IsAbsentFile reports whether h is the distinguished absent-file hash.
func (h Hash) IsAbsentFile() bool {
	return h.Equal(AbsentFile)
}

// SizeUnknown is the sentinel WithSize.Bytes value for "caller does not
// know the length".
const SizeUnknown int64 = -1

// WithSize pairs a Hash with a byte length, using SizeUnknown when the
// caller does not have it (spec.md §3 ContentHashWithSize).
type WithSize struct {
	Hash  Hash
	Bytes int64
}

// KnownSize reports whether Bytes is a real length rather than
// SizeUnknown.
func (w WithSize) KnownSize() bool {
	return w.Bytes != SizeUnknown
}
