package contenthash_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
)

func TestHashEqual(t *testing.T) {
	a := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{1, 2, 3})
	b := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{1, 2, 3})
	c := contenthash.FromBytes(contenthash.HashTypeBlake3, []byte{1, 2, 3})

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c), "same digest under a different HashType must not be equal")
}

func TestHashCompareOrdersByTypeThenBytes(t *testing.T) {
	low := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{1})
	high := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{2})
	otherType := contenthash.FromBytes(contenthash.HashTypeBlake3, []byte{0})

	require.Equal(t, -1, low.Compare(high))
	require.Equal(t, 1, high.Compare(low))
	require.Equal(t, 0, low.Compare(low))
	require.Equal(t, -1, low.Compare(otherType), "SHA256 sorts before Blake3 by HashType")
}

func TestHashShortIsLossyPrefix(t *testing.T) {
	digest := make([]byte, contenthash.Size)
	for i := range digest {
		digest[i] = byte(i)
	}
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, digest)
	short := h.Short()
	require.Equal(t, digest[:contenthash.ShortSize], short[:])
}

func TestEmptyContentAndAbsentFileAreDistinguished(t *testing.T) {
	require.True(t, contenthash.EmptyContent.IsEmptyContent())
	require.False(t, contenthash.EmptyContent.IsAbsentFile())
	require.True(t, contenthash.AbsentFile.IsAbsentFile())
	require.False(t, contenthash.AbsentFile.IsEmptyContent())
	require.False(t, contenthash.EmptyContent.Equal(contenthash.AbsentFile))
}

func TestWithSizeKnownSize(t *testing.T) {
	unknown := contenthash.WithSize{Hash: contenthash.EmptyContent, Bytes: contenthash.SizeUnknown}
	known := contenthash.WithSize{Hash: contenthash.EmptyContent, Bytes: 0}

	require.False(t, unknown.KnownSize())
	require.True(t, known.KnownSize())
}

func TestHashStringIncludesTypeTag(t *testing.T) {
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, make([]byte, contenthash.Size))
	require.Contains(t, h.String(), "SHA256:")
}
