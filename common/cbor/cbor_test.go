package cbor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/common/cbor"
)

type sample struct {
	Name  string
	Count int
	Tags  []string
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := sample{Name: "hash-entry", Count: 3, Tags: []string{"a", "b"}}

	data := cbor.Marshal(in)
	require.NotEmpty(t, data)

	var out sample
	require.NoError(t, cbor.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestMarshalIsCanonicalAndDeterministic(t *testing.T) {
	in := sample{Name: "x", Count: 1}
	a := cbor.Marshal(in)
	b := cbor.Marshal(in)
	require.Equal(t, a, b)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var out sample
	err := cbor.Unmarshal([]byte{0xff, 0xff, 0xff}, &out)
	require.Error(t, err)
}
