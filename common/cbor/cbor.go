// Package cbor wraps github.com/fxamacker/cbor/v2 in canonical mode,
// mirroring the teacher repository's own common/cbor helper
// (cbor.Marshal / cbor.Unmarshal) used to persist watcher-style state.
// This module uses it only to encode the entries held in the reference
// directory store (location/fake).
package cbor

import "github.com/fxamacker/cbor/v2"

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Marshal serializes v into its canonical CBOR encoding.
func Marshal(v interface{}) []byte {
	b, err := encMode.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal deserializes CBOR-encoded data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
