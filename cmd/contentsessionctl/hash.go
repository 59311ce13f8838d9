package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
)

// parseHash parses a "type:hexdigest" string, the inverse of
// contenthash.Hash.String, for CLI arguments.
func parseHash(s string) (contenthash.Hash, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return contenthash.Hash{}, fmt.Errorf("hash %q: expected type:hexdigest", s)
	}
	var typ contenthash.HashType
	switch strings.ToLower(parts[0]) {
	case "sha256":
		typ = contenthash.HashTypeSHA256
	case "blake3":
		typ = contenthash.HashTypeBlake3
	case "vso0":
		typ = contenthash.HashTypeVSO0
	default:
		return contenthash.Hash{}, fmt.Errorf("hash %q: unknown type %q", s, parts[0])
	}
	digest, err := hex.DecodeString(parts[1])
	if err != nil {
		return contenthash.Hash{}, fmt.Errorf("hash %q: %w", s, err)
	}
	return contenthash.FromBytes(typ, digest), nil
}

func hashTypeFromFlag(s string) (contenthash.HashType, error) {
	switch strings.ToLower(s) {
	case "sha256":
		return contenthash.HashTypeSHA256, nil
	case "blake3":
		return contenthash.HashTypeBlake3, nil
	case "vso0":
		return contenthash.HashTypeVSO0, nil
	default:
		return 0, fmt.Errorf("unknown hash type %q", s)
	}
}
