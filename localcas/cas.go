// Package localcas specifies the contract the distributed content
// session consumes from the machine-local content-addressable store
// (spec.md §6). The CAS's on-disk layout, hashing, deduplication, and
// eviction policy are out of scope for this module (spec.md §1); this
// package only names the shape the session needs, plus a reference
// bbolt-backed implementation under localcas/fake for tests and the
// demo CLI.
package localcas

import (
	"context"
	"io"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// RealizationMode controls how bytes land on disk for a put or place.
type RealizationMode int

const (
	RealizationCopy RealizationMode = iota
	RealizationHardlink
	RealizationMove
)

// AccessMode controls the permissions place_file grants on the
// materialized path.
type AccessMode int

const (
	AccessReadOnly AccessMode = iota
	AccessWrite
)

// ReplacementMode controls whether place_file may overwrite an
// existing path.
type ReplacementMode int

const (
	ReplacementFailIfExists ReplacementMode = iota
	ReplacementOverwrite
)

// Capabilities reports which optional behaviors a Backend supports, so
// the session can make an explicit capability query instead of a
// dynamic type check (spec.md §9 Design Notes).
type Capabilities struct {
	// TrustedPut reports whether the backend can accept a caller's
	// asserted hash/size without re-hashing (spec.md §4.3).
	TrustedPut bool
	// Hibernation reports whether the backend implements Hibernating.
	Hibernation bool
}

// PutSpec describes what to persist: either an explicit, trusted hash,
// or a HashType the backend should hash content under (spec.md §4.4).
type PutSpec struct {
	// Hash is non-nil when the caller asserts the content hash; nil
	// means "compute it using Type".
	Hash *contenthash.Hash
	Type contenthash.HashType
}

// PutResult is the CAS's answer to a put.
type PutResult struct {
	Hash              contenthash.Hash
	Size              int64
	AlreadyContained  bool
	ContentMismatched bool
}

// PlaceSource labels where place_file's bytes ultimately came from, for
// the session to attach to its own PlaceResult (spec.md §4.3).
type PlaceSource string

const (
	PlaceSourceLocal           PlaceSource = "local"
	PlaceSourceDatacenterCache PlaceSource = "datacenter_cache"
	PlaceSourceColdStorage     PlaceSource = "cold_storage"
)

// PlaceOutcome is the CAS's answer to place_file.
type PlaceOutcome struct {
	Placed bool
	Source PlaceSource
	// Moved reports whether realization was a move rather than a copy
	// or hardlink (affects the session's diagnostic, not its decision).
	Moved bool
}

// PinOutcome is the CAS's answer to pin: whether the blob is already
// present locally.
type PinOutcome struct {
	Hit bool
}

// StreamResult is the CAS's answer to open_stream.
type StreamResult struct {
	Stream io.ReadCloser
	// Evicted reports that the blob was pinned a moment ago but has
	// since been evicted; the proactive-copy push routine treats this
	// as SkipContentUnavailable (spec.md §4.5) rather than an error.
	Evicted bool
}

// Backend is the local CAS adapter contract (spec.md §6).
type Backend interface {
	Capabilities() Capabilities

	// WorkingDirectory returns a scratch directory hint for staging
	// copies before a trusted/untrusted put, if the backend has one.
	WorkingDirectory() (string, bool)

	PutFile(ctx context.Context, path string, spec PutSpec, realization RealizationMode, u urgency.Urgency) (PutResult, error)
	PutStream(ctx context.Context, r io.Reader, spec PutSpec, u urgency.Urgency) (PutResult, error)
	PlaceFile(ctx context.Context, hash contenthash.Hash, path string, access AccessMode, replacement ReplacementMode, realization RealizationMode, u urgency.Urgency) (PlaceOutcome, error)
	Pin(ctx context.Context, hash contenthash.Hash, u urgency.Urgency) (PinOutcome, error)
	OpenStream(ctx context.Context, hash contenthash.Hash) (StreamResult, error)
}

// Hibernating is implemented by a Backend whose Capabilities().Hibernation
// is true; the session type-asserts for it only after checking that
// flag (spec.md §6 enumerate_pinned_content_hashes / shutdown_eviction).
type Hibernating interface {
	EnumeratePinnedContentHashes(ctx context.Context) ([]contenthash.Hash, error)
	ShutdownEviction(ctx context.Context) error
}
