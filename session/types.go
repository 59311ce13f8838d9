// Package session implements the distributed content session: the
// client-facing object a build worker uses to pin, place, put, and
// proactively replicate content-addressed blobs (spec.md §§2-6).
package session

import (
	"time"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/location"
)

// PinResultKind is spec.md §3's Pin result kind.
type PinResultKind int

const (
	PinContentNotFound PinResultKind = iota
	PinEnoughReplicas
	PinSynchronousCopy
	PinAsynchronousCopy
	PinErrorFromTracker
)

func (k PinResultKind) String() string {
	switch k {
	case PinContentNotFound:
		return "content_not_found"
	case PinEnoughReplicas:
		return "enough_replicas"
	case PinSynchronousCopy:
		return "synchronous_copy"
	case PinAsynchronousCopy:
		return "asynchronous_copy"
	case PinErrorFromTracker:
		return "error_from_tracker"
	default:
		return "unknown"
	}
}

// PinResult is one hash's outcome from Pin/PinBulk.
type PinResult struct {
	Hash         contenthash.Hash
	Kind         PinResultKind
	ReplicaCount int
	// Note carries EnoughReplicas' human-readable note, or
	// ContentNotFound's reason (spec.md §3 and the literal scenarios in
	// spec.md §8, e.g. "Global succeeds" / "No remote records").
	Note string
	Err  error
	// CopiedLocally is spec.md §9's DistributedPinResult.CopyLocally
	// flag: true only for pins that synchronously copied a replica into
	// the local CAS during this call. Only these trigger post-pin
	// proactive copy (spec.md §4.2 step 4, §9 Open Question #3).
	CopiedLocally bool
}

// PlaceResultKind is place's per-hash outcome kind.
type PlaceResultKind int

const (
	PlaceSucceeded PlaceResultKind = iota
	PlaceNotFound
	PlaceFailed
)

func (k PlaceResultKind) String() string {
	switch k {
	case PlaceSucceeded:
		return "succeeded"
	case PlaceNotFound:
		return "not_found"
	case PlaceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlaceResult is one hash's outcome from Place/PlaceBulk.
type PlaceResult struct {
	Hash   contenthash.Hash
	Path   string
	Kind   PlaceResultKind
	Source localcas.PlaceSource
	Err    error
	// GateOccupancy and GateWait report the put/place gate's occupancy
	// at acquisition time and how long this call waited for a slot
	// (spec.md §4.3 step 4's telemetry requirement).
	GateOccupancy int64
	GateWait      time.Duration
}

// PutResult is Put/PutStream's outcome.
type PutResult struct {
	Hash       contenthash.Hash
	Size       int64
	Registered bool
	Err        error
}

// ProactiveCopySideStatus is one side (inside-ring or outside-ring) of a
// proactive copy attempt.
type ProactiveCopySideStatus int

const (
	SideNotAttempted ProactiveCopySideStatus = iota
	SideDisabled
	SideBuildIDNotSpecified
	SideInRingMachineListEmpty
	SideMachineNotFound
	SideMachineAlreadyHasCopy
	SideSucceeded
	SideSkipContentUnavailable
	SideFailed
)

func (s ProactiveCopySideStatus) String() string {
	switch s {
	case SideNotAttempted:
		return "not_attempted"
	case SideDisabled:
		return "disabled"
	case SideBuildIDNotSpecified:
		return "build_id_not_specified"
	case SideInRingMachineListEmpty:
		return "in_ring_machine_list_empty"
	case SideMachineNotFound:
		return "machine_not_found"
	case SideMachineAlreadyHasCopy:
		return "machine_already_has_copy"
	case SideSucceeded:
		return "succeeded"
	case SideSkipContentUnavailable:
		return "skip_content_unavailable"
	case SideFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProactiveCopySideResult is the detailed outcome of one side's attempt.
type ProactiveCopySideResult struct {
	Status  ProactiveCopySideStatus
	Target  location.MachineLocation
	Retries int
	Err     error
}

// ProactiveCopyResult is proactive_copy_if_needed's outcome.
type ProactiveCopyResult struct {
	Hash     contenthash.Hash
	Required bool
	Inside   ProactiveCopySideResult
	Outside  ProactiveCopySideResult
	// Err is the combined inside- and outside-ring failure (via
	// go.uber.org/multierr) when Required and neither side succeeded;
	// nil when at least one side succeeded, and also nil when neither
	// side carries an error.
	Err error
}

// ProactiveCopyMode is spec.md §6's bitmask configuration option.
type ProactiveCopyMode uint8

const (
	ProactiveCopyDisabled    ProactiveCopyMode = 0
	ProactiveCopyInsideRing  ProactiveCopyMode = 1 << 0
	ProactiveCopyOutsideRing ProactiveCopyMode = 1 << 1
	ProactiveCopyBoth        ProactiveCopyMode = ProactiveCopyInsideRing | ProactiveCopyOutsideRing
)

func (m ProactiveCopyMode) InsideEnabled() bool  { return m&ProactiveCopyInsideRing != 0 }
func (m ProactiveCopyMode) OutsideEnabled() bool { return m&ProactiveCopyOutsideRing != 0 }
