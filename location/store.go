package location

import (
	"context"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// Store is the content-location directory contract the session
// consumes (spec.md §6). The directory's own wire protocol and
// persistence are out of scope for this module (spec.md §1); this
// interface is the only thing the session is allowed to assume about
// it. See location/fake for a reference implementation used by tests
// and the demo CLI.
type Store interface {
	// GetBulk answers, for each hash in the same order given, its
	// directory Entry as of origin. A failed call should be surfaced
	// as a Go error, not encoded in the result — callers that need the
	// degraded-entry behavior spec.md §4.1 describes construct it
	// themselves from the error.
	GetBulk(ctx context.Context, hashes []contenthash.Hash, origin Origin) (BulkResult, error)

	// RegisterLocalLocation tells the directory that this session's
	// machine now holds replicas of the given hashes, at the given
	// sizes. It is idempotent: registering the same (hash, size,
	// machine) twice has no additional effect (spec.md §8).
	RegisterLocalLocation(ctx context.Context, hashes []contenthash.WithSize, u urgency.Urgency) error

	// GetRandomMachineLocation returns a uniformly random active
	// machine location, excluding any in except. Returns ("", false)
	// if no candidate remains.
	GetRandomMachineLocation(ctx context.Context, except []MachineLocation) (MachineLocation, bool, error)

	// GetDesignatedLocations returns the directory's preferred replica
	// targets for hash, or (nil, false) if it has no opinion.
	GetDesignatedLocations(ctx context.Context, hash contenthash.Hash) ([]MachineLocation, bool, error)

	// IsMachineActive reports whether m is currently a live participant
	// in the fleet.
	IsMachineActive(ctx context.Context, m MachineLocation) (bool, error)

	// Master returns the currently elected leader machine, if any.
	Master(ctx context.Context) (MachineLocation, bool, error)

	// Self returns this session's own machine location, as known to the
	// directory (used to exclude "push to myself" and to compute ring
	// membership as "directory locations of the build-id hash ∪ self",
	// spec.md §4.6).
	Self() MachineLocation
}
