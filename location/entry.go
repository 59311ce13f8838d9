package location

import (
	"time"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
)

// Entry is the directory's per-hash record (spec.md §3
// ContentLocationEntry). Machines == nil distinguishes "never
// registered" from Machines == []MachineLocation{} ("known but all
// replicas missing") — that distinction is load-bearing for the
// pin/place decision (spec.md §4.2, §4.3), so nothing in this package
// ever silently coerces one into the other. Entries carry resolved
// MachineLocations, not the directory's internal compact MachineId,
// because every consumer (pin, place, proactive-copy's ring
// arithmetic) compares these lists directly against
// GetDesignatedLocations/GetRandomMachineLocation/Self, which are
// themselves MachineLocation-typed.
type Entry struct {
	Size       int64
	Machines   []MachineLocation
	LastAccess time.Time
	// Attributes is an opaque bag of replication metadata the directory
	// may attach (e.g. provenance, pinning hints); the session passes
	// it through without interpreting it.
	Attributes map[string]string
}

// NeverRegistered reports whether e represents a hash the directory has
// no record of at all.
func (e Entry) NeverRegistered() bool {
	return e.Machines == nil
}

// ReplicaCount returns the number of machines this entry currently
// claims, regardless of whether any of them are still reachable.
func (e Entry) ReplicaCount() int {
	return len(e.Machines)
}

// Origin tags which tier of the directory produced a BulkResult, so
// callers can reason about staleness (spec.md §3).
type Origin int

const (
	OriginLocal Origin = iota
	OriginGlobal
	OriginColdStorage
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginGlobal:
		return "global"
	case OriginColdStorage:
		return "cold_storage"
	default:
		return "unknown"
	}
}

// Record is one hash's entry within a BulkResult.
type Record struct {
	Hash  contenthash.Hash
	Entry Entry
}

// BulkResult is the directory's answer to GetBulk: one Record per
// requested hash, in the same order and length as the input
// (spec.md §3, tested in session as a quantified invariant — spec.md §8).
type BulkResult struct {
	Origin  Origin
	Records []Record
}

// Len returns the number of records, matching the number of hashes
// requested.
func (r BulkResult) Len() int {
	return len(r.Records)
}

// indexByHash builds a lookup table from hash to record index.
func (r BulkResult) indexByHash() map[contenthash.Hash]int {
	idx := make(map[contenthash.Hash]int, len(r.Records))
	for i, rec := range r.Records {
		idx[rec.Hash] = i
	}
	return idx
}

// Subtract removes, for every hash present in both r and other, the
// machines already present in other's entry from r's entry. It never
// mutates r or other; it returns a new BulkResult. Used by the
// multi-level lookup (spec.md §4.1) to compute the global stage's
// locations minus the local stage's locations already tried, and by
// place's level-2 fallback (spec.md §4.3).
//
// A NeverRegistered entry subtracted against anything stays
// NeverRegistered; subtracting from a NeverRegistered entry yields
// NeverRegistered (there is nothing to remove from "no record").
func (r BulkResult) Subtract(other BulkResult) BulkResult {
	otherIdx := other.indexByHash()
	out := BulkResult{Origin: r.Origin, Records: make([]Record, len(r.Records))}
	for i, rec := range r.Records {
		out.Records[i] = rec
		if rec.Entry.NeverRegistered() {
			continue
		}
		oi, ok := otherIdx[rec.Hash]
		if !ok {
			continue
		}
		already := make(map[MachineLocation]struct{}, len(other.Records[oi].Entry.Machines))
		for _, m := range other.Records[oi].Entry.Machines {
			already[m] = struct{}{}
		}
		remaining := make([]MachineLocation, 0, len(rec.Entry.Machines))
		for _, m := range rec.Entry.Machines {
			if _, hit := already[m]; !hit {
				remaining = append(remaining, m)
			}
		}
		e := rec.Entry
		e.Machines = remaining
		out.Records[i].Entry = e
	}
	return out
}

// Merge unions two BulkResults for the same set of hashes, preserving
// the maximum information for each: a NeverRegistered entry is replaced
// by whichever side actually has a record, and machine lists are
// unioned. The origin of the more authoritative (later) side, other,
// wins.
func (r BulkResult) Merge(other BulkResult) BulkResult {
	out := BulkResult{Origin: other.Origin, Records: make([]Record, 0, len(r.Records)+len(other.Records))}
	seen := make(map[contenthash.Hash]bool)

	mergeEntry := func(a, b Entry) Entry {
		if a.NeverRegistered() && b.NeverRegistered() {
			return a
		}
		if a.NeverRegistered() {
			return b
		}
		if b.NeverRegistered() {
			return a
		}
		set := make(map[MachineLocation]struct{}, len(a.Machines)+len(b.Machines))
		for _, m := range a.Machines {
			set[m] = struct{}{}
		}
		for _, m := range b.Machines {
			set[m] = struct{}{}
		}
		merged := make([]MachineLocation, 0, len(set))
		for m := range set {
			merged = append(merged, m)
		}
		out := a
		out.Machines = merged
		if b.Size > 0 {
			out.Size = b.Size
		}
		return out
	}

	for _, rec := range r.Records {
		entry := rec.Entry
		if oi, ok := other.indexByHash()[rec.Hash]; ok {
			entry = mergeEntry(rec.Entry, other.Records[oi].Entry)
		}
		out.Records = append(out.Records, Record{Hash: rec.Hash, Entry: entry})
		seen[rec.Hash] = true
	}
	for _, rec := range other.Records {
		if seen[rec.Hash] {
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

// Get returns the record for h, if present.
func (r BulkResult) Get(h contenthash.Hash) (Record, bool) {
	for _, rec := range r.Records {
		if rec.Hash == h {
			return rec, true
		}
	}
	return Record{}, false
}
