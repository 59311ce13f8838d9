// Package location defines the content-location directory's data model
// and the contract the distributed content session consumes from it
// (spec.md §3, §6). The directory itself — its wire protocol and
// persistence — is an external collaborator; this package only
// specifies the shape the session talks to, plus a reference
// implementation under location/fake for tests and the demo CLI.
package location

import "strings"

// MachineLocation is the opaque address of a peer cache. The session
// never interprets it beyond equality and a validity check; the
// transport that dials it is entirely the copier's concern.
type MachineLocation string

// Valid reports whether l looks like a usable address (non-empty).
// Deeper validation (resolvability, scheme) belongs to whatever
// transport eventually dials it.
func (l MachineLocation) Valid() bool {
	return strings.TrimSpace(string(l)) != ""
}

func (l MachineLocation) String() string {
	return string(l)
}

// MachineId is the compact integer the directory assigns to a
// MachineLocation. A session only ever learns its own.
type MachineId int64

// UnknownMachineId is the sentinel for "the directory has not assigned
// this session an id yet" (e.g. before the first successful
// registration).
const UnknownMachineId MachineId = -1
