package session

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // not a security hash, only a stable 16-byte label for a synthetic directory entry
	"fmt"
	"time"

	"github.com/tyler-smith/go-bip39"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// buildIDHash derives the synthetic directory key a build-ring member
// registers itself under: MD5 of the configured build id (spec.md
// §4.6). It is never asserted to be a content hash of anything a
// caller could independently verify; HashTypeSynthetic marks it as
// such so it can never be confused with a real content hash in logs or
// in the directory.
func buildIDHash(buildID []byte) contenthash.Hash {
	sum := md5.Sum(buildID) //nolint:gosec
	return contenthash.FromBytes(contenthash.HashTypeSynthetic, sum[:])
}

// buildIDLabel renders buildID as a human-readable mnemonic for log
// lines, the same way a build id's raw bytes are unreadable but its
// digest happens to be exactly bip39's 16-byte entropy width.
func buildIDLabel(buildID []byte) string {
	sum := md5.Sum(buildID) //nolint:gosec
	mnemonic, err := bip39.NewMnemonic(sum[:])
	if err != nil {
		return fmt.Sprintf("build-id-%x", sum[:4])
	}
	return mnemonic
}

// startRingTracking registers this session's machine as a participant
// in the current build's ring (spec.md §4.6): it puts a synthetic blob
// keyed by buildIDHash into the local CAS, trusting its own digest
// since nothing downstream re-derives it, then registers that replica
// with the directory so other sessions' GetBulk(buildIDHash) calls
// observe this machine.
func (s *Session) startRingTracking(ctx context.Context) error {
	h := buildIDHash(s.cfg.BuildID)
	s.buildIDHash = &h
	label := buildIDLabel(s.cfg.BuildID)

	spec := localcas.PutSpec{Hash: &h, Type: contenthash.HashTypeSynthetic}
	if _, err := s.cas.PutStream(ctx, bytes.NewReader(s.cfg.BuildID), spec, urgency.Normal); err != nil {
		return fmt.Errorf("contentsession: register ring membership %s: put synthetic blob: %w", label, err)
	}
	if err := s.store.RegisterLocalLocation(ctx, []contenthash.WithSize{{Hash: h, Bytes: int64(len(s.cfg.BuildID))}}, urgency.Normal); err != nil {
		return fmt.Errorf("contentsession: register ring membership %s: %w", label, err)
	}

	s.logger.Info("joined build ring", "build", label, "machine", s.store.Self())
	return nil
}

// stopRingTracking best-effort tears down ring tracking at shutdown.
// The local CAS and directory contracts this module consumes (spec.md
// §6) expose no unregister/delete operation — only eviction policy
// internal to the CAS and time-based staleness in the directory — so
// there is nothing to actively delete here; this only stops the
// session from treating its own membership as current.
func (s *Session) stopRingTracking(_ context.Context) {
	s.buildIDHash = nil
}

// refreshRing returns the current build-ring membership, refreshing it
// through the batched lookup queue if the cached snapshot has gone
// stale (spec.md §4.6: "lazily refreshed, with a short TTL, before each
// proactive-copy batch rather than on every single copy decision").
// Returns (nil, nil) if no build id is configured.
func (s *Session) refreshRing(ctx context.Context) ([]location.MachineLocation, error) {
	if s.buildIDHash == nil {
		return nil, nil
	}
	if snap, fresh := s.ring.Get(time.Now()); fresh {
		return snap.Machines, nil
	}

	res, err := s.queue.Lookup(ctx, *s.buildIDHash)
	if err != nil {
		return nil, fmt.Errorf("contentsession: refresh ring membership: %w", err)
	}

	self := s.store.Self()
	members := make([]location.MachineLocation, 0, len(res.Entry.Machines)+1)
	haveSelf := false
	for _, m := range res.Entry.Machines {
		members = append(members, m)
		if m == self {
			haveSelf = true
		}
	}
	if !haveSelf && self.Valid() {
		members = append(members, self)
	}

	s.ring.Set(members, time.Now())
	return members, nil
}
