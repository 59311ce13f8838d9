package session

import (
	"context"
	"math/rand"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/copier"
	"github.com/oasisprotocol/contentfleet/go/location"
)

// randIntn is a package-level indirection over math/rand so tests can
// substitute a deterministic generator (spec.md §9 Design Notes:
// "Deterministic tests should allow injecting the RNG").
var randIntn = rand.Intn

// triggerProactiveCopy fires proactive_copy_if_needed on a detached
// scope (spec.md §4.2 step 4, §4.4 step 3): post-pin/post-put triggers
// must survive this session's own shutdown, bound only to the store.
func (s *Session) triggerProactiveCopy(hash contenthash.Hash, reason string) {
	s.goDetached(func(ctx context.Context) {
		if _, err := s.ProactiveCopyIfNeeded(ctx, hash, true, reason); err != nil {
			s.logger.Warn("proactive copy failed", "hash", hash, "reason", reason, "err", err)
		}
	})
}

// proactiveCopyAllFailed reports whether none of a required proactive
// copy's sides succeeded, the condition put's inline_operations_for_tests
// path uses to fail the put itself (spec.md §4.4 step 3).
func proactiveCopyAllFailed(r ProactiveCopyResult) bool {
	if !r.Required {
		return false
	}
	return r.Inside.Status != SideSucceeded && r.Outside.Status != SideSucceeded
}

// ProactiveCopyIfNeeded implements the proactive-copy engine (spec.md
// §4.5): it looks up a hash's current replication through the batched
// lookup queue and, if under threshold, attempts one inside-ring and
// one outside-ring push concurrently.
func (s *Session) ProactiveCopyIfNeeded(ctx context.Context, hash contenthash.Hash, tryBuildRing bool, reason string) (ProactiveCopyResult, error) {
	if !s.running() {
		return ProactiveCopyResult{}, ErrNotRunning
	}
	if hash.IsEmptyContent() {
		return ProactiveCopyResult{Hash: hash}, nil
	}
	if !s.tryEnterInFlight(hash) {
		return ProactiveCopyResult{Hash: hash}, nil
	}
	defer s.leaveInFlight(hash)

	if s.cfg.ProactiveCopyMode == ProactiveCopyDisabled {
		return ProactiveCopyResult{
			Hash:    hash,
			Inside:  ProactiveCopySideResult{Status: SideDisabled},
			Outside: ProactiveCopySideResult{Status: SideDisabled},
		}, nil
	}

	lookupRes, err := s.queue.Lookup(ctx, hash)
	if err != nil {
		return ProactiveCopyResult{}, err
	}
	if lookupRes.Entry.ReplicaCount() >= s.cfg.ProactiveCopyLocationsThreshold {
		s.logger.Debug("proactive copy not required", "hash", hash, "reason", reason, "replicas", lookupRes.Entry.ReplicaCount())
		return ProactiveCopyResult{Hash: hash}, nil
	}

	replicated := make(map[location.MachineLocation]bool, len(lookupRes.Entry.Machines))
	for _, m := range lookupRes.Entry.Machines {
		replicated[m] = true
	}

	master, ok, merr := s.store.Master(ctx)
	if merr != nil {
		s.logger.Warn("master election lookup failed", "err", merr)
	} else if ok {
		replicated[master] = true
	}

	buildRing, rerr := s.refreshRing(ctx)
	if rerr != nil {
		s.logger.Warn("ring refresh failed", "err", rerr)
	}

	outsideExclude := make(map[location.MachineLocation]bool, len(replicated)+len(buildRing))
	for m := range replicated {
		outsideExclude[m] = true
	}
	for _, m := range buildRing {
		outsideExclude[m] = true
	}

	result := ProactiveCopyResult{Hash: hash, Required: true}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Outside = s.outsideSide(gctx, hash, outsideExclude)
		return nil
	})
	g.Go(func() error {
		result.Inside = s.insideSide(gctx, hash, tryBuildRing, buildRing, replicated)
		return nil
	})
	_ = g.Wait()

	if proactiveCopyAllFailed(result) {
		result.Err = multierr.Append(result.Inside.Err, result.Outside.Err)
	}
	return result, nil
}

// outsideSide implements outside-ring candidate selection and push
// (spec.md §4.5 "Outside-ring candidate selection").
func (s *Session) outsideSide(ctx context.Context, hash contenthash.Hash, exclude map[location.MachineLocation]bool) ProactiveCopySideResult {
	if !s.cfg.ProactiveCopyMode.OutsideEnabled() {
		return ProactiveCopySideResult{Status: SideDisabled}
	}
	target, status, err := s.pickOutsideTarget(ctx, hash, exclude)
	if err != nil {
		return ProactiveCopySideResult{Status: SideFailed, Err: err}
	}
	if status != SideNotAttempted {
		return ProactiveCopySideResult{Status: status}
	}
	return s.pushWithRetry(ctx, hash, target)
}

// insideSide implements inside-ring candidate selection and push
// (spec.md §4.5 "Inside-ring candidate selection").
func (s *Session) insideSide(ctx context.Context, hash contenthash.Hash, tryBuildRing bool, buildRing []location.MachineLocation, replicated map[location.MachineLocation]bool) ProactiveCopySideResult {
	if !s.cfg.ProactiveCopyMode.InsideEnabled() {
		return ProactiveCopySideResult{Status: SideDisabled}
	}
	target, status := s.pickInsideTarget(ctx, tryBuildRing, buildRing, replicated)
	if status != SideNotAttempted {
		return ProactiveCopySideResult{Status: status}
	}
	return s.pushWithRetry(ctx, hash, target)
}

// pickOutsideTarget chooses a candidate outside the build ring: a
// uniformly random designated location (if use_preferred_locations is
// set and the directory has an opinion), otherwise a uniformly random
// active machine — both excluding replicated ∪ build_ring ∪ master
// (spec.md §4.5).
func (s *Session) pickOutsideTarget(ctx context.Context, hash contenthash.Hash, exclude map[location.MachineLocation]bool) (location.MachineLocation, ProactiveCopySideStatus, error) {
	if s.cfg.ProactiveCopyUsePreferredLocations {
		desig, ok, err := s.store.GetDesignatedLocations(ctx, hash)
		if err != nil {
			return "", SideFailed, err
		}
		if ok {
			pool := excludeMachines(desig, exclude)
			if len(pool) == 0 {
				return "", SideMachineNotFound, nil
			}
			return pool[randIntn(len(pool))], SideNotAttempted, nil
		}
	}

	except := make([]location.MachineLocation, 0, len(exclude))
	for m := range exclude {
		except = append(except, m)
	}
	loc, ok, err := s.store.GetRandomMachineLocation(ctx, except)
	if err != nil {
		return "", SideFailed, err
	}
	if !ok {
		return "", SideMachineNotFound, nil
	}
	return loc, SideNotAttempted, nil
}

// pickInsideTarget chooses a candidate from the build ring, excluding
// the current machine and anything in replicated, then filters the
// remainder through the directory's liveness check so a stale ring
// member is never picked (spec.md §4.5 "Inside-ring candidate
// selection": "Pick uniformly at random from the remaining active
// in-ring machines other than the current one"). SideMachineAlreadyHasCopy
// is reported when the ring has other members but all of them already
// hold a replica; SideInRingMachineListEmpty when the ring itself is
// empty or contains only this machine; SideMachineNotFound when every
// remaining candidate turns out to be inactive.
func (s *Session) pickInsideTarget(ctx context.Context, tryBuildRing bool, buildRing []location.MachineLocation, replicated map[location.MachineLocation]bool) (location.MachineLocation, ProactiveCopySideStatus) {
	if !tryBuildRing || s.buildIDHash == nil {
		return "", SideBuildIDNotSpecified
	}
	if len(buildRing) == 0 {
		return "", SideInRingMachineListEmpty
	}

	self := s.store.Self()
	var withoutSelf []location.MachineLocation
	for _, m := range buildRing {
		if m != self {
			withoutSelf = append(withoutSelf, m)
		}
	}
	if len(withoutSelf) == 0 {
		return "", SideInRingMachineListEmpty
	}

	pool := excludeMachines(withoutSelf, replicated)
	if len(pool) == 0 {
		return "", SideMachineAlreadyHasCopy
	}

	active := make([]location.MachineLocation, 0, len(pool))
	for _, m := range pool {
		ok, err := s.store.IsMachineActive(ctx, m)
		if err != nil {
			s.logger.Warn("ring liveness check failed", "machine", m, "err", err)
			continue
		}
		if ok {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return "", SideMachineNotFound
	}
	return active[randIntn(len(active))], SideNotAttempted
}

func excludeMachines(candidates []location.MachineLocation, exclude map[location.MachineLocation]bool) []location.MachineLocation {
	out := make([]location.MachineLocation, 0, len(candidates))
	for _, m := range candidates {
		if !exclude[m] {
			out = append(out, m)
		}
	}
	return out
}

// pushWithRetry pushes hash to target, retrying while the push
// qualifies for retry and the per-side budget allows (spec.md §4.5
// "Retry loop"). It yields once before its first attempt so that
// inside-ring and outside-ring pushes, run concurrently, cannot block
// each other's start (spec.md §4.5 "Push").
func (s *Session) pushWithRetry(ctx context.Context, hash contenthash.Hash, target location.MachineLocation) ProactiveCopySideResult {
	runtime.Gosched()

	bo := backoff.NewExponentialBackOff()
	retries := 0
	for {
		res, err := s.pushOnce(ctx, hash, target)
		if err != nil {
			return ProactiveCopySideResult{Status: SideFailed, Target: target, Retries: retries, Err: err}
		}
		switch res.Kind {
		case copier.PushSucceeded:
			return ProactiveCopySideResult{Status: SideSucceeded, Target: target, Retries: retries}
		case copier.PushDisabled:
			return ProactiveCopySideResult{Status: SideDisabled, Target: target, Retries: retries}
		case copier.PushSkipContentUnavailable:
			return ProactiveCopySideResult{Status: SideSkipContentUnavailable, Target: target, Retries: retries}
		case copier.PushFailed:
			return ProactiveCopySideResult{Status: SideFailed, Target: target, Retries: retries, Err: res.Err}
		case copier.PushQualifiesForRetry:
			if retries >= s.cfg.ProactiveCopyMaxRetries {
				return ProactiveCopySideResult{Status: SideFailed, Target: target, Retries: retries, Err: res.Err}
			}
			retries++
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ProactiveCopySideResult{Status: SideFailed, Target: target, Retries: retries, Err: ctx.Err()}
			}
		}
	}
}

// pushOnce performs a single push or request-copy attempt, per
// push_proactive_copies (spec.md §4.5 "Push").
func (s *Session) pushOnce(ctx context.Context, hash contenthash.Hash, target location.MachineLocation) (copier.PushResult, error) {
	if !s.cfg.PushProactiveCopies {
		return s.copier.RequestCopyFile(ctx, hash, target)
	}

	stream, err := s.cas.OpenStream(ctx, hash)
	if err != nil {
		return copier.PushResult{}, err
	}
	if stream.Evicted {
		if stream.Stream != nil {
			stream.Stream.Close()
		}
		return copier.SkipContentUnavailable(), nil
	}
	defer stream.Stream.Close()
	return s.copier.PushFile(ctx, hash, target, contenthash.SizeUnknown, stream.Stream)
}
