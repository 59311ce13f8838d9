package session

import (
	"context"
	"io"
	"sync"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/copier"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// Pin is the single-hash convenience wrapper around PinBulk.
func (s *Session) Pin(ctx context.Context, h contenthash.Hash, u urgency.Urgency) (PinResult, error) {
	rs, err := s.PinBulk(ctx, []contenthash.Hash{h}, u)
	if err != nil {
		return PinResult{}, err
	}
	return rs[0], nil
}

// PinBulk implements the pin engine (spec.md §4.2). Results are always
// len(hashes) long and ordered to match hashes (spec.md §8), even when
// individual hashes fail — per-hash failures never propagate as a call
// error. A failed directory lookup is not a call error either: it
// degrades to never-registered entries, so the affected hashes come
// back as ContentNotFound. The call itself fails only with
// ErrNotRunning.
func (s *Session) PinBulk(ctx context.Context, hashes []contenthash.Hash, u urgency.Urgency) ([]PinResult, error) {
	if !s.running() {
		return nil, ErrNotRunning
	}
	results := make([]PinResult, len(hashes))

	var pendingIdx []int
	var pendingHashes []contenthash.Hash
	var localHits []contenthash.WithSize

	for i, h := range hashes {
		if h.IsEmptyContent() {
			results[i] = PinResult{Hash: h, Kind: PinEnoughReplicas, Note: "empty content"}
			continue
		}
		out, err := s.cas.Pin(ctx, h, u)
		if err != nil {
			s.logger.Warn("local pin probe failed", "hash", h, "err", err)
		}
		if err == nil && out.Hit {
			results[i] = PinResult{Hash: h, Kind: PinEnoughReplicas, Note: "local CAS hit"}
			localHits = append(localHits, contenthash.WithSize{Hash: h, Bytes: contenthash.SizeUnknown})
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pendingHashes = append(pendingHashes, h)
	}

	if len(localHits) > 0 && !(u == urgency.SkipRegisterContent && s.cfg.Pin.RespectSkipRegisterHint) {
		if err := s.store.RegisterLocalLocation(ctx, localHits, u); err != nil {
			s.logger.Warn("batched local-hit registration failed", "count", len(localHits), "err", err)
		}
	}
	if len(pendingHashes) == 0 {
		return results, nil
	}

	if s.cfg.Pin.ReturnGlobalExistenceFast {
		fast := s.fastExistencePin(ctx, pendingHashes, u)
		for k, idx := range pendingIdx {
			results[idx] = fast[k]
		}
		s.goDetached(func(ctx context.Context) {
			if _, err := s.pinRemaining(ctx, pendingHashes, u); err != nil {
				s.logger.Warn("detached full pin failed", "err", err)
			}
		})
		return results, nil
	}

	remaining, err := s.pinRemaining(ctx, pendingHashes, u)
	if err != nil {
		return nil, err
	}
	for k, idx := range pendingIdx {
		results[idx] = remaining[k]
	}
	return results, nil
}

// fastExistencePin answers immediately with succeed-with-one-location
// semantics against the global directory only, returned to the caller
// ahead of the full pin that continues on a detached scope (spec.md
// §4.2 step 1, §8 scenario 1).
func (s *Session) fastExistencePin(ctx context.Context, hashes []contenthash.Hash, u urgency.Urgency) []PinResult {
	out := make([]PinResult, len(hashes))
	res, err := s.store.GetBulk(ctx, hashes, location.OriginGlobal)
	if err != nil {
		for i, h := range hashes {
			out[i] = PinResult{Hash: h, Kind: PinContentNotFound, Err: err, Note: "directory unavailable"}
		}
		return out
	}
	for i, h := range hashes {
		rec, _ := res.Get(h)
		count := rec.Entry.ReplicaCount()
		if count >= 1 {
			out[i] = PinResult{Hash: h, Kind: PinEnoughReplicas, ReplicaCount: count, Note: "Global succeeds"}
		} else {
			out[i] = PinResult{Hash: h, Kind: PinContentNotFound, ReplicaCount: count, Note: contentNotFoundNote(rec.Entry)}
		}
	}
	return out
}

// contentNotFoundNote renders spec.md §8's "locations == null vs
// locations == []" distinction as two diagnostic strings: one entry (or
// every entry, for the combined form below) that has never been
// registered at all gets a different Note than one the directory knows
// about but whose machine list has gone empty.
func contentNotFoundNote(entry location.Entry) string {
	if entry.NeverRegistered() {
		return "No remote records"
	}
	return "No surviving replicas"
}

// contentNotFoundNoteCombined is contentNotFoundNote for remote pin's
// global-stage decision, which has already summed a local and a global
// entry into one replica count: it reports "No remote records" only
// when both contributing entries are themselves never-registered, and
// "No surviving replicas" as soon as either side is a known-but-empty
// record.
func contentNotFoundNoteCombined(entries ...location.Entry) string {
	for _, e := range entries {
		if !e.NeverRegistered() {
			return "No surviving replicas"
		}
	}
	return "No remote records"
}

// pinRemaining runs the local-stage-then-global-stage remote-pin
// procedure (spec.md §4.2 steps 2-3) over hashes that missed the local
// CAS. It is used both for a synchronous pin call and for the detached
// continuation after a fast-existence answer.
func (s *Session) pinRemaining(ctx context.Context, hashes []contenthash.Hash, u urgency.Urgency) ([]PinResult, error) {
	results := make([]PinResult, len(hashes))

	var localStage, globalStage location.BulkResult
	err := s.getLocations(ctx, hashes, u, func(sr stageResult) error {
		switch sr.Stage {
		case stageLocal:
			localStage = sr.Result
		case stageGlobal:
			globalStage = sr.Result
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var needGlobal []int
	for i, h := range hashes {
		localRec, _ := localStage.Get(h)
		localEntry := localRec.Entry
		if res, resolved := s.evalPinEntry(h, localEntry, u); resolved {
			results[i] = res
			continue
		}
		if s.cfg.Pin.UseLocalLocationsOnlyOnUnverifiedPin {
			results[i] = PinResult{Hash: h, Kind: PinContentNotFound, ReplicaCount: localEntry.ReplicaCount(), Note: "local-only pin below threshold"}
			continue
		}
		needGlobal = append(needGlobal, i)
	}
	if len(needGlobal) == 0 {
		return results, nil
	}

	var wg sync.WaitGroup
	for _, idx := range needGlobal {
		idx, h := idx, hashes[idx]
		wg.Add(1)
		submitErr := s.pinPool.Submit(ctx, func() {
			defer wg.Done()
			localRec, _ := localStage.Get(h)
			globalRec, _ := globalStage.Get(h)
			results[idx] = s.remotePinGlobalStage(ctx, h, localRec.Entry, globalRec.Entry, u)
		})
		if submitErr != nil {
			wg.Done()
			results[idx] = PinResult{Hash: h, Kind: PinErrorFromTracker, Err: submitErr}
		}
	}
	wg.Wait()
	return results, nil
}

// evalPinEntry implements remote-pin's local-stage branches (spec.md
// §4.2 step 3, first three bullets). It returns resolved=false when the
// hash must escalate to the global stage.
func (s *Session) evalPinEntry(h contenthash.Hash, entry location.Entry, u urgency.Urgency) (PinResult, bool) {
	count := entry.ReplicaCount()
	if s.cfg.Pin.ReturnGlobalExistenceFast && count >= 1 {
		return PinResult{Hash: h, Kind: PinEnoughReplicas, ReplicaCount: count, Note: "Global succeeds"}, true
	}
	if count >= s.cfg.Pin.PinMinUnverifiedCount {
		res := PinResult{Hash: h, Kind: PinEnoughReplicas, ReplicaCount: count, Note: "enough replicas"}
		if count < s.cfg.Pin.PinMinUnverifiedCount+s.cfg.Pin.AsyncCopyOnPinThreshold {
			res.Kind = PinAsynchronousCopy
			res.Note = "enough replicas, topping up asynchronously"
			s.scheduleAsyncTopUp(h, entry.Machines, u)
		}
		return res, true
	}
	return PinResult{}, false
}

// remotePinGlobalStage implements remote-pin's global-stage branches
// (spec.md §4.2 step 3, last two bullets). globalEntry has already been
// Subtracted against localEntry by getLocations, so the two machine
// lists are disjoint and their replica counts simply add.
func (s *Session) remotePinGlobalStage(ctx context.Context, h contenthash.Hash, localEntry, globalEntry location.Entry, u urgency.Urgency) PinResult {
	total := localEntry.ReplicaCount() + globalEntry.ReplicaCount()
	candidates := append(append([]location.MachineLocation{}, localEntry.Machines...), globalEntry.Machines...)

	if s.cfg.Pin.ReturnGlobalExistenceFast && total >= 1 {
		return PinResult{Hash: h, Kind: PinEnoughReplicas, ReplicaCount: total, Note: "Global succeeds"}
	}
	if total >= s.cfg.Pin.PinMinUnverifiedCount {
		res := PinResult{Hash: h, Kind: PinEnoughReplicas, ReplicaCount: total, Note: "enough replicas (global)"}
		if total < s.cfg.Pin.PinMinUnverifiedCount+s.cfg.Pin.AsyncCopyOnPinThreshold {
			res.Kind = PinAsynchronousCopy
			res.Note = "enough replicas (global), topping up asynchronously"
			s.scheduleAsyncTopUp(h, candidates, u)
		}
		return res
	}
	if total == 0 {
		s.logger.Warn("pin: content not found", "hash", h, "stage", "global")
		return PinResult{Hash: h, Kind: PinContentNotFound, ReplicaCount: 0, Note: contentNotFoundNoteCombined(localEntry, globalEntry)}
	}

	put, err := s.copyOneReplica(ctx, h, candidates, u)
	if err != nil {
		return PinResult{Hash: h, Kind: PinContentNotFound, ReplicaCount: total, Err: err, Note: "copy failed"}
	}
	if !(u == urgency.SkipRegisterContent && s.cfg.Pin.RespectSkipRegisterHint) {
		if err := s.store.RegisterLocalLocation(ctx, []contenthash.WithSize{{Hash: h, Bytes: put.Size}}, u); err != nil {
			return PinResult{Hash: h, Kind: PinErrorFromTracker, ReplicaCount: total, Err: err, CopiedLocally: true}
		}
	}

	res := PinResult{Hash: h, Kind: PinSynchronousCopy, ReplicaCount: total + 1, CopiedLocally: true}
	if s.cfg.Pin.ProactiveCopyOnPin {
		s.triggerProactiveCopy(h, "pin")
	}
	return res
}

// scheduleAsyncTopUp runs the async copy-into-local-CAS side channel
// (spec.md §4.2 step 3 second bullet): it always registers the new
// replica immediately (update_tracker=true), independent of the
// call's own urgency — see DESIGN.md for why this implementation
// resolves that ambiguity this way.
func (s *Session) scheduleAsyncTopUp(h contenthash.Hash, candidates []location.MachineLocation, u urgency.Urgency) {
	run := func(ctx context.Context) {
		put, err := s.copyOneReplica(ctx, h, candidates, u)
		if err != nil {
			s.logger.Warn("async top-up copy failed", "hash", h, "err", err)
			return
		}
		if err := s.store.RegisterLocalLocation(ctx, []contenthash.WithSize{{Hash: h, Bytes: put.Size}}, urgency.RegisterEagerly); err != nil {
			s.logger.Warn("async top-up registration failed", "hash", h, "err", err)
		}
	}
	if s.cfg.InlineOperationsForTests {
		run(s.detach())
		return
	}
	s.goDetached(run)
}

// putSpecForCopy implements spec.md §4.3's "copy-and-put detail": the
// engine commits a landed copy via a trusted put (the CAS accepts
// actualHash without re-hashing) only once the local CAS reports
// Capabilities().TrustedPut and size reaches cfg.TrustedPutSizeThreshold;
// otherwise it passes an untrusted spec so the CAS re-hashes and catches
// a mismatch itself.
func (s *Session) putSpecForCopy(actualHash contenthash.Hash, size int64) localcas.PutSpec {
	if s.cas.Capabilities().TrustedPut && size != contenthash.SizeUnknown && size >= s.cfg.TrustedPutSizeThreshold {
		return localcas.PutSpec{Hash: &actualHash, Type: actualHash.Type}
	}
	return localcas.PutSpec{Type: actualHash.Type}
}

// copyOneReplica asks the copier to land h from one of candidates and
// commits it via putSpecForCopy's trusted/untrusted choice.
func (s *Session) copyOneReplica(ctx context.Context, h contenthash.Hash, candidates []location.MachineLocation, u urgency.Urgency) (localcas.PutResult, error) {
	var result localcas.PutResult
	putFn := func(ctx context.Context, actualHash contenthash.Hash, size int64, r io.Reader) error {
		pr, err := s.cas.PutStream(ctx, r, s.putSpecForCopy(actualHash, size), u)
		if err != nil {
			return err
		}
		result = pr
		return nil
	}
	req := copier.CopyRequest{
		Hash:                     h,
		ExpectedSize:             contenthash.SizeUnknown,
		Candidates:               candidates,
		Put:                      putFn,
		CompressionSizeThreshold: s.cfg.GRPCCopyCompressionSizeThreshold,
		CompressionAlgorithm:     s.cfg.GRPCCopyCompressionAlgorithm,
	}
	res, err := s.copier.TryCopyAndPut(ctx, req)
	if err != nil {
		return localcas.PutResult{}, err
	}
	if !res.Succeeded {
		return localcas.PutResult{}, res.Err
	}
	return result, nil
}
