package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/copier"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// PlaceRequest is one hash's target path for PlaceBulk.
type PlaceRequest struct {
	Hash contenthash.Hash
	Path string
}

// PlaceFile is the single-hash convenience wrapper around PlaceBulk.
func (s *Session) PlaceFile(ctx context.Context, h contenthash.Hash, path string, access localcas.AccessMode, replacement localcas.ReplacementMode, realization localcas.RealizationMode, u urgency.Urgency) (PlaceResult, error) {
	rs, err := s.PlaceBulk(ctx, []PlaceRequest{{Hash: h, Path: path}}, access, replacement, realization, u)
	if err != nil {
		return PlaceResult{}, err
	}
	return rs[0], nil
}

// placeFetch carries what a pending hash needs to finish once its
// batched registration succeeds.
type placeFetch struct {
	idx    int
	hash   contenthash.Hash
	path   string
	size   int64
	source localcas.PlaceSource
}

// PlaceBulk implements the place engine (spec.md §4.3): a first pass
// tries the local CAS directly; misses fall back to a two-level
// copy-then-put-then-place using the local stage's locations, then the
// global stage's locations minus the local stage's (spec.md §4.1's
// Subtract). A single batched directory registration covers every
// hash this call actually copied.
func (s *Session) PlaceBulk(ctx context.Context, reqs []PlaceRequest, access localcas.AccessMode, replacement localcas.ReplacementMode, realization localcas.RealizationMode, u urgency.Urgency) ([]PlaceResult, error) {
	if !s.running() {
		return nil, ErrNotRunning
	}
	results := make([]PlaceResult, len(reqs))

	isMiss := make([]bool, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		if req.Hash.IsAbsentFile() {
			results[i] = PlaceResult{Hash: req.Hash, Path: req.Path, Kind: PlaceFailed, Err: errors.New("policy violation: absent-file hash may not be placed")}
			continue
		}
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, miss := s.tryPlaceDirect(ctx, req, access, replacement, realization, u)
			isMiss[i] = miss
			if !miss {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	var misses []int
	for i := range reqs {
		if isMiss[i] {
			misses = append(misses, i)
		}
	}
	if len(misses) == 0 {
		return results, nil
	}

	missHashes := make([]contenthash.Hash, len(misses))
	for k, i := range misses {
		missHashes[k] = reqs[i].Hash
	}

	var localStage, globalStage location.BulkResult
	if err := s.getLocations(ctx, missHashes, u, func(sr stageResult) error {
		switch sr.Stage {
		case stageLocal:
			localStage = sr.Result
		case stageGlobal:
			globalStage = sr.Result
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var toRegister []contenthash.WithSize
	var fetched []placeFetch
	for _, i := range misses {
		h := reqs[i].Hash
		localRec, _ := localStage.Get(h)
		globalRec, _ := globalStage.Get(h)
		localEntry, globalEntry := localRec.Entry, globalRec.Entry

		if len(localEntry.Machines) == 0 && len(globalEntry.Machines) == 0 {
			results[i] = PlaceResult{Hash: h, Path: reqs[i].Path, Kind: PlaceFailed, Err: fmt.Errorf("metadata records not found for %s", h)}
			continue
		}

		size, source, err := s.copyForPlace(ctx, h, localEntry, globalEntry, globalStage.Origin)
		if err != nil {
			results[i] = PlaceResult{Hash: h, Path: reqs[i].Path, Kind: PlaceFailed, Err: err}
			continue
		}
		toRegister = append(toRegister, contenthash.WithSize{Hash: h, Bytes: size})
		fetched = append(fetched, placeFetch{idx: i, hash: h, path: reqs[i].Path, size: size, source: source})
	}

	if len(fetched) == 0 {
		return results, nil
	}

	if err := s.store.RegisterLocalLocation(ctx, toRegister, u); err != nil {
		for _, f := range fetched {
			results[f.idx] = PlaceResult{Hash: f.hash, Path: f.path, Kind: PlaceFailed, Err: fmt.Errorf("tracker registration failed: %w", err)}
		}
		return results, nil
	}

	var wg2 sync.WaitGroup
	for _, f := range fetched {
		f := f
		wg2.Add(1)
		go func() {
			defer wg2.Done()
			results[f.idx] = s.finishPlace(ctx, f, access, replacement, realization, u)
		}()
	}
	wg2.Wait()
	return results, nil
}

// tryPlaceDirect attempts the local CAS's place_file as-is (spec.md
// §4.3 step 1). miss=true means the hash needs the fetch-then-put-then
// -place fallback; the returned PlaceResult is meaningless in that
// case.
func (s *Session) tryPlaceDirect(ctx context.Context, req PlaceRequest, access localcas.AccessMode, replacement localcas.ReplacementMode, realization localcas.RealizationMode, u urgency.Urgency) (PlaceResult, bool) {
	release, stats, err := s.putPlaceGate.acquire(ctx)
	if err != nil {
		return PlaceResult{Hash: req.Hash, Path: req.Path, Kind: PlaceFailed, Err: err}, false
	}
	defer release()

	outcome, err := s.cas.PlaceFile(ctx, req.Hash, req.Path, access, replacement, realization, u)
	res := PlaceResult{Hash: req.Hash, Path: req.Path, GateOccupancy: stats.Occupancy, GateWait: stats.Wait}
	if err != nil {
		res.Kind = PlaceFailed
		res.Err = err
		return res, false
	}
	if outcome.Placed {
		res.Kind = PlaceSucceeded
		res.Source = outcome.Source
		return res, false
	}
	return res, true
}

// copyForPlace runs the level-1 (local-stage candidates) then level-2
// (global-stage candidates, already Subtracted against local) copy
// attempts and reports which source tier ultimately supplied the
// bytes (spec.md §4.3 step 2).
func (s *Session) copyForPlace(ctx context.Context, h contenthash.Hash, localEntry, globalEntry location.Entry, globalOrigin location.Origin) (int64, localcas.PlaceSource, error) {
	var errs *multierror.Error
	if len(localEntry.Machines) > 0 {
		size, err := s.copyIntoCAS(ctx, h, localEntry.Machines)
		if err == nil {
			return size, localcas.PlaceSourceDatacenterCache, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("local-stage copy: %w", err))
	}
	if len(globalEntry.Machines) > 0 {
		size, err := s.copyIntoCAS(ctx, h, globalEntry.Machines)
		if err == nil {
			source := localcas.PlaceSourceDatacenterCache
			if globalOrigin == location.OriginColdStorage {
				source = localcas.PlaceSourceColdStorage
			}
			return size, source, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("global-stage copy: %w", err))
	}
	if errs.ErrorOrNil() == nil {
		return 0, "", fmt.Errorf("copy failed for %s: no reachable candidate", h)
	}
	return 0, "", fmt.Errorf("copy failed for %s: %w", h, errs.ErrorOrNil())
}

// copyIntoCAS lands h from candidates and commits it via
// putSpecForCopy's trusted/untrusted choice, same as pin's
// copyOneReplica; it returns only the committed size, which place
// needs for its batched registration.
func (s *Session) copyIntoCAS(ctx context.Context, h contenthash.Hash, candidates []location.MachineLocation) (int64, error) {
	var size int64
	putFn := func(ctx context.Context, actualHash contenthash.Hash, landedSize int64, r io.Reader) error {
		pr, err := s.cas.PutStream(ctx, r, s.putSpecForCopy(actualHash, landedSize), urgency.Normal)
		if err != nil {
			return err
		}
		size = pr.Size
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
		return 0, err
	}
	if !res.Succeeded {
		return 0, res.Err
	}
	return size, nil
}

// finishPlace re-invokes place_file now that the content is locally
// present and registered (spec.md §4.3 step 2 "re-invoke ... and label
// the result's source").
func (s *Session) finishPlace(ctx context.Context, f placeFetch, access localcas.AccessMode, replacement localcas.ReplacementMode, realization localcas.RealizationMode, u urgency.Urgency) PlaceResult {
	release, stats, err := s.putPlaceGate.acquire(ctx)
	if err != nil {
		return PlaceResult{Hash: f.hash, Path: f.path, Kind: PlaceFailed, Err: err}
	}
	defer release()

	outcome, err := s.cas.PlaceFile(ctx, f.hash, f.path, access, replacement, realization, u)
	res := PlaceResult{Hash: f.hash, Path: f.path, GateOccupancy: stats.Occupancy, GateWait: stats.Wait}
	if err != nil {
		res.Kind = PlaceFailed
		res.Err = err
		return res
	}
	if !outcome.Placed {
		res.Kind = PlaceFailed
		res.Err = fmt.Errorf("place_file reported a miss for %s immediately after a successful copy", f.hash)
		return res
	}
	res.Kind = PlaceSucceeded
	res.Source = f.source
	return res
}
