package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// PutFile implements put (spec.md §4.4) for a file-path source.
// Put-file operations share the put/place gate (spec.md §4.4 step 4).
func (s *Session) PutFile(ctx context.Context, path string, spec localcas.PutSpec, realization localcas.RealizationMode, u urgency.Urgency) (PutResult, error) {
	if !s.running() {
		return PutResult{}, ErrNotRunning
	}
	release, _, err := s.putPlaceGate.acquire(ctx)
	if err != nil {
		return PutResult{}, err
	}
	defer release()

	pr, err := s.cas.PutFile(ctx, path, spec, realization, u)
	if err != nil {
		return PutResult{Err: err}, err
	}
	return s.afterPut(ctx, pr, u), nil
}

// PutStream implements put (spec.md §4.4) for a stream source.
// Put-stream operations are deliberately not gated (spec.md §4.4 step
// 4, "small-count assumption").
func (s *Session) PutStream(ctx context.Context, r io.Reader, spec localcas.PutSpec, u urgency.Urgency) (PutResult, error) {
	if !s.running() {
		return PutResult{}, ErrNotRunning
	}
	pr, err := s.cas.PutStream(ctx, r, spec, u)
	if err != nil {
		return PutResult{Err: err}, err
	}
	return s.afterPut(ctx, pr, u), nil
}

// afterPut runs put's post-processing (spec.md §4.4 steps 2-3):
// conditional directory registration and, if registered, an optional
// proactive-copy trigger. Registration failures never fail the put
// itself (spec.md §7: the local effect already happened and is not
// rolled back); they are only reported via PutResult.Err.
func (s *Session) afterPut(ctx context.Context, pr localcas.PutResult, u urgency.Urgency) PutResult {
	res := PutResult{Hash: pr.Hash, Size: pr.Size}
	if pr.ContentMismatched {
		res.Err = errors.New("put rejected: content hash mismatch")
		return res
	}
	if pr.Hash.IsEmptyContent() || pr.Hash.IsAbsentFile() {
		return res
	}

	effective := u
	if s.cfg.RegisterEagerlyOnPut && !pr.AlreadyContained {
		effective = urgency.RegisterEagerly
	}
	if effective == urgency.SkipRegisterContent && s.cfg.RespectSkipRegisterHint {
		return res
	}

	if err := s.store.RegisterLocalLocation(ctx, []contenthash.WithSize{{Hash: pr.Hash, Bytes: pr.Size}}, effective); err != nil {
		res.Err = fmt.Errorf("tracker registration failed: %w", err)
		return res
	}
	res.Registered = true

	if !s.cfg.ProactiveCopyOnPut {
		return res
	}
	if s.cfg.InlineOperationsForTests {
		pcRes, err := s.ProactiveCopyIfNeeded(ctx, pr.Hash, true, "put")
		if err == nil && proactiveCopyAllFailed(pcRes) {
			res.Err = fmt.Errorf("proactive copy failed for all targets of %s", pr.Hash)
		}
		return res
	}
	s.triggerProactiveCopy(pr.Hash, "put")
	return res
}
