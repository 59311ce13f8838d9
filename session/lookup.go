package session

import (
	"context"
	"fmt"

	"github.com/goki/go-difflib/difflib"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

// lookupStage tags which of getLocations' two yields a stageResult
// belongs to.
type lookupStage int

const (
	stageLocal lookupStage = iota
	stageGlobal
)

// stageResult is one yield of getLocations: the stage that produced it
// and its BulkResult.
type stageResult struct {
	Stage  lookupStage
	Result location.BulkResult
}

// getLocations implements the multi-level lookup (spec.md §4.1): it
// looks up hashes against the local stage, then the global stage, and
// delivers each to yield as soon as it is ready — never both at once.
// A yield that returns an error stops the lookup, so a caller can skip
// the global call after seeing the local answer.
//
// The global stage's result is Subtracted against the local stage's
// locations, so a caller composing the two never double-counts a
// machine already known from the local answer.
//
// The empty-content hash is filtered from the outbound call but still
// produces a result for both stages, so callers indexing by input
// position never see a length mismatch (spec.md §4.1, §8).
func (s *Session) getLocations(ctx context.Context, hashes []contenthash.Hash, u urgency.Urgency, yield func(stageResult) error) error {
	if len(hashes) == 0 {
		return nil
	}

	query := make([]contenthash.Hash, 0, len(hashes))
	for _, h := range hashes {
		if h.IsEmptyContent() {
			continue
		}
		query = append(query, h)
	}

	local := s.queryStage(ctx, hashes, query, location.OriginLocal)
	if err := yield(stageResult{Stage: stageLocal, Result: local}); err != nil {
		return err
	}

	global := s.queryStage(ctx, hashes, query, location.OriginGlobal)
	global.Records = global.Subtract(local).Records
	s.logStageDiff(local, global)
	return yield(stageResult{Stage: stageGlobal, Result: global})
}

// logStageDiff emits a trace-level unified diff of the local and global
// stages' per-hash machine lists, so a diagnostic session can see
// exactly which locations the global stage contributed once Subtract
// has already removed the local stage's own machines.
func (s *Session) logStageDiff(local, global location.BulkResult) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(formatStageLocations(local)),
		B:        difflib.SplitLines(formatStageLocations(global)),
		FromFile: "local",
		ToFile:   "global",
		Context:  0,
	})
	if err != nil || diff == "" {
		return
	}
	s.logger.Debug("lookup stage locations diverge", "diff", diff)
}

// formatStageLocations renders one line per record so difflib can diff
// stages hash-by-hash rather than character-by-character.
func formatStageLocations(r location.BulkResult) string {
	out := ""
	for _, rec := range r.Records {
		out += fmt.Sprintf("%s: %v\n", rec.Hash, rec.Entry.Machines)
	}
	return out
}

// queryStage runs one GetBulk call over query (the input with the
// empty-content hash filtered out) and reassembles a BulkResult over
// the full, original hashes so its length and order always match the
// caller's input (spec.md §4.1, §8). A failed call, or the
// empty-content hash itself, is represented as a degraded, "never
// registered" entry rather than propagating the error — §4.1 requires
// the degraded result to be distinguishable from a real empty-list
// answer, which NeverRegistered's nil Machines slice already encodes.
func (s *Session) queryStage(ctx context.Context, hashes, query []contenthash.Hash, origin location.Origin) location.BulkResult {
	degraded := func() map[contenthash.Hash]location.Entry {
		return make(map[contenthash.Hash]location.Entry, len(hashes))
	}

	byHash := degraded()
	actualOrigin := origin
	if len(query) > 0 {
		res, err := s.store.GetBulk(ctx, query, origin)
		if err != nil {
			s.logger.Warn("location lookup failed", "origin", origin, "count", len(query), "err", err)
		} else {
			// The directory may answer a Global request from its cold-tier
			// (spec.md §3's third GetBulkOrigin value); its own reported
			// Origin, not the one we asked for, is what place's source
			// label downstream needs to reflect.
			actualOrigin = res.Origin
			for _, rec := range res.Records {
				byHash[rec.Hash] = rec.Entry
			}
		}
	}

	out := location.BulkResult{Origin: actualOrigin, Records: make([]location.Record, len(hashes))}
	for i, h := range hashes {
		entry, ok := byHash[h]
		if !ok {
			entry = location.Entry{Machines: nil}
		}
		out.Records[i] = location.Record{Hash: h, Entry: entry}
	}
	return out
}
