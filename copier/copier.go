// Package copier specifies the contract the distributed content session
// consumes from the blob copier (spec.md §6). The copier's transport —
// its framing, compression algorithm, and push/pull RPC encoding — is
// out of scope for this module (spec.md §1); this package only names
// the shape the session needs, plus a reference in-memory implementation
// under copier/fake for tests and the demo CLI.
package copier

import (
	"context"
	"io"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/location"
)

// PutFunc commits a copied blob's bytes into the local CAS once the
// copier has landed them; it returns an error to tell the copier to
// advance to the next candidate machine (e.g. the landed content's
// actual hash didn't match what was requested).
type PutFunc func(ctx context.Context, actualHash contenthash.Hash, size int64, r io.Reader) error

// CopyRequest describes one TryCopyAndPut call: a hash, its expected
// size (SizeUnknown if not known), the candidate source machines to try
// in order, and the Put callback that commits a successful candidate.
type CopyRequest struct {
	Hash                     contenthash.Hash
	ExpectedSize             int64
	Candidates               []location.MachineLocation
	Put                      PutFunc
	CompressionSizeThreshold int64
	CompressionAlgorithm     string
}

// PutResult is TryCopyAndPut's answer: which candidate (if any)
// succeeded.
type PutResult struct {
	Succeeded bool
	Source    location.MachineLocation
	Size      int64
	Err       error
}

// PushResultKind is spec.md §3's Push result kind.
type PushResultKind int

const (
	PushSucceeded PushResultKind = iota
	PushDisabled
	PushSkipContentUnavailable
	PushQualifiesForRetry
	PushFailed
)

func (k PushResultKind) String() string {
	switch k {
	case PushSucceeded:
		return "succeeded"
	case PushDisabled:
		return "disabled"
	case PushSkipContentUnavailable:
		return "skip_content_unavailable"
	case PushQualifiesForRetry:
		return "qualifies_for_retry"
	case PushFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PushResult is the outcome of one PushFile or RequestCopyFile attempt.
type PushResult struct {
	Kind PushResultKind
	// Size is set only on PushSucceeded, mirroring spec.md's
	// Succeeded(size?).
	Size *int64
	// Err carries the underlying diagnostic for QualifiesForRetry and
	// Failed.
	Err error
}

// Succeeded builds a PushSucceeded result, optionally recording size.
func Succeeded(size *int64) PushResult { return PushResult{Kind: PushSucceeded, Size: size} }

// Disabled builds a PushDisabled result.
func Disabled() PushResult { return PushResult{Kind: PushDisabled} }

// SkipContentUnavailable builds a PushSkipContentUnavailable result.
func SkipContentUnavailable() PushResult { return PushResult{Kind: PushSkipContentUnavailable} }

// QualifiesForRetry builds a PushQualifiesForRetry result carrying err.
func QualifiesForRetry(err error) PushResult {
	return PushResult{Kind: PushQualifiesForRetry, Err: err}
}

// Failed builds a PushFailed result carrying err.
func Failed(err error) PushResult { return PushResult{Kind: PushFailed, Err: err} }

// Copier is the blob copier contract (spec.md §6).
type Copier interface {
	// TryCopyAndPut iterates req.Candidates in order, attempting to
	// fetch req.Hash from each and commit it via req.Put, stopping at
	// the first success.
	TryCopyAndPut(ctx context.Context, req CopyRequest) (PutResult, error)

	// PushFile streams r (size bytes of req.Hash's content) to target.
	PushFile(ctx context.Context, hash contenthash.Hash, target location.MachineLocation, size int64, r io.Reader) (PushResult, error)

	// RequestCopyFile asks target to pull hash from this machine rather
	// than receiving a push.
	RequestCopyFile(ctx context.Context, hash contenthash.Hash, target location.MachineLocation) (PushResult, error)
}
