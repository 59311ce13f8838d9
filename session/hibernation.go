package session

import (
	"context"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/localcas"
)

// OpenStream opens a read stream for hash directly from the local CAS
// (spec.md §6 open_stream). It performs no lookup, copy, or
// registration of its own: a miss is surfaced verbatim as whatever the
// backend reports.
func (s *Session) OpenStream(ctx context.Context, hash contenthash.Hash) (localcas.StreamResult, error) {
	if !s.running() {
		return localcas.StreamResult{}, ErrNotRunning
	}
	return s.cas.OpenStream(ctx, hash)
}

// EnumeratePinnedContentHashes delegates to the local CAS's Hibernating
// capability (spec.md §6), when the backend supports it. A backend that
// doesn't implement hibernation reports an empty list rather than an
// error, since spec.md treats the capability as optional, not as a
// guaranteed operation every backend must satisfy.
func (s *Session) EnumeratePinnedContentHashes(ctx context.Context) ([]contenthash.Hash, error) {
	if !s.running() {
		return nil, ErrNotRunning
	}
	if !s.cas.Capabilities().Hibernation {
		return nil, nil
	}
	h, ok := s.cas.(localcas.Hibernating)
	if !ok {
		return nil, nil
	}
	return h.EnumeratePinnedContentHashes(ctx)
}

// ShutdownEviction delegates to the local CAS's Hibernating capability
// (spec.md §6); a no-op when the backend doesn't support it.
func (s *Session) ShutdownEviction(ctx context.Context) error {
	if !s.cas.Capabilities().Hibernation {
		return nil
	}
	h, ok := s.cas.(localcas.Hibernating)
	if !ok {
		return nil
	}
	return h.ShutdownEviction(ctx)
}
