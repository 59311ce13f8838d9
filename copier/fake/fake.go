// Package fake is a reference, in-memory implementation of
// copier.Copier for tests and the demo CLI (spec.md §1). It has no
// transport at all: machines are just map keys into a shared blob
// table. PushFile snappy-compresses blobs of 64KiB or more and
// TryCopyAndPut/RequestCopyFile decompress them, so a compressed round
// trip is exercised; CopyRequest's CompressionSizeThreshold and
// CompressionAlgorithm are not consulted. Logging uses
// github.com/ipfs/go-log/v2, the logger the teacher's own
// peer-content-replication dependencies favor over common/logging for
// this kind of transport-adjacent code.
package fake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/golang/snappy"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/copier"
	"github.com/oasisprotocol/contentfleet/go/location"
)

var log = logging.Logger("copier/fake")

// storedBlob is one machine's copy of one hash.
type storedBlob struct {
	data       []byte
	compressed bool
}

// Network is the shared backing store every machine's Copier reads
// and writes through, standing in for the real gRPC transport
// (spec.md §6). Tests construct one Network and hand each simulated
// machine a *Copier bound to it.
type Network struct {
	mu     sync.Mutex
	blobs  map[location.MachineLocation]map[contenthash.Hash]storedBlob
	down   map[location.MachineLocation]bool
	unwell map[contenthash.Hash]int
}

// NewNetwork returns an empty Network.
func NewNetwork() *Network {
	return &Network{
		blobs:  make(map[location.MachineLocation]map[contenthash.Hash]storedBlob),
		down:   make(map[location.MachineLocation]bool),
		unwell: make(map[contenthash.Hash]int),
	}
}

// Seed places data for hash directly on machine, bypassing any
// Copier (a test setup hook).
func (n *Network) Seed(machine location.MachineLocation, hash contenthash.Hash, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.blobs[machine] == nil {
		n.blobs[machine] = make(map[contenthash.Hash]storedBlob)
	}
	n.blobs[machine][hash] = storedBlob{data: append([]byte(nil), data...)}
}

// SetDown marks machine as unreachable for every subsequent copy/push
// attempt (a test hook for exercising candidate fallback and retry).
func (n *Network) SetDown(machine location.MachineLocation, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[machine] = down
}

// FailNextPushes makes the next count push/copy attempts against hash
// fail with a retryable error, regardless of target (a test hook for
// exercising pushWithRetry's backoff loop).
func (n *Network) FailNextPushes(hash contenthash.Hash, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unwell[hash] = count
}

func (n *Network) consumeFailure(hash contenthash.Hash) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unwell[hash] > 0 {
		n.unwell[hash]--
		return true
	}
	return false
}

// Copier is the reference copier.Copier bound to a machine identity on
// a shared Network.
type Copier struct {
	net  *Network
	self location.MachineLocation
}

// New returns a Copier acting as self against net.
func New(net *Network, self location.MachineLocation) *Copier {
	return &Copier{net: net, self: self}
}

func compress(data []byte, threshold int64, algorithm string) ([]byte, bool) {
	if int64(len(data)) < threshold || algorithm != "snappy" {
		return data, false
	}
	return snappy.Encode(nil, data), true
}

func decompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	return snappy.Decode(nil, data)
}

// TryCopyAndPut implements copier.Copier.TryCopyAndPut: it tries each
// candidate in order, stopping at the first that has the blob and is
// reachable.
func (c *Copier) TryCopyAndPut(ctx context.Context, req copier.CopyRequest) (copier.PutResult, error) {
	for _, candidate := range req.Candidates {
		c.net.mu.Lock()
		down := c.net.down[candidate]
		blob, ok := c.net.blobs[candidate][req.Hash]
		c.net.mu.Unlock()
		if down || !ok {
			continue
		}
		data, err := decompress(blob.data, blob.compressed)
		if err != nil {
			log.Warnw("decompress failed", "candidate", candidate, "hash", req.Hash, "err", err)
			continue
		}
		if err := req.Put(ctx, req.Hash, int64(len(data)), bytes.NewReader(data)); err != nil {
			log.Warnw("put callback rejected candidate", "candidate", candidate, "hash", req.Hash, "err", err)
			continue
		}
		return copier.PutResult{Succeeded: true, Source: candidate, Size: int64(len(data))}, nil
	}
	return copier.PutResult{Succeeded: false, Err: errors.New("no reachable candidate had the blob")}, nil
}

// PushFile implements copier.Copier.PushFile: it reads r fully and
// stores it on target, snappy-compressed when the data read is 64KiB or
// more. The size argument is not used for that decision.
func (c *Copier) PushFile(ctx context.Context, hash contenthash.Hash, target location.MachineLocation, size int64, r io.Reader) (copier.PushResult, error) {
	if c.net.consumeFailure(hash) {
		return copier.QualifiesForRetry(errors.New("simulated transient push failure")), nil
	}
	c.net.mu.Lock()
	down := c.net.down[target]
	c.net.mu.Unlock()
	if down {
		return copier.Failed(errors.New("target unreachable")), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return copier.PushResult{}, err
	}
	threshold := int64(64 * 1024)
	compressedData, isCompressed := compress(data, threshold, "snappy")
	c.net.mu.Lock()
	if c.net.blobs[target] == nil {
		c.net.blobs[target] = make(map[contenthash.Hash]storedBlob)
	}
	c.net.blobs[target][hash] = storedBlob{data: compressedData, compressed: isCompressed}
	c.net.mu.Unlock()
	n := int64(len(data))
	return copier.Succeeded(&n), nil
}

// RequestCopyFile implements copier.Copier.RequestCopyFile: it asks
// target to pull hash from self, which in this in-memory network is
// just "copy self's blob onto target" run from the requester's side.
func (c *Copier) RequestCopyFile(ctx context.Context, hash contenthash.Hash, target location.MachineLocation) (copier.PushResult, error) {
	if c.net.consumeFailure(hash) {
		return copier.QualifiesForRetry(errors.New("simulated transient request-copy failure")), nil
	}
	c.net.mu.Lock()
	selfBlob, ok := c.net.blobs[c.self][hash]
	down := c.net.down[target] || c.net.down[c.self]
	c.net.mu.Unlock()
	if !ok {
		return copier.SkipContentUnavailable(), nil
	}
	if down {
		return copier.Failed(errors.New("source or target unreachable")), nil
	}
	c.net.mu.Lock()
	if c.net.blobs[target] == nil {
		c.net.blobs[target] = make(map[contenthash.Hash]storedBlob)
	}
	c.net.blobs[target][hash] = selfBlob
	c.net.mu.Unlock()
	data, err := decompress(selfBlob.data, selfBlob.compressed)
	if err != nil {
		return copier.PushResult{}, err
	}
	n := int64(len(data))
	return copier.Succeeded(&n), nil
}

var _ copier.Copier = (*Copier)(nil)
