// Package fake is a reference, bbolt-backed implementation of
// localcas.Backend for tests and the demo CLI (spec.md §1). It is not
// meant to be a production CAS: blobs live as individual files under a
// base directory and their metadata (size, known hash) lives in a
// single bbolt bucket, matching the embedded-store-behind-a-small-API
// shape the teacher uses for its own durable local state.
package fake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

var metaBucket = []byte("blobs")

// blobMeta names the per-hash record: just a size, since the hash is
// the key and the bytes live on disk under blobPath. bbolt stores it as
// encodeSize's hex encoding of the big-endian 8-byte size.
type blobMeta struct {
	Size int64
}

// Backend is the reference localcas.Backend. Pinned and evicted are
// both modeled directly: Pin marks a hash pinned in an in-memory set,
// and EvictNow (a test/CLI hook, not part of localcas.Backend) lets a
// caller simulate the teacher's eviction-under-pressure behavior for
// OpenStream's Evicted path.
type Backend struct {
	baseDir string
	db      *bolt.DB

	mu      sync.Mutex
	pinned  map[contenthash.Hash]bool
	evicted map[contenthash.Hash]bool
}

// Open creates (or reopens) a Backend rooted at baseDir. baseDir/blobs
// holds blob files named by hex digest; baseDir/meta.db is the bbolt
// store.
func Open(baseDir string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "blobs"), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(baseDir, "meta.db"), 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{
		baseDir: baseDir,
		db:      db,
		pinned:  make(map[contenthash.Hash]bool),
		evicted: make(map[contenthash.Hash]bool),
	}, nil
}

// Close releases the underlying bbolt handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) blobPath(h contenthash.Hash) string {
	return filepath.Join(b.baseDir, "blobs", hex.EncodeToString(h.Bytes[:]))
}

func metaKey(h contenthash.Hash) []byte {
	return append([]byte{byte(h.Type)}, h.Bytes[:]...)
}

func hashFromMetaKey(k []byte) (contenthash.Hash, bool) {
	if len(k) != 1+contenthash.Size {
		return contenthash.Hash{}, false
	}
	var h contenthash.Hash
	h.Type = contenthash.HashType(k[0])
	copy(h.Bytes[:], k[1:])
	return h, true
}

// Capabilities reports this Backend supports trusted puts and
// hibernation: EnumeratePinnedContentHashes/ShutdownEviction below
// implement localcas.Hibernating.
func (b *Backend) Capabilities() localcas.Capabilities {
	return localcas.Capabilities{TrustedPut: true, Hibernation: true}
}

// WorkingDirectory returns baseDir/tmp as a scratch area for staging.
func (b *Backend) WorkingDirectory() (string, bool) {
	return filepath.Join(b.baseDir, "tmp"), true
}

func (b *Backend) has(h contenthash.Hash) (int64, bool) {
	var size int64
	var found bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(metaKey(h))
		if v == nil {
			return nil
		}
		found = true
		size = decodeSize(v)
		return nil
	})
	return size, found
}

func encodeSize(size int64) []byte {
	return []byte(hex.EncodeToString([]byte{
		byte(size >> 56), byte(size >> 48), byte(size >> 40), byte(size >> 32),
		byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size),
	}))
}

func decodeSize(v []byte) int64 {
	raw, err := hex.DecodeString(string(v))
	if err != nil || len(raw) != 8 {
		return 0
	}
	var size int64
	for _, b := range raw {
		size = (size << 8) | int64(b)
	}
	return size
}

// PutFile implements localcas.Backend.PutFile by reading path and
// delegating to PutStream; realization only affects how bytes already
// known to PutStream would be re-laid-out by PlaceFile, so PutFile
// itself always copies into the CAS's own blob store.
func (b *Backend) PutFile(ctx context.Context, path string, spec localcas.PutSpec, realization localcas.RealizationMode, u urgency.Urgency) (localcas.PutResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return localcas.PutResult{}, err
	}
	defer f.Close()
	return b.PutStream(ctx, f, spec, u)
}

// PutStream implements localcas.Backend.PutStream. It always computes
// the SHA-256 of the bytes it reads. A trusted put (spec.Hash set) is
// checked against that digest unless its type is HashTypeSynthetic; a
// mismatch is reported as ContentMismatched and nothing is committed.
// An untrusted put is stored under the computed digest, tagged with
// spec.Type.
func (b *Backend) PutStream(ctx context.Context, r io.Reader, spec localcas.PutSpec, u urgency.Urgency) (localcas.PutResult, error) {
	var buf bytes.Buffer
	hasher := sha256.New()
	n, err := io.Copy(&buf, io.TeeReader(r, hasher))
	if err != nil {
		return localcas.PutResult{}, err
	}

	var h contenthash.Hash
	if spec.Hash != nil {
		h = *spec.Hash
	} else {
		h = contenthash.FromBytes(spec.Type, hasher.Sum(nil))
	}

	if spec.Hash != nil && h.Type != contenthash.HashTypeSynthetic {
		sum := hasher.Sum(nil)
		if !bytes.Equal(sum, h.Bytes[:]) {
			return localcas.PutResult{Hash: h, ContentMismatched: true}, nil
		}
	}

	if size, ok := b.has(h); ok {
		return localcas.PutResult{Hash: h, Size: size, AlreadyContained: true}, nil
	}

	if err := os.WriteFile(b.blobPath(h), buf.Bytes(), 0o644); err != nil {
		return localcas.PutResult{}, err
	}
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(metaKey(h), encodeSize(int64(n)))
	}); err != nil {
		return localcas.PutResult{}, err
	}

	b.mu.Lock()
	delete(b.evicted, h)
	b.mu.Unlock()

	return localcas.PutResult{Hash: h, Size: int64(n)}, nil
}

// PlaceFile implements localcas.Backend.PlaceFile: it materializes the
// blob at path according to realization, reporting a miss (Placed:
// false, no error) rather than an error when the blob is not present,
// so the session's place engine can fall back to fetching it.
func (b *Backend) PlaceFile(ctx context.Context, hash contenthash.Hash, path string, access localcas.AccessMode, replacement localcas.ReplacementMode, realization localcas.RealizationMode, u urgency.Urgency) (localcas.PlaceOutcome, error) {
	if hash.IsEmptyContent() {
		if err := b.writeOut(path, nil, access, replacement); err != nil {
			return localcas.PlaceOutcome{}, err
		}
		return localcas.PlaceOutcome{Placed: true, Source: localcas.PlaceSourceLocal}, nil
	}
	if _, ok := b.has(hash); !ok {
		return localcas.PlaceOutcome{Placed: false}, nil
	}
	data, err := os.ReadFile(b.blobPath(hash))
	if err != nil {
		return localcas.PlaceOutcome{}, err
	}
	if err := b.writeOut(path, data, access, replacement); err != nil {
		return localcas.PlaceOutcome{}, err
	}
	return localcas.PlaceOutcome{Placed: true, Source: localcas.PlaceSourceLocal, Moved: realization == localcas.RealizationMove}, nil
}

func (b *Backend) writeOut(path string, data []byte, access localcas.AccessMode, replacement localcas.ReplacementMode) error {
	flags := os.O_WRONLY | os.O_CREATE
	if replacement == localcas.ReplacementFailIfExists {
		flags |= os.O_EXCL
	} else {
		flags |= os.O_TRUNC
	}
	mode := os.FileMode(0o400)
	if access == localcas.AccessWrite {
		mode = 0o600
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// Pin implements localcas.Backend.Pin: a pure local-presence probe
// that marks a present hash pinned. The pinned set is what
// EnumeratePinnedContentHashes reports and what ShutdownEviction
// spares; OpenStream does not consult it.
func (b *Backend) Pin(ctx context.Context, hash contenthash.Hash, u urgency.Urgency) (localcas.PinOutcome, error) {
	if hash.IsEmptyContent() {
		return localcas.PinOutcome{Hit: true}, nil
	}
	_, ok := b.has(hash)
	if ok {
		b.mu.Lock()
		b.pinned[hash] = true
		b.mu.Unlock()
	}
	return localcas.PinOutcome{Hit: ok}, nil
}

// OpenStream implements localcas.Backend.OpenStream.
func (b *Backend) OpenStream(ctx context.Context, hash contenthash.Hash) (localcas.StreamResult, error) {
	b.mu.Lock()
	evicted := b.evicted[hash]
	b.mu.Unlock()
	if evicted {
		return localcas.StreamResult{Evicted: true}, nil
	}
	if _, ok := b.has(hash); !ok {
		return localcas.StreamResult{}, errors.New("blob not present locally")
	}
	f, err := os.Open(b.blobPath(hash))
	if err != nil {
		return localcas.StreamResult{}, err
	}
	return localcas.StreamResult{Stream: f}, nil
}

// EvictNow is a test/CLI-only hook (not part of localcas.Backend) that
// simulates the local CAS evicting hash between a Pin and the
// subsequent OpenStream the proactive-copy push path performs.
func (b *Backend) EvictNow(hash contenthash.Hash) {
	b.mu.Lock()
	b.evicted[hash] = true
	b.mu.Unlock()
}

// EnumeratePinnedContentHashes implements localcas.Hibernating: it lists
// every hash this Backend currently has pinned, for a caller that is
// about to hibernate and needs to know what survives shutdown eviction.
func (b *Backend) EnumeratePinnedContentHashes(ctx context.Context) ([]contenthash.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]contenthash.Hash, 0, len(b.pinned))
	for h, pinned := range b.pinned {
		if pinned {
			out = append(out, h)
		}
	}
	return out, nil
}

// ShutdownEviction implements localcas.Hibernating: it removes every
// blob that is not currently pinned, the hibernation-time counterpart
// to the eviction a real CAS would run under disk pressure.
func (b *Backend) ShutdownEviction(ctx context.Context) error {
	var toEvict []contenthash.Hash
	if err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(metaBucket)
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			h, ok := hashFromMetaKey(k)
			if !ok {
				continue
			}
			b.mu.Lock()
			pinned := b.pinned[h]
			b.mu.Unlock()
			if pinned {
				continue
			}
			toEvict = append(toEvict, h)
		}
		for _, h := range toEvict {
			if err := bucket.Delete(metaKey(h)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	b.mu.Lock()
	for _, h := range toEvict {
		b.evicted[h] = true
	}
	b.mu.Unlock()

	for _, h := range toEvict {
		if err := os.Remove(b.blobPath(h)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

var _ localcas.Backend = (*Backend)(nil)
var _ localcas.Hibernating = (*Backend)(nil)
