// Package fake is a reference, badger-backed implementation of
// location.Store for tests and the demo CLI (spec.md §1). A single
// badger database holds one CBOR-encoded entry per hash, keyed by the
// hash's bytes, and the designated locations under a separate key
// prefix in the same database. The active-machine set, the master and
// the cold-storage-only marks are held in memory and are not persisted.
package fake

import (
	"context"
	"math/rand"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/oasisprotocol/contentfleet/go/common/cbor"
	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

const (
	prefixEntry      = "e/"
	prefixDesignated = "d/"
)

// persistedEntry is the CBOR-serialized form of a location.Entry; it
// mirrors the public struct except Machines are strings, since
// location.MachineLocation already is one.
type persistedEntry struct {
	Size       int64
	Machines   []string
	Attributes map[string]string
}

// Store is the reference location.Store. It has no separate "local"
// vs "global" tier internally — both Origin values answer from the
// same badger database, with OriginColdStorage reserved for
// SetColdStorageOnly, a test/CLI hook that marks specific hashes as
// answerable only when origin == OriginGlobal, simulating a directory
// whose global tier occasionally resolves through its cold-storage
// index (spec.md §3's third GetBulkOrigin value, §4.1's degraded-result
// note).
type Store struct {
	db *badger.DB

	mu             sync.Mutex
	self           location.MachineLocation
	active         map[location.MachineLocation]bool
	master         location.MachineLocation
	hasMaster      bool
	coldOnly       map[contenthash.Hash]bool
}

// Open creates (or reopens) a Store backed by a badger database at dir.
// self is this session's own machine location, reported by Store.Self.
func Open(dir string, self location.MachineLocation) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:       db,
		self:     self,
		active:   map[location.MachineLocation]bool{self: true},
		coldOnly: make(map[contenthash.Hash]bool),
	}, nil
}

// Close releases the underlying badger handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(h contenthash.Hash) []byte {
	return append([]byte(prefixEntry), append([]byte{byte(h.Type)}, h.Bytes[:]...)...)
}

func (s *Store) getEntry(h contenthash.Hash) (location.Entry, error) {
	var out location.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(h))
		if err == badger.ErrKeyNotFound {
			out = location.Entry{Machines: nil}
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			var pe persistedEntry
			if err := cbor.Unmarshal(v, &pe); err != nil {
				return err
			}
			machines := make([]location.MachineLocation, len(pe.Machines))
			for i, m := range pe.Machines {
				machines[i] = location.MachineLocation(m)
			}
			out = location.Entry{Size: pe.Size, Machines: machines, Attributes: pe.Attributes}
			return nil
		})
	})
	return out, err
}

// GetBulk implements location.Store.GetBulk. origin only changes which
// hashes come back degraded: a hash registered only via SetColdStorageOnly
// answers NeverRegistered at OriginLocal and its real entry at
// OriginGlobal, with the result's Origin set to OriginColdStorage.
func (s *Store) GetBulk(ctx context.Context, hashes []contenthash.Hash, origin location.Origin) (location.BulkResult, error) {
	out := location.BulkResult{Origin: origin, Records: make([]location.Record, len(hashes))}
	sawColdStorage := false
	for i, h := range hashes {
		s.mu.Lock()
		cold := s.coldOnly[h]
		s.mu.Unlock()

		if cold && origin == location.OriginLocal {
			out.Records[i] = location.Record{Hash: h, Entry: location.Entry{Machines: nil}}
			continue
		}
		entry, err := s.getEntry(h)
		if err != nil {
			return location.BulkResult{}, err
		}
		if cold {
			sawColdStorage = true
		}
		out.Records[i] = location.Record{Hash: h, Entry: entry}
	}
	if sawColdStorage && origin == location.OriginGlobal {
		out.Origin = location.OriginColdStorage
	}
	return out, nil
}

// RegisterLocalLocation implements location.Store.RegisterLocalLocation
// by adding s.Self() to each hash's machine set, unioned with whatever
// is already on record (idempotent per spec.md §8).
func (s *Store) RegisterLocalLocation(ctx context.Context, hashes []contenthash.WithSize, u urgency.Urgency) error {
	self := s.Self()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, w := range hashes {
			entry, err := s.getEntry(w.Hash)
			if err != nil {
				return err
			}
			found := false
			for _, m := range entry.Machines {
				if m == self {
					found = true
					break
				}
			}
			if !found {
				entry.Machines = append(entry.Machines, self)
			}
			if w.KnownSize() {
				entry.Size = w.Bytes
			}
			pe := persistedEntry{Size: entry.Size, Attributes: entry.Attributes}
			pe.Machines = make([]string, len(entry.Machines))
			for i, m := range entry.Machines {
				pe.Machines[i] = string(m)
			}
			if err := txn.Set(entryKey(w.Hash), cbor.Marshal(pe)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRandomMachineLocation implements location.Store.GetRandomMachineLocation.
func (s *Store) GetRandomMachineLocation(ctx context.Context, except []location.MachineLocation) (location.MachineLocation, bool, error) {
	excluded := make(map[location.MachineLocation]bool, len(except))
	for _, m := range except {
		excluded[m] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pool []location.MachineLocation
	for m := range s.active {
		if !excluded[m] {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		return "", false, nil
	}
	return pool[rand.Intn(len(pool))], true, nil
}

// GetDesignatedLocations implements location.Store.GetDesignatedLocations.
func (s *Store) GetDesignatedLocations(ctx context.Context, hash contenthash.Hash) ([]location.MachineLocation, bool, error) {
	var out []location.MachineLocation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append([]byte(prefixDesignated), append([]byte{byte(hash.Type)}, hash.Bytes[:]...)...))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			var raw []string
			if err := cbor.Unmarshal(v, &raw); err != nil {
				return err
			}
			out = make([]location.MachineLocation, len(raw))
			for i, m := range raw {
				out[i] = location.MachineLocation(m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// IsMachineActive implements location.Store.IsMachineActive.
func (s *Store) IsMachineActive(ctx context.Context, m location.MachineLocation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[m], nil
}

// Master implements location.Store.Master.
func (s *Store) Master(ctx context.Context) (location.MachineLocation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master, s.hasMaster, nil
}

// Self implements location.Store.Self.
func (s *Store) Self() location.MachineLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// SetActiveMachines replaces the pool GetRandomMachineLocation draws
// from (a test/CLI hook, not part of location.Store).
func (s *Store) SetActiveMachines(machines ...location.MachineLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = map[location.MachineLocation]bool{s.self: true}
	for _, m := range machines {
		s.active[m] = true
	}
}

// SetDesignatedLocations records hash's preferred replica targets (a
// test/CLI hook).
func (s *Store) SetDesignatedLocations(hash contenthash.Hash, machines ...location.MachineLocation) error {
	raw := make([]string, len(machines))
	for i, m := range machines {
		raw[i] = string(m)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte(prefixDesignated), append([]byte{byte(hash.Type)}, hash.Bytes[:]...)...), cbor.Marshal(raw))
	})
}

// SetMaster records the elected leader machine (a test/CLI hook).
func (s *Store) SetMaster(m location.MachineLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = m
	s.hasMaster = true
}

// SetColdStorageOnly marks hash as answerable only from the global
// stage, with GetBulk reporting OriginColdStorage for it (a test/CLI
// hook exercising spec.md §3's third GetBulkOrigin value).
func (s *Store) SetColdStorageOnly(hash contenthash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coldOnly[hash] = true
}

// SetEntryMachines overwrites hash's machine set directly, bypassing
// RegisterLocalLocation's self-only semantics (a test/CLI hook letting a
// test simulate a hash already known to live on a machine other than
// this Store's own Self(), e.g. a place/pin fallback candidate).
func (s *Store) SetEntryMachines(hash contenthash.Hash, size int64, machines ...location.MachineLocation) error {
	pe := persistedEntry{Size: size, Machines: make([]string, len(machines))}
	for i, m := range machines {
		pe.Machines[i] = string(m)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(hash), cbor.Marshal(pe))
	})
}

var _ location.Store = (*Store)(nil)
