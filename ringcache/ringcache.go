// Package ringcache is the expiring cache of build-ring membership
// spec.md §2 item 5 and §4.6 describe: a TTL'd value holder for the
// list of machines participating in the current build. Concurrent
// refreshes converge to a single value by last-write-wins, which
// spec.md §5 allows since ring membership is monotone within a TTL
// window.
package ringcache

import (
	"sync"
	"time"

	"github.com/oasisprotocol/contentfleet/go/location"
)

// Snapshot is one refresh of ring membership.
type Snapshot struct {
	Machines []location.MachineLocation
	At       time.Time
}

// Cache holds the most recent Snapshot and a TTL.
type Cache struct {
	ttl time.Duration

	mu   sync.Mutex
	snap Snapshot
}

// New returns a Cache whose snapshots are considered stale after ttl.
// ttl <= 0 means every Get sees it as stale, forcing a refresh before
// each use (spec.md §8 scenario 6).
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the current snapshot and whether it is still fresh as of
// now.
func (c *Cache) Get(now time.Time) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.At.IsZero() {
		return Snapshot{}, false
	}
	fresh := now.Sub(c.snap.At) < c.ttl
	return c.snap, fresh
}

// Set stores a freshly observed snapshot. Concurrent Sets converge by
// last-write-wins: whichever call runs last under the mutex is what
// subsequent Gets observe.
func (c *Cache) Set(machines []location.MachineLocation, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{Machines: machines, At: now}
}
