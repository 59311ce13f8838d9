package session

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// gate is the put/place concurrency bound spec.md §5 describes: a
// counting semaphore covering every put-file and place-file path (not
// put-stream), reporting occupancy and wait time out-of-band for
// telemetry.
type gate struct {
	sem      *semaphore.Weighted
	capacity int64
	occupied atomic.Int64
}

func newGate(capacity int64) *gate {
	if capacity < 1 {
		capacity = 1
	}
	return &gate{sem: semaphore.NewWeighted(capacity), capacity: capacity}
}

// gateStats is the occupancy/wait telemetry attached to a PlaceResult.
type gateStats struct {
	Occupancy int64
	Capacity  int64
	Wait      time.Duration
}

// acquire blocks until a slot is free or ctx is done. The returned
// release func must be called exactly once.
func (g *gate) acquire(ctx context.Context) (release func(), stats gateStats, err error) {
	start := time.Now()
	if err = g.sem.Acquire(ctx, 1); err != nil {
		return nil, gateStats{}, err
	}
	wait := time.Since(start)
	occ := g.occupied.Add(1)
	released := false
	release = func() {
		if released {
			return
		}
		released = true
		g.occupied.Add(-1)
		g.sem.Release(1)
	}
	return release, gateStats{Occupancy: occ, Capacity: g.capacity, Wait: wait}, nil
}
