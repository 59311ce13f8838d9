package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateAcquireReportsOccupancyAndCapacity(t *testing.T) {
	g := newGate(2)
	release1, stats1, err := g.acquire(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats1.Occupancy)
	require.EqualValues(t, 2, stats1.Capacity)

	release2, stats2, err := g.acquire(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, stats2.Occupancy)

	release1()
	release2()
}

func TestGateReleaseIsIdempotent(t *testing.T) {
	g := newGate(1)
	release, _, err := g.acquire(context.Background())
	require.NoError(t, err)
	release()
	require.NotPanics(t, func() { release() })

	release2, _, err := g.acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestGateAcquireBlocksUntilSlotFreed(t *testing.T) {
	g := newGate(1)
	release, _, err := g.acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, _, err := g.acquire(context.Background())
		require.NoError(t, err)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the first slot is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	wg.Wait()
}

func TestGateAcquireRespectsContextCancellation(t *testing.T) {
	g := newGate(1)
	release, _, err := g.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = g.acquire(ctx)
	require.Error(t, err)
}

func TestNewGateTreatsNonPositiveCapacityAsOne(t *testing.T) {
	g := newGate(0)
	require.EqualValues(t, 1, g.capacity)
}
