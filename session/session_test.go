package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/localcas"
)

func TestSessionStartTwiceFails(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	err := rig.session.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestSessionOperationsFailBeforeStart(t *testing.T) {
	s := New(nil, nil, nil, DefaultConfig(), context.Background())
	_, err := s.PinBulk(context.Background(), nil, 0)
	require.ErrorIs(t, err, ErrNotRunning)
	_, err = s.PlaceBulk(context.Background(), nil, 0, 0, 0, 0)
	require.ErrorIs(t, err, ErrNotRunning)
	_, err = s.PutStream(context.Background(), nil, localcas.PutSpec{}, 0)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestSessionOperationsFailAfterShutdown(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	require.NoError(t, rig.session.Shutdown(context.Background()))
	_, err := rig.session.PinBulk(context.Background(), nil, 0)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestSessionShutdownIsIdempotent(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	require.NoError(t, rig.session.Shutdown(context.Background()))
	require.NoError(t, rig.session.Shutdown(context.Background()))
}

func TestSessionSnapshotReportsGateAndInFlight(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.MaxConcurrentPutAndPlaceFileOperations = 3
	})
	snap := rig.session.Snapshot()
	require.EqualValues(t, 0, snap.GateOccupancy)
	require.EqualValues(t, 3, snap.GateCapacity)
	require.Equal(t, 0, snap.InFlightCount)
	require.False(t, snap.RingKnown)
}
