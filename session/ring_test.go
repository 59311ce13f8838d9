package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/location"
)

func TestBuildIDHashIsDeterministic(t *testing.T) {
	a := buildIDHash([]byte("build-one"))
	b := buildIDHash([]byte("build-one"))
	require.True(t, a.Equal(b))
	require.Equal(t, contenthash.HashTypeSynthetic, a.Type)

	c := buildIDHash([]byte("build-two"))
	require.False(t, a.Equal(c))
}

func TestBuildIDLabelIsDeterministicAndReadable(t *testing.T) {
	a := buildIDLabel([]byte("build-one"))
	b := buildIDLabel([]byte("build-one"))
	require.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestStartRingTrackingRegistersSelfUnderBuildIDHash(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.BuildID = []byte("a build id")
	})
	require.NotNil(t, rig.session.buildIDHash)
	h := buildIDHash([]byte("a build id"))
	require.True(t, rig.session.buildIDHash.Equal(h))

	entries, err := rig.store.GetBulk(context.Background(), []contenthash.Hash{h}, location.OriginLocal)
	require.NoError(t, err)
	require.Contains(t, entries.Records[0].Entry.Machines, location.MachineLocation("self"))
}

func TestRefreshRingReturnsNilWithoutBuildID(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	members, err := rig.session.refreshRing(context.Background())
	require.NoError(t, err)
	require.Nil(t, members)
}

func TestRefreshRingIncludesSelfEvenWhenDirectoryOmitsIt(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.BuildID = []byte("ring build")
	})
	h := *rig.session.buildIDHash
	// Overwrite what startRingTracking wrote so the directory's answer
	// for this build's ring omits "self" entirely.
	require.NoError(t, rig.store.SetEntryMachines(h, 1, "other"))

	members, err := rig.session.refreshRing(context.Background())
	require.NoError(t, err)
	require.Contains(t, members, location.MachineLocation("self"))
	require.Contains(t, members, location.MachineLocation("other"))
}

func TestRefreshRingServesCachedSnapshotWithinTTL(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.BuildID = []byte("ttl build")
		cfg.ProactiveCopyInRingCacheTTL = time.Hour
	})
	h := *rig.session.buildIDHash

	first, err := rig.session.refreshRing(context.Background())
	require.NoError(t, err)

	// Mutate the directory directly; a fresh cache entry means
	// refreshRing must keep answering from the cached snapshot rather
	// than re-querying.
	require.NoError(t, rig.store.SetEntryMachines(h, 1, "self", "someone-else"))

	second, err := rig.session.refreshRing(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestStopRingTrackingClearsBuildIDHash(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.BuildID = []byte("stop build")
	})
	require.NotNil(t, rig.session.buildIDHash)
	require.NoError(t, rig.session.Shutdown(context.Background()))
	require.Nil(t, rig.session.buildIDHash)
}
