package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/location"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

func TestGetLocationsYieldsLocalThenGlobalInOrder(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("lookup me"))

	var stages []lookupStage
	err := rig.session.getLocations(context.Background(), []contenthash.Hash{h}, urgency.Normal, func(sr stageResult) error {
		stages = append(stages, sr.Stage)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []lookupStage{stageLocal, stageGlobal}, stages)
}

func TestGetLocationsPreservesLengthAndOrderAcrossEmptyContentHash(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	real := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("real content"))

	hashes := []contenthash.Hash{contenthash.EmptyContent, real}
	var globalResult location.BulkResult
	err := rig.session.getLocations(context.Background(), hashes, urgency.Normal, func(sr stageResult) error {
		if sr.Stage == stageGlobal {
			globalResult = sr.Result
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, globalResult.Records, 2)
	require.Equal(t, contenthash.EmptyContent, globalResult.Records[0].Hash)
	require.True(t, globalResult.Records[0].Entry.NeverRegistered())
	require.Equal(t, real, globalResult.Records[1].Hash)
}

func TestGetLocationsGlobalStageSubtractsLocalMachines(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("subtract me"))
	require.NoError(t, rig.store.SetEntryMachines(h, 5, "self", "b"))

	var globalResult location.BulkResult
	err := rig.session.getLocations(context.Background(), []contenthash.Hash{h}, urgency.Normal, func(sr stageResult) error {
		if sr.Stage == stageGlobal {
			globalResult = sr.Result
		}
		return nil
	})
	require.NoError(t, err)
	rec, ok := globalResult.Get(h)
	require.True(t, ok)
	// The fake directory answers both stages from the same record, so the
	// local stage already reported "self" and "b" and nothing is left.
	require.NotContains(t, rec.Entry.Machines, location.MachineLocation("self"))
	require.NotContains(t, rec.Entry.Machines, location.MachineLocation("b"))
}

func TestGetLocationsStopsEarlyWhenYieldErrors(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("stop early"))

	calls := 0
	err := rig.session.getLocations(context.Background(), []contenthash.Hash{h}, urgency.Normal, func(sr stageResult) error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls, "a failing yield on the local stage must prevent the global stage from ever running")
}

func TestQueryStageDegradesOnStoreFailureWithoutPropagatingError(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("store about to go away"))

	require.NoError(t, rig.store.Close())

	result := rig.session.queryStage(context.Background(), []contenthash.Hash{h}, []contenthash.Hash{h}, location.OriginLocal)
	require.Len(t, result.Records, 1)
	require.True(t, result.Records[0].Entry.NeverRegistered())
}

func TestQueryStageReflectsColdStorageOrigin(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("cold only"))
	require.NoError(t, rig.store.SetEntryMachines(h, 3, "somewhere"))
	rig.store.SetColdStorageOnly(h)

	local := rig.session.queryStage(context.Background(), []contenthash.Hash{h}, []contenthash.Hash{h}, location.OriginLocal)
	require.True(t, local.Records[0].Entry.NeverRegistered())

	global := rig.session.queryStage(context.Background(), []contenthash.Hash{h}, []contenthash.Hash{h}, location.OriginGlobal)
	require.Equal(t, location.OriginColdStorage, global.Origin)
	require.Contains(t, global.Records[0].Entry.Machines, location.MachineLocation("somewhere"))
}
