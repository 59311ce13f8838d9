package session

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	copierfake "github.com/oasisprotocol/contentfleet/go/copier/fake"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	localcasfake "github.com/oasisprotocol/contentfleet/go/localcas/fake"
	"github.com/oasisprotocol/contentfleet/go/location"
	locationfake "github.com/oasisprotocol/contentfleet/go/location/fake"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

func TestPinBulkLocalCASHitRegistersAndSkipsNetwork(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.RespectSkipRegisterHint = true
	})
	putRes, err := rig.session.PutStream(context.Background(), bytes.NewReader([]byte("local content")),
		localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.SkipRegisterContent)
	require.NoError(t, err)
	require.False(t, putRes.Registered)

	results, err := rig.session.PinBulk(context.Background(), []contenthash.Hash{putRes.Hash}, urgency.Normal)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, PinEnoughReplicas, results[0].Kind)
	require.Equal(t, "local CAS hit", results[0].Note)

	entries, err := rig.store.GetBulk(context.Background(), []contenthash.Hash{putRes.Hash}, location.OriginLocal)
	require.NoError(t, err)
	require.Contains(t, entries.Records[0].Entry.Machines, location.MachineLocation("self"))
}

func TestPinBulkEmptyContentShortCircuits(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	results, err := rig.session.PinBulk(context.Background(), []contenthash.Hash{contenthash.EmptyContent}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinEnoughReplicas, results[0].Kind)
	require.Equal(t, "empty content", results[0].Note)
}

func TestPinBulkContentNotFoundWhenNoRecordsExist(t *testing.T) {
	rig := newRig(t, "self", nil, nil)
	unknown := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("never seen anywhere"))

	results, err := rig.session.PinBulk(context.Background(), []contenthash.Hash{unknown}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinContentNotFound, results[0].Kind)
}

func TestPinBulkFastExistencePathReturnsBeforeFullPin(t *testing.T) {
	net := copierfake.NewNetwork()
	rigA := newRig(t, "a", net, func(cfg *Config) {
		cfg.Pin.ReturnGlobalExistenceFast = true
	})
	rigB := newRig(t, "b", net, nil)

	putRes, err := rigB.session.PutStream(context.Background(), bytes.NewReader([]byte("remote content")),
		localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	require.NoError(t, rigA.store.SetEntryMachines(putRes.Hash, putRes.Size, "b"))

	results, err := rigA.session.PinBulk(context.Background(), []contenthash.Hash{putRes.Hash}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinEnoughReplicas, results[0].Kind)
	require.Equal(t, "Global succeeds", results[0].Note)
}

func TestPinBulkSynchronousCopyWhenBelowThreshold(t *testing.T) {
	net := copierfake.NewNetwork()
	rigA := newRig(t, "a", net, func(cfg *Config) {
		cfg.Pin.PinMinUnverifiedCount = 2
	})
	rigB := newRig(t, "b", net, nil)

	putRes, err := rigB.session.PutStream(context.Background(), bytes.NewReader([]byte("one replica only")),
		localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	require.NoError(t, rigA.store.SetEntryMachines(putRes.Hash, putRes.Size, "b"))
	net.Seed("b", putRes.Hash, []byte("one replica only"))

	results, err := rigA.session.PinBulk(context.Background(), []contenthash.Hash{putRes.Hash}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinSynchronousCopy, results[0].Kind)
	require.True(t, results[0].CopiedLocally)

	entries, err := rigA.store.GetBulk(context.Background(), []contenthash.Hash{putRes.Hash}, location.OriginLocal)
	require.NoError(t, err)
	require.Contains(t, entries.Records[0].Entry.Machines, location.MachineLocation("a"))
}

func TestPinBulkGlobalStageReportsContentNotFoundWhenNoCandidates(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.Pin.PinMinUnverifiedCount = 2
	})
	unknown := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("truly nowhere"))

	results, err := rig.session.PinBulk(context.Background(), []contenthash.Hash{unknown}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinContentNotFound, results[0].Kind)
	require.Equal(t, "No remote records", results[0].Note)
}

func TestPinBulkGlobalStageDistinguishesKnownEmptyFromNeverRegistered(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.Pin.PinMinUnverifiedCount = 2
	})
	knownEmpty := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("known but all replicas gone"))
	require.NoError(t, rig.store.SetEntryMachines(knownEmpty, 0))

	results, err := rig.session.PinBulk(context.Background(), []contenthash.Hash{knownEmpty}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinContentNotFound, results[0].Kind)
	require.Equal(t, "No surviving replicas", results[0].Note)
}

func TestPinBulkUseLocalLocationsOnlyOnUnverifiedPinSkipsGlobal(t *testing.T) {
	rig := newRig(t, "self", nil, func(cfg *Config) {
		cfg.Pin.UseLocalLocationsOnlyOnUnverifiedPin = true
		cfg.Pin.PinMinUnverifiedCount = 2
	})
	unknown := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("local-only check"))

	results, err := rig.session.PinBulk(context.Background(), []contenthash.Hash{unknown}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinContentNotFound, results[0].Kind)
	require.Equal(t, "local-only pin below threshold", results[0].Note)
}

func TestPinBulkSkipRegisterHintRespectedOnSynchronousCopy(t *testing.T) {
	net := copierfake.NewNetwork()
	rigA := newRig(t, "a", net, func(cfg *Config) {
		cfg.Pin.RespectSkipRegisterHint = true
		cfg.Pin.PinMinUnverifiedCount = 2
	})
	rigB := newRig(t, "b", net, nil)

	putRes, err := rigB.session.PutStream(context.Background(), bytes.NewReader([]byte("skip register on pin")),
		localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	require.NoError(t, rigA.store.SetEntryMachines(putRes.Hash, putRes.Size, "b"))
	net.Seed("b", putRes.Hash, []byte("skip register on pin"))

	results, err := rigA.session.PinBulk(context.Background(), []contenthash.Hash{putRes.Hash}, urgency.SkipRegisterContent)
	require.NoError(t, err)
	require.Equal(t, PinSynchronousCopy, results[0].Kind)

	entries, err := rigA.store.GetBulk(context.Background(), []contenthash.Hash{putRes.Hash}, location.OriginLocal)
	require.NoError(t, err)
	require.NotContains(t, entries.Records[0].Entry.Machines, location.MachineLocation("a"))
}

func TestPinBulkBelowAsyncCopyThresholdReturnsAsynchronousCopyAndTopsUp(t *testing.T) {
	net := copierfake.NewNetwork()
	rigA := newRig(t, "a", net, func(cfg *Config) {
		cfg.Pin.PinMinUnverifiedCount = 1
		cfg.Pin.AsyncCopyOnPinThreshold = 1
	})
	rigB := newRig(t, "b", net, nil)

	content := []byte("async top-up source")
	putRes, err := rigB.session.PutStream(context.Background(), bytes.NewReader(content),
		localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	require.NoError(t, rigA.store.SetEntryMachines(putRes.Hash, putRes.Size, "b"))
	net.Seed("b", putRes.Hash, content)

	results, err := rigA.session.PinBulk(context.Background(), []contenthash.Hash{putRes.Hash}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinAsynchronousCopy, results[0].Kind, "one known replica below pin_min_unverified_count+async_copy_on_pin_threshold must top up asynchronously")

	// InlineOperationsForTests (set by newRig) awaits scheduleAsyncTopUp
	// inline, so by the time PinBulk returns, "a" must already be
	// registered as an additional replica.
	entries, err := rigA.store.GetBulk(context.Background(), []contenthash.Hash{putRes.Hash}, location.OriginLocal)
	require.NoError(t, err)
	require.Contains(t, entries.Records[0].Entry.Machines, location.MachineLocation("a"))
}

// failRegisterStore wraps a reference directory but fails every
// RegisterLocalLocation call, so a test can drive scheduleAsyncTopUp's
// registration-failure branch (spec.md §7: a registration failure
// after a successful copy is surfaced, not rolled back) without
// needing the fake store to support injected faults itself.
type failRegisterStore struct {
	*locationfake.Store
}

func (f *failRegisterStore) RegisterLocalLocation(context.Context, []contenthash.WithSize, urgency.Urgency) error {
	return errors.New("directory unavailable")
}

func TestPinBulkAsyncTopUpRegistrationFailureKeepsLocalCopy(t *testing.T) {
	net := copierfake.NewNetwork()
	rigB := newRig(t, "b", net, nil)

	content := []byte("async top-up source, registration fails")
	putRes, err := rigB.session.PutStream(context.Background(), bytes.NewReader(content),
		localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)
	net.Seed("b", putRes.Hash, content)

	cas, err := localcasfake.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cas.Close() })
	store, err := locationfake.Open(t.TempDir(), "a")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.SetEntryMachines(putRes.Hash, putRes.Size, "b"))
	failingStore := &failRegisterStore{Store: store}

	cfg := DefaultConfig()
	cfg.InlineOperationsForTests = true
	cfg.Pin.PinMinUnverifiedCount = 1
	cfg.Pin.AsyncCopyOnPinThreshold = 1

	s := New(cas, failingStore, copierfake.New(net, "a"), cfg, context.Background())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	results, err := s.PinBulk(context.Background(), []contenthash.Hash{putRes.Hash}, urgency.Normal)
	require.NoError(t, err)
	require.Equal(t, PinAsynchronousCopy, results[0].Kind)

	pinOut, err := cas.Pin(context.Background(), putRes.Hash, urgency.Normal)
	require.NoError(t, err)
	require.True(t, pinOut.Hit, "the local copy must survive a failed top-up registration, per spec.md §7")
}
