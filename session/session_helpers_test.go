package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	copierfake "github.com/oasisprotocol/contentfleet/go/copier/fake"
	localcasfake "github.com/oasisprotocol/contentfleet/go/localcas/fake"
	"github.com/oasisprotocol/contentfleet/go/location"
	locationfake "github.com/oasisprotocol/contentfleet/go/location/fake"
)

// testRig bundles one machine's worth of reference backends plus the
// shared network they talk across, so tests can stand up a second
// machine to exercise copy/pin/proactive-copy fallbacks against.
type testRig struct {
	t       *testing.T
	net     *copierfake.Network
	session *Session
	cas     *localcasfake.Backend
	store   *locationfake.Store
}

func newRig(t *testing.T, self location.MachineLocation, net *copierfake.Network, configure func(*Config)) *testRig {
	t.Helper()
	if net == nil {
		net = copierfake.NewNetwork()
	}
	cas, err := localcasfake.Open(t.TempDir())
	require.NoError(t, err)
	store, err := locationfake.Open(t.TempDir(), self)
	require.NoError(t, err)
	cp := copierfake.New(net, self)

	cfg := DefaultConfig()
	cfg.InlineOperationsForTests = true
	if configure != nil {
		configure(&cfg)
	}

	ctx := context.Background()
	s := New(cas, store, cp, cfg, ctx)
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		cas.Close()
		store.Close()
	})

	return &testRig{t: t, net: net, session: s, cas: cas, store: store}
}
