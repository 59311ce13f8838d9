package fake_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/localcas/fake"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

func openBackend(t *testing.T) *fake.Backend {
	t.Helper()
	b, err := fake.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

func TestBackendPutStreamUntrustedHashesAndDedups(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	content := []byte("hello world")

	res, err := b.PutStream(ctx, bytes.NewReader(content), localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)
	require.False(t, res.AlreadyContained)
	sum := sha256.Sum256(content)
	require.Equal(t, contenthash.FromBytes(contenthash.HashTypeSHA256, sum[:]), res.Hash)
	require.EqualValues(t, len(content), res.Size)

	res2, err := b.PutStream(ctx, bytes.NewReader(content), localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)
	require.True(t, res2.AlreadyContained)
}

func TestBackendPutStreamTrustedMismatchRejected(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	wrong := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte("not the real digest, but 32 byt"))

	res, err := b.PutStream(ctx, bytes.NewReader([]byte("actual content")), localcas.PutSpec{Hash: &wrong}, urgency.Normal)
	require.NoError(t, err)
	require.True(t, res.ContentMismatched)
}

func TestBackendPlaceFileMissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	h := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{1})

	out, err := b.PlaceFile(ctx, h, filepath.Join(t.TempDir(), "out"), localcas.AccessReadOnly, localcas.ReplacementFailIfExists, localcas.RealizationCopy, urgency.Normal)
	require.NoError(t, err)
	require.False(t, out.Placed)
}

func TestBackendPlaceFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	content := []byte("placed content")

	putRes, err := b.PutStream(ctx, bytes.NewReader(content), localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "nested", "out")
	out, err := b.PlaceFile(ctx, putRes.Hash, dest, localcas.AccessReadOnly, localcas.ReplacementFailIfExists, localcas.RealizationCopy, urgency.Normal)
	require.NoError(t, err)
	require.True(t, out.Placed)
	require.Equal(t, localcas.PlaceSourceLocal, out.Source)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestBackendPlaceFileFailIfExistsRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	putRes, err := b.PutStream(ctx, bytes.NewReader([]byte("a")), localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	_, err = b.PlaceFile(ctx, putRes.Hash, dest, localcas.AccessReadOnly, localcas.ReplacementFailIfExists, localcas.RealizationCopy, urgency.Normal)
	require.NoError(t, err)

	_, err = b.PlaceFile(ctx, putRes.Hash, dest, localcas.AccessReadOnly, localcas.ReplacementFailIfExists, localcas.RealizationCopy, urgency.Normal)
	require.Error(t, err)
}

func TestBackendEmptyContentAlwaysPlacesWithoutStorage(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	dest := filepath.Join(t.TempDir(), "empty")

	out, err := b.PlaceFile(ctx, contenthash.EmptyContent, dest, localcas.AccessReadOnly, localcas.ReplacementFailIfExists, localcas.RealizationCopy, urgency.Normal)
	require.NoError(t, err)
	require.True(t, out.Placed)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBackendPinReportsHitOnlyWhenPresent(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	missing := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{7})

	out, err := b.Pin(ctx, missing, urgency.Normal)
	require.NoError(t, err)
	require.False(t, out.Hit)

	putRes, err := b.PutStream(ctx, bytes.NewReader([]byte("pinned")), localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)
	out, err = b.Pin(ctx, putRes.Hash, urgency.Normal)
	require.NoError(t, err)
	require.True(t, out.Hit)
}

func TestBackendOpenStreamEvictedAfterEvictNow(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	putRes, err := b.PutStream(ctx, bytes.NewReader([]byte("stream me")), localcas.PutSpec{Type: contenthash.HashTypeSHA256}, urgency.Normal)
	require.NoError(t, err)

	res, err := b.OpenStream(ctx, putRes.Hash)
	require.NoError(t, err)
	require.False(t, res.Evicted)
	require.NoError(t, res.Stream.Close())

	b.EvictNow(putRes.Hash)
	res, err = b.OpenStream(ctx, putRes.Hash)
	require.NoError(t, err)
	require.True(t, res.Evicted)
}

func TestBackendOpenStreamMissingIsError(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t)
	missing := contenthash.FromBytes(contenthash.HashTypeSHA256, []byte{9})

	_, err := b.OpenStream(ctx, missing)
	require.Error(t, err)
}

func TestBackendCapabilities(t *testing.T) {
	b := openBackend(t)
	caps := b.Capabilities()
	require.True(t, caps.TrustedPut)
	require.True(t, caps.Hibernation)
}
