package blossom_test

import (
	"bytes"
	"io"
	"testing"

	sha256 "github.com/minio/sha256-simd"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"nexrelay.dev/blossom"
	"nexrelay.dev/errs"
	"nexrelay.dev/nostr/hex"
)

func openBlobs(t *testing.T) *blossom.T {
	t.Helper()
	b, err := blossom.Open(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	blobs := openBlobs(t)
	payload := frand.Bytes(4096)
	sum := sha256.Sum256(payload)

	meta, err := blobs.Store(bytes.NewReader(payload), "")
	require.NoError(t, err)
	require.Equal(t, hex.Enc(sum[:]), meta.Hash)
	require.Equal(t, int64(len(payload)), meta.Size)

	f, size, err := blobs.Retrieve(meta.Hash)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, int64(len(payload)), size)

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	m, err := blobs.Metadata(meta.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), m.Size)
}

func TestStoreVerifiesExpectedHash(t *testing.T) {
	blobs := openBlobs(t)
	payload := []byte("some bytes")
	wrong := bytes.Repeat([]byte{0xff}, 32)

	_, err := blobs.Store(bytes.NewReader(payload), hex.Enc(wrong))
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	require.Equal(t, errs.HashMismatch, e.Code)
}

func TestStoreIsIdempotentForSameContent(t *testing.T) {
	blobs := openBlobs(t)
	payload := []byte("same content twice")

	first, err := blobs.Store(bytes.NewReader(payload), "")
	require.NoError(t, err)
	second, err := blobs.Store(bytes.NewReader(payload), "")
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.Hash)
}

func TestDeleteRemovesBlob(t *testing.T) {
	blobs := openBlobs(t)
	payload := []byte("short lived")

	meta, err := blobs.Store(bytes.NewReader(payload), "")
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(meta.Hash))

	_, err = blobs.Metadata(meta.Hash)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	require.Equal(t, errs.NotFound, e.Code)

	// deleting again reports not found, not an io error
	err = blobs.Delete(meta.Hash)
	e, ok = err.(*errs.E)
	require.True(t, ok)
	require.Equal(t, errs.NotFound, e.Code)
}

func TestSniffedContentType(t *testing.T) {
	blobs := openBlobs(t)
	// a minimal PNG header is enough for sniffing
	payload := append([]byte("\x89PNG\r\n\x1a\n"), frand.Bytes(64)...)

	meta, err := blobs.Store(bytes.NewReader(payload), "")
	require.NoError(t, err)
	require.Equal(t, "image/png", meta.MimeType)
}
