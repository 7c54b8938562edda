package indexkey_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/store/indexkey"
)

func TestInvertUint64PreservesDescendingOrder(t *testing.T) {
	older := indexkey.InvertUint64(100)
	newer := indexkey.InvertUint64(200)
	// ascending order of the inverted value visits the newer timestamp first
	require.Less(t, newer, older)
}

func TestPubkeyCreatedKindKeySharesPrefixAcrossOffsets(t *testing.T) {
	pk := bytes.Repeat([]byte{0xab}, 32)
	a := indexkey.PubkeyCreatedKindKey(pk, 1000, 1, 1)
	b := indexkey.PubkeyCreatedKindKey(pk, 1000, 1, 2)
	prefix := indexkey.PubkeyCreatedKindPrefix(pk)

	require.True(t, bytes.HasPrefix(a, prefix))
	require.True(t, bytes.HasPrefix(b, prefix))
	require.NotEqual(t, a, b)
}

func TestPubkeyCreatedKindKeyOrdersNewestFirst(t *testing.T) {
	pk := bytes.Repeat([]byte{0xcd}, 32)
	older := indexkey.PubkeyCreatedKindKey(pk, 1000, 1, 1)
	newer := indexkey.PubkeyCreatedKindKey(pk, 2000, 1, 2)

	// lexicographic order of the keys should put the newer event first
	require.Equal(t, -1, bytes.Compare(newer, older))
}

func TestTagKeyAndPrefixMatch(t *testing.T) {
	key := indexkey.TagKey('e', "deadbeef", 1000, 5)
	prefix := indexkey.TagPrefix('e', "deadbeef")
	require.True(t, bytes.HasPrefix(key, prefix))

	other := indexkey.TagPrefix('e', "cafebabe")
	require.False(t, bytes.HasPrefix(key, other))
}

func TestEventApprovalKeyRoundTripsID(t *testing.T) {
	id := bytes.Repeat([]byte{0x42}, 32)
	key := indexkey.EventApprovalKey(id)
	require.True(t, bytes.HasSuffix(key, id))
	require.True(t, bytes.HasPrefix(key, indexkey.PrefixEventApproval))
}
