package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/signer"
	"nexrelay.dev/nostr/tag"
	"nexrelay.dev/nostr/timestamp"
)

func signedEvent(t *testing.T) *event.T {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = kind.T(1)
	ev.Content = "hello"
	ev.Tags = tag.S{tag.T{"t", "test"}}
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	ev := signedEvent(t)
	valid, err := ev.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	ev := signedEvent(t)
	b, err := ev.Marshal()
	require.NoError(t, err)

	got, err := event.Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, ev.Pubkey, got.Pubkey)
	require.Equal(t, ev.Content, got.Content)
	require.Equal(t, ev.Tags, got.Tags)

	valid, err := got.Verify()
	require.NoError(t, err)
	require.True(t, valid)
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	ev := signedEvent(t)
	ev.Content = "tampered"
	_, err := ev.Verify()
	require.Error(t, err)
}

func TestReplaceableKey(t *testing.T) {
	ev := signedEvent(t)
	ev.Kind = kind.T(0) // metadata, replaceable
	pk, k, d, ok := ev.ReplaceableKey()
	require.True(t, ok)
	require.Equal(t, kind.T(0), k)
	require.Equal(t, "", d)
	require.NotEmpty(t, pk)

	ev.Kind = kind.T(30000) // parameterized replaceable
	ev.Tags = tag.S{tag.T{"d", "my-list"}}
	_, _, d, ok = ev.ReplaceableKey()
	require.True(t, ok)
	require.Equal(t, "my-list", d)

	ev.Kind = kind.T(1) // plain, not replaceable
	_, _, _, ok = ev.ReplaceableKey()
	require.False(t, ok)
}
