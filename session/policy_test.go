package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/config"
	"nexrelay.dev/errs"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/signer"
	"nexrelay.dev/nostr/tag"
	"nexrelay.dev/nostr/timestamp"
	"nexrelay.dev/store"
)

func testSession(t *testing.T, cfg *config.C) (*Session, *store.T) {
	t.Helper()
	st, err := store.Open(t.TempDir(), 8)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	s := New(nil, nil, ippolicy.NewPeer("127.0.0.1"), cfg, st, ippolicy.New(st))
	return s, st
}

func signed(t *testing.T, sg *signer.Signer, k kind.T, tags tag.S) *event.T {
	t.Helper()
	ev := event.New()
	ev.Kind = k
	ev.CreatedAt = timestamp.Now()
	ev.Content = "x"
	if tags != nil {
		ev.Tags = tags
	}
	require.NoError(t, ev.Sign(sg))
	return ev
}

func TestWritePolicyOpenRelayAcceptsAnyone(t *testing.T) {
	s, _ := testSession(t, &config.C{OpenRelay: true})
	sg := &signer.Signer{}
	require.NoError(t, sg.Generate())

	ok, rej := s.decideWrite(signed(t, sg, 1, nil))
	require.True(t, ok)
	require.Nil(t, rej)
}

func TestWritePolicyClosedRelayRequiresAuth(t *testing.T) {
	s, _ := testSession(t, &config.C{OpenRelay: false})
	sg := &signer.Signer{}
	require.NoError(t, sg.Generate())

	ok, rej := s.decideWrite(signed(t, sg, 1, nil))
	require.False(t, ok)
	require.Equal(t, errs.AuthRequired, rej.Code)
}

func TestWritePolicyAuthorizedUserMayPublish(t *testing.T) {
	s, st := testSession(t, &config.C{OpenRelay: false})
	sg := &signer.Signer{}
	require.NoError(t, sg.Generate())
	require.NoError(t, st.SetAuthorizedUser(sg.Pub(), true))

	ev := signed(t, sg, 1, nil)

	// not yet authenticated as that pubkey
	ok, rej := s.decideWrite(ev)
	require.False(t, ok)
	require.Equal(t, errs.AuthRequired, rej.Code)

	s.authedPubkey.Store(hex.Enc(sg.Pub()))
	ok, rej = s.decideWrite(ev)
	require.True(t, ok)
	require.Nil(t, rej)
}

func TestWritePolicyAuthedButUnauthorizedIsRestricted(t *testing.T) {
	s, _ := testSession(t, &config.C{OpenRelay: false})
	sg := &signer.Signer{}
	require.NoError(t, sg.Generate())

	s.authedPubkey.Store(hex.Enc(sg.Pub()))
	ok, rej := s.decideWrite(signed(t, sg, 1, nil))
	require.False(t, ok)
	require.Equal(t, errs.Restricted, rej.Code)
}

func TestWritePolicyAdminAlwaysAccepted(t *testing.T) {
	sg := &signer.Signer{}
	require.NoError(t, sg.Generate())
	cfg := &config.C{OpenRelay: false, AdminHexKeys: []string{hex.Enc(sg.Pub())}}
	s, _ := testSession(t, cfg)

	ok, rej := s.decideWrite(signed(t, sg, 1, nil))
	require.True(t, ok)
	require.Nil(t, rej)
}

func TestWritePolicyModeratorAlwaysAccepted(t *testing.T) {
	s, st := testSession(t, &config.C{OpenRelay: false})
	sg := &signer.Signer{}
	require.NoError(t, sg.Generate())
	require.NoError(t, st.SetModerator(sg.Pub(), true))

	ok, rej := s.decideWrite(signed(t, sg, 1, nil))
	require.True(t, ok)
	require.Nil(t, rej)
}

func TestWritePolicyDMToAuthorizedUser(t *testing.T) {
	s, st := testSession(t, &config.C{OpenRelay: false, AllowDMsToUsers: true})

	recipient := &signer.Signer{}
	require.NoError(t, recipient.Generate())
	require.NoError(t, st.SetAuthorizedUser(recipient.Pub(), true))

	sender := &signer.Signer{}
	require.NoError(t, sender.Generate())
	dm := signed(t, sender, 4, tag.S{tag.T{"p", hex.Enc(recipient.Pub())}})

	ok, rej := s.decideWrite(dm)
	require.True(t, ok)
	require.Nil(t, rej)

	// same event is rejected once DMs to users are disabled
	s2, st2 := testSession(t, &config.C{OpenRelay: false, AllowDMsToUsers: false})
	require.NoError(t, st2.SetAuthorizedUser(recipient.Pub(), true))
	ok, rej = s2.decideWrite(dm)
	require.False(t, ok)
	require.NotNil(t, rej)
}

func TestOverEventRateWindow(t *testing.T) {
	s, _ := testSession(t, &config.C{OpenRelay: true, MaxEventsPerMinute: 3})
	for i := 0; i < 3; i++ {
		require.False(t, s.overEventRate())
	}
	require.True(t, s.overEventRate())
}

func TestOverEventRateDisabledByZero(t *testing.T) {
	s, _ := testSession(t, &config.C{OpenRelay: true})
	for i := 0; i < 100; i++ {
		require.False(t, s.overEventRate())
	}
}
