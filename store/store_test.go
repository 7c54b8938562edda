package store_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/bus"
	"nexrelay.dev/errs"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/filter"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/signer"
	"nexrelay.dev/nostr/tag"
	"nexrelay.dev/nostr/timestamp"
	"nexrelay.dev/store"
	"nexrelay.dev/store/indexkey"
)

func openStore(t *testing.T) *store.T {
	t.Helper()
	st, err := store.Open(t.TempDir(), 16)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func newSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	return s
}

func signedEvent(t *testing.T, s *signer.Signer, k kind.T, createdAt int64, content string, tags tag.S) *event.T {
	t.Helper()
	ev := event.New()
	ev.Kind = k
	ev.CreatedAt = timestamp.T(createdAt)
	ev.Content = content
	if tags != nil {
		ev.Tags = tags
	}
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestStoreAndFindByID(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, 1, time.Now().Unix(), "hello", nil)

	off, err := st.StoreEvent(ev)
	require.NoError(t, err)

	f := filter.New()
	f.IDs = []string{hex.Enc(ev.ID)}
	evs, err := st.FindEvents(f, false, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, ev.ID, evs[0].ID)

	got, err := st.GetEventByOffset(off)
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
}

func TestStoreRejectsDuplicate(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, 1, time.Now().Unix(), "once", nil)

	_, err := st.StoreEvent(ev)
	require.NoError(t, err)

	_, err = st.StoreEvent(ev)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	require.Equal(t, errs.Duplicate, e.Code)
}

func TestReplaceableKeepsOnlyNewest(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	older := signedEvent(t, s, kind.Metadata, 100, `{"name":"old"}`, nil)
	newer := signedEvent(t, s, kind.Metadata, 200, `{"name":"new"}`, nil)

	_, err := st.StoreEvent(older)
	require.NoError(t, err)
	_, err = st.StoreEvent(newer)
	require.NoError(t, err)

	f := filter.New()
	f.Authors = []string{hex.Enc(s.Pub())}
	f.Kinds = []kind.T{kind.Metadata}
	evs, err := st.FindEvents(f, false, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, newer.ID, evs[0].ID)
}

func TestReplaceableRejectsOlder(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	newer := signedEvent(t, s, kind.Metadata, 200, `{"name":"new"}`, nil)
	older := signedEvent(t, s, kind.Metadata, 100, `{"name":"old"}`, nil)

	_, err := st.StoreEvent(newer)
	require.NoError(t, err)

	_, err = st.StoreEvent(older)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	require.Equal(t, errs.Superseded, e.Code)
}

func TestReplaceableTieBrokenBySmallerID(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	// same pubkey, kind and created_at; only the ids differ
	a := signedEvent(t, s, kind.Metadata, 100, `{"name":"a"}`, nil)
	b := signedEvent(t, s, kind.Metadata, 100, `{"name":"b"}`, nil)

	smaller, larger := a, b
	if bytes.Compare(b.ID, a.ID) < 0 {
		smaller, larger = b, a
	}

	_, err := st.StoreEvent(smaller)
	require.NoError(t, err)

	// the larger id loses the tie regardless of arrival order
	_, err = st.StoreEvent(larger)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	require.Equal(t, errs.Superseded, e.Code)

	f := filter.New()
	f.Authors = []string{hex.Enc(s.Pub())}
	f.Kinds = []kind.T{kind.Metadata}
	evs, err := st.FindEvents(f, false, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, smaller.ID, evs[0].ID)
}

func TestReplaceableTieSmallerIDReplacesLarger(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	a := signedEvent(t, s, kind.Metadata, 100, `{"name":"a"}`, nil)
	b := signedEvent(t, s, kind.Metadata, 100, `{"name":"b"}`, nil)

	smaller, larger := a, b
	if bytes.Compare(b.ID, a.ID) < 0 {
		smaller, larger = b, a
	}

	_, err := st.StoreEvent(larger)
	require.NoError(t, err)
	_, err = st.StoreEvent(smaller)
	require.NoError(t, err)

	f := filter.New()
	f.Authors = []string{hex.Enc(s.Pub())}
	f.Kinds = []kind.T{kind.Metadata}
	evs, err := st.FindEvents(f, false, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, smaller.ID, evs[0].ID)
}

func TestParamReplaceableKeyedByDTag(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	a := signedEvent(t, s, 30000, 100, "list a", tag.S{tag.T{"d", "a"}})
	other := signedEvent(t, s, 30000, 100, "list b", tag.S{tag.T{"d", "b"}})

	_, err := st.StoreEvent(a)
	require.NoError(t, err)
	// a different d value is a different replacement slot, same created_at
	_, err = st.StoreEvent(other)
	require.NoError(t, err)

	f := filter.New()
	f.Authors = []string{hex.Enc(s.Pub())}
	f.Kinds = []kind.T{30000}
	evs, err := st.FindEvents(f, false, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 2)
}

func TestRemoveEventDropsAllIndices(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, 1, time.Now().Unix(), "doomed", tag.S{tag.T{"t", "topic"}})

	_, err := st.StoreEvent(ev)
	require.NoError(t, err)
	require.NoError(t, st.RemoveEvent(ev.ID))

	byID := filter.New()
	byID.IDs = []string{hex.Enc(ev.ID)}
	evs, err := st.FindEvents(byID, false, 0, 0, nil)
	require.NoError(t, err)
	require.Empty(t, evs)

	byTag := filter.New()
	byTag.Tags["t"] = []string{"topic"}
	evs, err = st.FindEvents(byTag, false, 0, 0, nil)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestApprovalOverlayHidesBanned(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, 1, time.Now().Unix(), "moderated", nil)

	_, err := st.StoreEvent(ev)
	require.NoError(t, err)
	require.NoError(t, st.MarkEventApproval(ev.ID, false))

	f := filter.New()
	f.IDs = []string{hex.Enc(ev.ID)}

	evs, err := st.FindEvents(f, true, 0, 0, nil)
	require.NoError(t, err)
	require.Empty(t, evs)

	// moderation overlays don't apply when the caller opts out
	evs, err = st.FindEvents(f, false, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	require.Contains(t, hexStrings(st.ListBannedEvents()), hex.Enc(ev.ID))
}

func TestPubkeyApprovalOverlay(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	ev := signedEvent(t, s, 1, time.Now().Unix(), "from banned author", nil)

	_, err := st.StoreEvent(ev)
	require.NoError(t, err)
	require.NoError(t, st.MarkPubkeyApproval(ev.Pubkey, false))

	f := filter.New()
	f.Kinds = []kind.T{1}
	evs, err := st.FindEvents(f, true, 0, 0, nil)
	require.NoError(t, err)
	require.Empty(t, evs)

	require.Contains(t, hexStrings(st.ListBannedPubkeys()), hex.Enc(ev.Pubkey))
}

func TestStorePublishesOffsetOnBus(t *testing.T) {
	st := openStore(t)
	sub := st.Bus().Subscribe()
	defer st.Bus().Unsubscribe(sub)

	s := newSigner(t)
	ev := signedEvent(t, s, 1, time.Now().Unix(), "broadcast me", nil)
	off, err := st.StoreEvent(ev)
	require.NoError(t, err)

	select {
	case m := <-sub.Recv():
		require.Equal(t, bus.Offset(off), m.Offset)
	case <-time.After(time.Second):
		t.Fatal("no bus notification after store")
	}
}

func TestModeratorAndAuthorizedUserRows(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)
	pk := s.Pub()

	require.False(t, st.IsModerator(pk))
	require.NoError(t, st.SetModerator(pk, true))
	require.True(t, st.IsModerator(pk))
	require.Contains(t, hexStrings(st.ListModerators()), hex.Enc(pk))

	require.NoError(t, st.SetModerator(pk, false))
	require.False(t, st.IsModerator(pk))

	require.NoError(t, st.SetAuthorizedUser(pk, true))
	require.True(t, st.IsAuthorizedUser(pk))
	require.Contains(t, hexStrings(st.ListAuthorizedUsers()), hex.Enc(pk))
}

func TestIPDataRoundTrip(t *testing.T) {
	st := openStore(t)

	d, err := st.GetIPData("10.0.0.1")
	require.NoError(t, err)
	require.Zero(t, d.BanUntil)

	d.Counts[ippolicy.BadProtocol] = 3
	d.BanUntil = time.Now().Add(time.Hour).Unix()
	require.NoError(t, st.SetIPData("10.0.0.1", d))

	got, err := st.GetIPData("10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, d.Counts, got.Counts)
	require.Equal(t, d.BanUntil, got.BanUntil)
}

func TestFindEventsHonoursSinceOffsetAndLimit(t *testing.T) {
	st := openStore(t)
	s := newSigner(t)

	var offsets []uint64
	for i := 0; i < 5; i++ {
		ev := signedEvent(t, s, 1, int64(1000+i), "note", nil)
		off, err := st.StoreEvent(ev)
		require.NoError(t, err)
		offsets = append(offsets, uint64(off))
	}

	f := filter.New()
	f.Kinds = []kind.T{1}

	evs, err := st.FindEvents(f, false, 0, 2, nil)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	// newest first
	require.True(t, evs[0].CreatedAt > evs[1].CreatedAt)

	// only events at or after the third offset
	evs, err = st.FindEvents(f, false, indexkey.Offset(offsets[2]), 0, nil)
	require.NoError(t, err)
	require.Len(t, evs, 3)
}

func hexStrings(rows [][]byte) (out []string) {
	for _, b := range rows {
		out = append(out, hex.Enc(b))
	}
	return
}
