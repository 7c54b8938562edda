package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/filter"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/signer"
	"nexrelay.dev/nostr/tag"
	"nexrelay.dev/nostr/timestamp"
)

func newSignedNote(t *testing.T, content string, tags tag.S) *event.T {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = kind.T(1)
	ev.Content = content
	ev.Tags = tags
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestMatchesKind(t *testing.T) {
	ev := newSignedNote(t, "hi", nil)

	f := filter.New()
	f.Kinds = []kind.T{1}
	require.True(t, f.Matches(ev))

	f.Kinds = []kind.T{2}
	require.False(t, f.Matches(ev))
}

func TestMatchesTagConstraint(t *testing.T) {
	ev := newSignedNote(t, "hi", tag.S{tag.T{"t", "nostr"}})

	f := filter.New()
	f.Tags["t"] = []string{"nostr"}
	require.True(t, f.Matches(ev))

	f.Tags["t"] = []string{"bitcoin"}
	require.False(t, f.Matches(ev))
}

func TestMatchesAuthorPrefix(t *testing.T) {
	ev := newSignedNote(t, "hi", nil)
	full := ev.Pubkey

	f := filter.New()
	f.Authors = []string{hexPrefix(full, 8)}
	require.True(t, f.Matches(ev))
}

func hexPrefix(b []byte, n int) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, n)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xf])
		if len(out) >= n {
			break
		}
	}
	return string(out[:n])
}

func TestPlanPrefersIDsOverEverythingElse(t *testing.T) {
	f := filter.New()
	f.IDs = []string{hexPrefix(make([]byte, 32), 64)}
	f.Authors = []string{hexPrefix(make([]byte, 32), 64)}
	require.Equal(t, filter.ScanIDs, f.Plan().Kind)
}

func TestPlanPrefixIDsFallThrough(t *testing.T) {
	f := filter.New()
	f.IDs = []string{"abcd"}
	// a prefix id can't be served by the id index; the full-author index is
	// the next best candidate
	f.Authors = []string{hexPrefix(make([]byte, 32), 64)}
	require.Equal(t, filter.ScanAuthorsKinds, f.Plan().Kind)

	f.Authors = nil
	require.Equal(t, filter.ScanCreatedAt, f.Plan().Kind)
}

func TestPlanFullAuthorBeatsTag(t *testing.T) {
	f := filter.New()
	full := make([]byte, 32)
	hex := hexPrefix(full, 64)
	f.Authors = []string{hex}
	f.Tags["e"] = []string{"deadbeef"}
	require.Equal(t, filter.ScanAuthorsKinds, f.Plan().Kind)
}

func TestPlanPrefixAuthorsFallThrough(t *testing.T) {
	f := filter.New()
	f.Authors = []string{hexPrefix(make([]byte, 32), 64), "abcd"}
	// one prefix author means the pubkey index can't serve the whole set
	require.Equal(t, filter.ScanCreatedAt, f.Plan().Kind)
}

func TestPlanFallsBackToCreatedAt(t *testing.T) {
	f := filter.New()
	require.Equal(t, filter.ScanCreatedAt, f.Plan().Kind)
}

func TestFingerprintIgnoresLimitAndOrder(t *testing.T) {
	a := filter.New()
	a.Kinds = []kind.T{3, 1}
	lim := 10
	a.Limit = &lim

	b := filter.New()
	b.Kinds = []kind.T{1, 3}
	lim2 := 20
	b.Limit = &lim2

	require.True(t, a.Equal(b))
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f := filter.New()
	f.Kinds = []kind.T{1}
	f.Tags["p"] = []string{"abc"}
	b, err := f.Marshal()
	require.NoError(t, err)

	got, err := filter.Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, f.Kinds, got.Kinds)
	require.Equal(t, f.Tags["p"], got.Tags["p"])
}

func TestIsScrapeCandidate(t *testing.T) {
	f := filter.New()
	require.True(t, f.IsScrapeCandidate())

	f.Kinds = []kind.T{1}
	require.True(t, f.IsScrapeCandidate())

	f.IDs = []string{"abcd"}
	require.False(t, f.IsScrapeCandidate())
}
