package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/nostr/envelope"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/signer"
	"nexrelay.dev/nostr/timestamp"
)

func TestSniffRoutesByLabel(t *testing.T) {
	label, rest, err := envelope.Sniff([]byte(`["REQ","sub1",{"kinds":[1]}]`))
	require.NoError(t, err)
	require.Equal(t, envelope.ReqLabel, label)
	require.Len(t, rest, 2)
}

func TestSniffRejectsNonArray(t *testing.T) {
	_, _, err := envelope.Sniff([]byte(`{"not":"an array"}`))
	require.Error(t, err)

	_, _, err = envelope.Sniff([]byte(`[]`))
	require.Error(t, err)
}

func TestReqRoundTrip(t *testing.T) {
	_, rest, err := envelope.Sniff([]byte(`["REQ","deadbeef",{"kinds":[1,3]},{"authors":["ab"]}]`))
	require.NoError(t, err)

	req, err := envelope.ParseReq(rest)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", req.SubID)
	require.Len(t, req.Filters, 2)

	b, err := req.Marshal()
	require.NoError(t, err)

	label, rest2, err := envelope.Sniff(b)
	require.NoError(t, err)
	require.Equal(t, envelope.ReqLabel, label)
	again, err := envelope.ParseReq(rest2)
	require.NoError(t, err)
	require.Equal(t, req.SubID, again.SubID)
	require.Len(t, again.Filters, 2)
}

func TestEventEnvelopeBothForms(t *testing.T) {
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.Kind = kind.T(1)
	ev.CreatedAt = timestamp.Now()
	ev.Content = "hi"
	require.NoError(t, ev.Sign(s))

	// client publish form
	pub := &envelope.Event{Event: ev}
	b, err := pub.Marshal()
	require.NoError(t, err)
	_, rest, err := envelope.Sniff(b)
	require.NoError(t, err)
	got, err := envelope.ParseEvent(rest)
	require.NoError(t, err)
	require.Empty(t, got.SubID)
	require.Equal(t, ev.ID, got.Event.ID)

	// relay delivery form
	del := &envelope.Event{SubID: "s1", Event: ev}
	b, err = del.Marshal()
	require.NoError(t, err)
	_, rest, err = envelope.Sniff(b)
	require.NoError(t, err)
	got, err = envelope.ParseEvent(rest)
	require.NoError(t, err)
	require.Equal(t, "s1", got.SubID)
	require.Equal(t, ev.ID, got.Event.ID)
}

func TestOKRoundTrip(t *testing.T) {
	ok := &envelope.OK{EventID: "abcd", Accepted: false, Message: "duplicate: already have"}
	b, err := ok.Marshal()
	require.NoError(t, err)

	label, rest, err := envelope.Sniff(b)
	require.NoError(t, err)
	require.Equal(t, envelope.OkLabel, label)

	got, err := envelope.ParseOK(rest)
	require.NoError(t, err)
	require.Equal(t, ok, got)
}

func TestCountResponseRoundTrip(t *testing.T) {
	resp := &envelope.CountResponse{SubID: "c1", Count: 42}
	b, err := resp.Marshal()
	require.NoError(t, err)

	_, rest, err := envelope.Sniff(b)
	require.NoError(t, err)
	got, err := envelope.ParseCountResponse(rest)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.Count)
}
