package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
	"nexrelay.dev/nostr/filter"
)

// CountLabel requests (client) or reports (relay) a match count instead of
// streaming matching events: ["COUNT", subscription_id, filter...] or
// ["COUNT", subscription_id, {"count": n}].
const CountLabel = "COUNT"

type Count struct {
	SubID   string
	Filters []*filter.T
}

func (en *Count) Label() string { return CountLabel }
func (en *Count) Marshal() ([]byte, error) {
	parts := make([]interface{}, 0, len(en.Filters)+1)
	parts = append(parts, en.SubID)
	for _, f := range en.Filters {
		b, err := f.Marshal()
		if err != nil {
			return nil, err
		}
		parts = append(parts, json.RawMessage(b))
	}
	return marshalArray(CountLabel, parts...)
}

func ParseCount(rest []json.RawMessage) (en *Count, err error) {
	if len(rest) < 1 {
		err = errorf.E("COUNT envelope requires a subscription id")
		return
	}
	en = &Count{}
	if err = json.Unmarshal(rest[0], &en.SubID); err != nil {
		return
	}
	for _, raw := range rest[1:] {
		var f *filter.T
		if f, err = filter.Unmarshal(raw); err != nil {
			return
		}
		en.Filters = append(en.Filters, f)
	}
	return
}

// CountResponse is the relay's reply: ["COUNT", subscription_id, {"count": n}].
type CountResponse struct {
	SubID string
	Count int64
}

func (en *CountResponse) Label() string { return CountLabel }
func (en *CountResponse) Marshal() ([]byte, error) {
	return marshalArray(CountLabel, en.SubID, map[string]int64{"count": en.Count})
}

func ParseCountResponse(rest []json.RawMessage) (en *CountResponse, err error) {
	if len(rest) != 2 {
		err = errorf.E("COUNT response envelope expects exactly 2 fields, got %d", len(rest))
		return
	}
	en = &CountResponse{}
	if err = json.Unmarshal(rest[0], &en.SubID); err != nil {
		return
	}
	var m map[string]int64
	if err = json.Unmarshal(rest[1], &m); err != nil {
		return
	}
	en.Count = m["count"]
	return
}
