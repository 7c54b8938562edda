package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
	"nexrelay.dev/nostr/filter"
)

// ReqLabel is the client subscription-open envelope label:
// ["REQ", subscription_id, filter, filter, ...].
const ReqLabel = "REQ"

// Req is a client subscription request.
type Req struct {
	SubID   string
	Filters []*filter.T
}

func (en *Req) Label() string { return ReqLabel }

func (en *Req) Marshal() ([]byte, error) {
	parts := make([]interface{}, 0, len(en.Filters)+1)
	parts = append(parts, en.SubID)
	for _, f := range en.Filters {
		b, err := f.Marshal()
		if err != nil {
			return nil, err
		}
		parts = append(parts, json.RawMessage(b))
	}
	return marshalArray(ReqLabel, parts...)
}

// ParseReq parses a REQ envelope from its array tail.
func ParseReq(rest []json.RawMessage) (en *Req, err error) {
	if len(rest) < 1 {
		err = errorf.E("REQ envelope requires a subscription id")
		return
	}
	en = &Req{}
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
