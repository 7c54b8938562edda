package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
)

// OkLabel is the relay's per-event acknowledgement label:
// ["OK", event_id, accepted, message]. message follows the NIP-20
// convention of a "prefix: detail" string (e.g. "duplicate:", "blocked:
// rate limited") when accepted is false.
const OkLabel = "OK"

type OK struct {
	EventID  string
	Accepted bool
	Message  string
}

func (en *OK) Label() string { return OkLabel }
func (en *OK) Marshal() ([]byte, error) {
	return marshalArray(OkLabel, en.EventID, en.Accepted, en.Message)
}

func ParseOK(rest []json.RawMessage) (en *OK, err error) {
	if len(rest) != 3 {
		err = errorf.E("OK envelope expects exactly 3 fields, got %d", len(rest))
		return
	}
	en = &OK{}
	if err = json.Unmarshal(rest[0], &en.EventID); err != nil {
		return
	}
	if err = json.Unmarshal(rest[1], &en.Accepted); err != nil {
		return
	}
	err = json.Unmarshal(rest[2], &en.Message)
	return
}
