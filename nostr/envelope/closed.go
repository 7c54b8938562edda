package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
)

// ClosedLabel is sent by the relay to terminate a subscription it will no
// longer serve: ["CLOSED", subscription_id, message].
const ClosedLabel = "CLOSED"

type Closed struct {
	SubID   string
	Message string
}

func (en *Closed) Label() string { return ClosedLabel }
func (en *Closed) Marshal() ([]byte, error) {
	return marshalArray(ClosedLabel, en.SubID, en.Message)
}

func ParseClosed(rest []json.RawMessage) (en *Closed, err error) {
	if len(rest) != 2 {
		err = errorf.E("CLOSED envelope expects exactly 2 fields, got %d", len(rest))
		return
	}
	en = &Closed{}
	if err = json.Unmarshal(rest[0], &en.SubID); err != nil {
		return
	}
	err = json.Unmarshal(rest[1], &en.Message)
	return
}
