package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
)

// CloseLabel is the client subscription-cancel envelope label:
// ["CLOSE", subscription_id].
const CloseLabel = "CLOSE"

type Close struct{ SubID string }

func (en *Close) Label() string        { return CloseLabel }
func (en *Close) Marshal() ([]byte, error) { return marshalArray(CloseLabel, en.SubID) }

func ParseClose(rest []json.RawMessage) (en *Close, err error) {
	if len(rest) != 1 {
		err = errorf.E("CLOSE envelope expects exactly 1 field, got %d", len(rest))
		return
	}
	en = &Close{}
	err = json.Unmarshal(rest[0], &en.SubID)
	return
}
