package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
)

// EoseLabel marks the end of stored-event replay for a subscription:
// ["EOSE", subscription_id].
const EoseLabel = "EOSE"

type EOSE struct{ SubID string }

func (en *EOSE) Label() string         { return EoseLabel }
func (en *EOSE) Marshal() ([]byte, error) { return marshalArray(EoseLabel, en.SubID) }

func ParseEOSE(rest []json.RawMessage) (en *EOSE, err error) {
	if len(rest) != 1 {
		err = errorf.E("EOSE envelope expects exactly 1 field, got %d", len(rest))
		return
	}
	en = &EOSE{}
	err = json.Unmarshal(rest[0], &en.SubID)
	return
}
