package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
)

// NoticeLabel carries a human-readable message, used for unrecognized
// verbs, idle timeouts, shutdown notifications and oversized-frame
// rejections: ["NOTICE", message].
const NoticeLabel = "NOTICE"

type Notice struct{ Message string }

func (en *Notice) Label() string          { return NoticeLabel }
func (en *Notice) Marshal() ([]byte, error) { return marshalArray(NoticeLabel, en.Message) }

func ParseNotice(rest []json.RawMessage) (en *Notice, err error) {
	if len(rest) != 1 {
		err = errorf.E("NOTICE envelope expects exactly 1 field, got %d", len(rest))
		return
	}
	en = &Notice{}
	err = json.Unmarshal(rest[0], &en.Message)
	return
}
