package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
	"nexrelay.dev/nostr/event"
)

// EventLabel is the envelope label used by both the client's publish
// message and the relay's subscription-delivery message: ["EVENT", event]
// or ["EVENT", subscription_id, event].
const EventLabel = "EVENT"

// Event is either a client publish (SubID == "") or a relay delivery to an
// open subscription.
type Event struct {
	SubID string
	Event *event.T
}

func (en *Event) Label() string { return EventLabel }

// Marshal renders the publish form ["EVENT", event] when SubID is empty,
// otherwise the delivery form ["EVENT", subscription_id, event].
func (en *Event) Marshal() ([]byte, error) {
	j := en.Event.ToJ()
	if en.SubID == "" {
		return marshalArray(EventLabel, j)
	}
	return marshalArray(EventLabel, en.SubID, j)
}

// ParseEvent parses either envelope form from its array tail (everything
// after the label).
func ParseEvent(rest []json.RawMessage) (en *Event, err error) {
	en = &Event{}
	switch len(rest) {
	case 1:
		j := &event.J{}
		if err = json.Unmarshal(rest[0], j); err != nil {
			return
		}
		if en.Event, err = event.FromJ(j); err != nil {
			return
		}
	case 2:
		if err = json.Unmarshal(rest[0], &en.SubID); err != nil {
			return
		}
		j := &event.J{}
		if err = json.Unmarshal(rest[1], j); err != nil {
			return
		}
		if en.Event, err = event.FromJ(j); err != nil {
			return
		}
	default:
		err = errorf.E("EVENT envelope expects 1 or 2 fields, got %d", len(rest))
	}
	return
}
