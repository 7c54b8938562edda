package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
	"nexrelay.dev/nostr/event"
)

// AuthLabel is used both for the relay's NIP-42 challenge
// (["AUTH", challenge_string]) and the client's signed response
// (["AUTH", signed_event]).
const AuthLabel = "AUTH"

// AuthChallenge is the relay-issued message.
type AuthChallenge struct{ Challenge string }

func (en *AuthChallenge) Label() string { return AuthLabel }
func (en *AuthChallenge) Marshal() ([]byte, error) {
	return marshalArray(AuthLabel, en.Challenge)
}

func ParseAuthChallenge(rest []json.RawMessage) (en *AuthChallenge, err error) {
	if len(rest) != 1 {
		err = errorf.E("AUTH challenge envelope expects exactly 1 field, got %d", len(rest))
		return
	}
	en = &AuthChallenge{}
	err = json.Unmarshal(rest[0], &en.Challenge)
	return
}

// AuthResponse is the client's signed kind-22242 event answering the
// challenge.
type AuthResponse struct{ Event *event.T }

func (en *AuthResponse) Label() string { return AuthLabel }
func (en *AuthResponse) Marshal() ([]byte, error) {
	return marshalArray(AuthLabel, en.Event.ToJ())
}

func ParseAuthResponse(rest []json.RawMessage) (en *AuthResponse, err error) {
	if len(rest) != 1 {
		err = errorf.E("AUTH response envelope expects exactly 1 field, got %d", len(rest))
		return
	}
	j := &event.J{}
	if err = json.Unmarshal(rest[0], j); err != nil {
		return
	}
	en = &AuthResponse{}
	en.Event, err = event.FromJ(j)
	return
}
