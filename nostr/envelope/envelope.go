// Package envelope implements the JSON-array wire messages exchanged over
// the websocket transport: EVENT, REQ, CLOSE, AUTH, OK, EOSE, CLOSED,
// NOTICE and COUNT.
package envelope

import (
	"encoding/json"

	"nexrelay.dev/errorf"
)

// I is the common interface every envelope type implements.
type I interface {
	// Label is the first array element identifying the envelope type.
	Label() string
	// Marshal renders the envelope as a JSON array.
	Marshal() ([]byte, error)
}

// Sniff peeks at the label of a raw envelope without fully parsing it, so
// the caller can dispatch to the right type-specific Unmarshal.
func Sniff(b []byte) (label string, rest []json.RawMessage, err error) {
	var arr []json.RawMessage
	if err = json.Unmarshal(b, &arr); err != nil {
		return
	}
	if len(arr) == 0 {
		err = errorf.E("empty envelope")
		return
	}
	if err = json.Unmarshal(arr[0], &label); err != nil {
		err = errorf.E("envelope label is not a string: %w", err)
		return
	}
	rest = arr[1:]
	return
}

// marshalArray renders label followed by parts as a JSON array.
func marshalArray(label string, parts ...interface{}) ([]byte, error) {
	arr := make([]interface{}, 0, len(parts)+1)
	arr = append(arr, label)
	arr = append(arr, parts...)
	return json.Marshal(arr)
}
