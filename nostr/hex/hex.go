// Package hex wraps lower-case hex encode/decode for the fixed-width ids and
// keys that appear throughout the wire protocol (event ids, pubkeys,
// signatures), so call sites don't sprinkle encoding/hex calls everywhere.
package hex

import (
	"encoding/hex"
	"fmt"
)

// Enc encodes b as lower-case hex.
func Enc(b []byte) string { return hex.EncodeToString(b) }

// Dec decodes a hex string into bytes, rejecting odd-length input.
func Dec(s string) (b []byte, err error) {
	return hex.DecodeString(s)
}

// DecLen decodes s and requires the result to be exactly n bytes long.
func DecLen(s string, n int) (b []byte, err error) {
	if b, err = hex.DecodeString(s); err != nil {
		return
	}
	if len(b) != n {
		err = fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return
}
