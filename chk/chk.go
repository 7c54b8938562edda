// Package chk provides the one-line error-check idiom used throughout this
// module: `if err = f(); chk.E(err) { return }`. E logs at error level, T at
// a quieter level for conditions that are expected often enough not to
// warrant an operator's attention (duplicate events, superseded replaceables).
package chk

import (
	"nexrelay.dev/log"
)

// E logs err at error level and reports whether err is non-nil so it can
// be used directly in an if-statement. The logged source location is this
// helper's own line, not its caller's.
func E(err error) bool {
	if err == nil {
		return false
	}
	log.E.F("%s", err)
	return true
}

// T logs err at trace level and reports whether it is non-nil. Use this for
// conditions a caller needs to branch on but that aren't operationally
// noteworthy.
func T(err error) bool {
	if err == nil {
		return false
	}
	log.T.F("%s", err)
	return true
}

// D logs err at debug level and reports whether it is non-nil.
func D(err error) bool {
	if err == nil {
		return false
	}
	log.D.F("%s", err)
	return true
}
