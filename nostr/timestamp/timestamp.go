// Package timestamp represents the event created_at field: signed
// unix-seconds, as used both in the wire JSON and as a sortable field in
// store index keys.
package timestamp

import "time"

// T is a unix-second timestamp.
type T int64

// Now returns the current time as a T.
func Now() T { return T(time.Now().Unix()) }

// FromTime converts a time.Time to T.
func FromTime(t time.Time) T { return T(t.Unix()) }

// Time converts T back to a time.Time.
func (t T) Time() time.Time { return time.Unix(int64(t), 0) }

// After reports whether t is strictly after o.
func (t T) After(o T) bool { return t > o }
