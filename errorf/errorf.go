// Package errorf provides terse error constructors so call sites read
// `errorf.E("thing failed: %w", err)` instead of importing fmt everywhere.
package errorf

import "fmt"

// E constructs an error the way fmt.Errorf does. Named separately so code
// that greps for error construction finds one place.
func E(format string, a ...interface{}) error { return fmt.Errorf(format, a...) }

// W constructs an error intended to be surfaced to a remote peer (a NOTICE
// or OK reason), as opposed to one that is purely diagnostic.
func W(format string, a ...interface{}) error { return fmt.Errorf(format, a...) }
