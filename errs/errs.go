// Package errs enumerates the error kinds the relay core recognizes, so
// call sites can branch on classification (an OK rejection reason, a
// connection-closing NOTICE, or a fatal startup error) instead of matching
// error strings.
package errs

import "fmt"

// Code is one of the error kinds named in the specification's error
// handling section.
type Code string

const (
	InvalidJson    Code = "InvalidJson"
	InvalidField   Code = "InvalidField"
	BadSignature   Code = "BadSignature"
	Duplicate      Code = "Duplicate"
	Superseded     Code = "Superseded"
	TooLarge       Code = "TooLarge"
	Restricted     Code = "Restricted"
	AuthRequired   Code = "AuthRequired"
	RateLimited    Code = "RateLimited"
	NotFound       Code = "NotFound"
	HashMismatch   Code = "HashMismatch"
	Unauthorized   Code = "Unauthorized"
	BadRequest     Code = "BadRequest"
	NotImplemented Code = "NotImplemented"
	StorageError   Code = "StorageError"
	IoError        Code = "IoError"
	TlsError       Code = "TlsError"
	ProtocolError  Code = "ProtocolError"
	ShuttingDown   Code = "ShuttingDown"
)

// Prefix returns the NIP-20 "<prefix>: <detail>" prefix word OK/CLOSED
// messages use for this code.
func (c Code) Prefix() string {
	switch c {
	case Duplicate, Superseded:
		return "duplicate"
	case InvalidJson, InvalidField, BadSignature, TooLarge, BadRequest, ProtocolError:
		return "invalid"
	case Restricted, Unauthorized:
		return "restricted"
	case AuthRequired:
		return "auth-required"
	case RateLimited:
		return "rate-limited"
	default:
		return "error"
	}
}

// E is an error tagged with a Code.
type E struct {
	Code   Code
	Detail string
}

func (e *E) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Detail) }

// New builds a classified error.
func New(c Code, format string, a ...interface{}) *E {
	return &E{Code: c, Detail: fmt.Sprintf(format, a...)}
}

// Reason renders e in the NIP-20 "<prefix>: <detail>" form used in OK and
// CLOSED messages.
func (e *E) Reason() string { return fmt.Sprintf("%s: %s", e.Code.Prefix(), e.Detail) }
