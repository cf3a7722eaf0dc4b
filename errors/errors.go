// Package errors provides standardized error handling for the inferlink
// client. Every failure surfaced by the library carries a Kind that callers
// can switch on, plus helper functions for consistent wrapping and
// classification across packages.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a client failure for handling purposes.
type Kind int

const (
	// KindOperationFailed represents a server-reported failure, an HTTP
	// status outside the 2xx range, a WebSocket transport error, or a
	// generic I/O error.
	KindOperationFailed Kind = iota
	// KindBadParameter represents a malformed server URL, a missing
	// mandatory configuration key, or a bad shape vector length.
	KindBadParameter
	// KindTimeout represents a connect, send, receive, or queue wait that
	// exceeded its timeout budget.
	KindTimeout
	// KindNotSupportedVersion represents a server response missing the
	// protocol version tag or carrying a version below the minimum.
	KindNotSupportedVersion
	// KindIncorrectAPIUse represents a client API contract violation, such
	// as submitting frames before opening a stream.
	KindIncorrectAPIUse
	// KindSystem represents DNS or connect-level OS errors after retries.
	KindSystem
	// KindParseError represents invalid JSON or MessagePack payloads.
	KindParseError
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindOperationFailed:
		return "operation_failed"
	case KindBadParameter:
		return "bad_parameter"
	case KindTimeout:
		return "timeout"
	case KindNotSupportedVersion:
		return "not_supported_version"
	case KindIncorrectAPIUse:
		return "incorrect_api_use"
	case KindSystem:
		return "system"
	case KindParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by the inferlink client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a static message.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and a context message. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf annotates err with a kind and a formatted context message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err. Errors not produced by this package
// classify as KindOperationFailed, the catch-all for generic failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOperationFailed
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsBadParameter reports whether err is a parameter validation failure.
func IsBadParameter(err error) bool { return IsKind(err, KindBadParameter) }

// IsIncorrectAPIUse reports whether err is an API contract violation.
func IsIncorrectAPIUse(err error) bool { return IsKind(err, KindIncorrectAPIUse) }

// IsNotSupportedVersion reports whether err is a protocol version mismatch.
func IsNotSupportedVersion(err error) bool { return IsKind(err, KindNotSupportedVersion) }

// IsOperationFailed reports whether err is a server or transport failure.
func IsOperationFailed(err error) bool { return IsKind(err, KindOperationFailed) }

// IsParseError reports whether err is a payload decoding failure.
func IsParseError(err error) bool { return IsKind(err, KindParseError) }

// IsSystem reports whether err is an OS-level connectivity failure.
func IsSystem(err error) bool { return IsKind(err, KindSystem) }
