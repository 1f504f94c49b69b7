package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a class of session failure.
type ErrorKind string

const (
	KindAdapterUnavailable ErrorKind = "adapter_unavailable"
	KindUnknownDevice      ErrorKind = "unknown_device"
	KindAlreadyConnecting  ErrorKind = "already_connecting"
	KindAlreadyConnected   ErrorKind = "already_connected"
	KindTimeout            ErrorKind = "timeout"
	KindLinkLost           ErrorKind = "link_lost"
	KindConnectFailed      ErrorKind = "connect_failed"
	KindDiscovery          ErrorKind = "discovery_error"
	KindNoWritableEndpoint ErrorKind = "no_writable_endpoint"
	KindPayloadTooLarge    ErrorKind = "payload_too_large"
	KindNotConnected       ErrorKind = "not_connected"
	KindWrite              ErrorKind = "write_error"
	KindInvalidCommand     ErrorKind = "invalid_command"
	KindClosed             ErrorKind = "closed"
)

// SessionError represents any failure surfaced by the session core
type SessionError struct {
	Kind ErrorKind
	Msg  string
	Err  error // underlying radio error, if any
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying radio error
func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind
var (
	ErrAdapterUnavailable = &SessionError{Kind: KindAdapterUnavailable}
	ErrUnknownDevice      = &SessionError{Kind: KindUnknownDevice}
	ErrAlreadyConnecting  = &SessionError{Kind: KindAlreadyConnecting}
	ErrAlreadyConnected   = &SessionError{Kind: KindAlreadyConnected}
	ErrTimeout            = &SessionError{Kind: KindTimeout}
	ErrLinkLost           = &SessionError{Kind: KindLinkLost}
	ErrConnectFailed      = &SessionError{Kind: KindConnectFailed}
	ErrDiscovery          = &SessionError{Kind: KindDiscovery}
	ErrNoWritableEndpoint = &SessionError{Kind: KindNoWritableEndpoint}
	ErrPayloadTooLarge    = &SessionError{Kind: KindPayloadTooLarge}
	ErrNotConnected       = &SessionError{Kind: KindNotConnected}
	ErrWrite              = &SessionError{Kind: KindWrite}
	ErrInvalidCommand     = &SessionError{Kind: KindInvalidCommand}
	ErrClosed             = &SessionError{Kind: KindClosed}
)

// NewError builds a SessionError of the given kind.
func NewError(kind ErrorKind, err error, format string, args ...any) *SessionError {
	return &SessionError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the ErrorKind carried by err, or "" when err is not a SessionError
func KindOf(err error) ErrorKind {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}

// IsKind reports whether err is a SessionError with the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
