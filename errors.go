package consoled

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is. Each corresponding typed error
// below implements Is so that a caller can match on the sentinel without
// caring about the specific stream or cause involved.
var (
	ErrNotSubscribed  = errors.New("consoled: stream not subscribed")
	ErrConnectionLost = errors.New("consoled: connection lost")
	ErrTimeout        = errors.New("consoled: operation timed out")
)

// ConfigError reports that a Config value failed validation before any
// Router goroutine was started, or that a Session call was given an
// invalid argument (such as an unknown stream name).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("consoled: config: %s: %s", e.Field, e.Reason)
}

// ConnectError reports that establishing the TCP session to the server
// failed or timed out.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("consoled: connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unsupported frame, wrapping the
// underlying wire-level cause.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("consoled: protocol: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SubscribeError reports that the server denied an open request or
// confirmed a mode lacking a requested permission.
type SubscribeError struct {
	Stream string
	Reason string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("consoled: subscribe %q: %s", e.Stream, e.Reason)
}

// NotSubscribedError reports that an operation was attempted against a
// stream the session has no subscription for, or lacks the permission for.
type NotSubscribedError struct {
	Stream string
}

func (e *NotSubscribedError) Error() string {
	return fmt.Sprintf("consoled: stream %q is not subscribed with the required permission", e.Stream)
}

func (e *NotSubscribedError) Is(target error) bool { return target == ErrNotSubscribed }

// ConnectionLostError reports that the Router's socket closed or errored
// mid-session.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("consoled: connection lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error        { return e.Err }
func (e *ConnectionLostError) Is(target error) bool { return target == ErrConnectionLost }

// TimeoutError reports that a blocking Session call exceeded its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("consoled: %s timed out", e.Op)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
