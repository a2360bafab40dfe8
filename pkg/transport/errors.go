package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// ErrListenerClosed is returned by Accept after the listener closed.
var ErrListenerClosed = errors.New("listener closed")

// ConnectErrorKind classifies connection establishment failures.
type ConnectErrorKind int

const (
	// ConnectUnreachable indicates the peer could not be reached or
	// actively refused the connection.
	ConnectUnreachable ConnectErrorKind = iota

	// ConnectTLSHandshake indicates certificate or key exchange failure.
	ConnectTLSHandshake

	// ConnectTimeout indicates the connect timeout elapsed.
	ConnectTimeout

	// ConnectProtocolMismatch indicates protocol negotiation failed
	// (ALPN, subprotocol, or version hello).
	ConnectProtocolMismatch
)

// String returns the kind description.
func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectUnreachable:
		return "unreachable"
	case ConnectTLSHandshake:
		return "tls handshake failed"
	case ConnectTimeout:
		return "timeout"
	case ConnectProtocolMismatch:
		return "protocol mismatch"
	default:
		return "unknown"
	}
}

// ConnectError is returned by Dial when no session could be established.
type ConnectError struct {
	Kind  ConnectErrorKind
	Cause error
}

// Error returns the error description.
func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connect: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("connect: %s", e.Kind)
}

// Unwrap returns the transport-specific cause.
func (e *ConnectError) Unwrap() error { return e.Cause }

// ListenErrorKind classifies listener setup and admission failures.
type ListenErrorKind int

const (
	// ListenAddressInUse indicates the bind address is already taken.
	ListenAddressInUse ListenErrorKind = iota

	// ListenPermissionDenied indicates the bind was not permitted.
	ListenPermissionDenied

	// ListenBacklogFull indicates an inbound session was rejected
	// because the accept backlog was at capacity.
	ListenBacklogFull
)

// String returns the kind description.
func (k ListenErrorKind) String() string {
	switch k {
	case ListenAddressInUse:
		return "address in use"
	case ListenPermissionDenied:
		return "permission denied"
	case ListenBacklogFull:
		return "backlog full"
	default:
		return "unknown"
	}
}

// ListenError is returned by Listen, and logged by listeners that
// reject inbound sessions at capacity.
type ListenError struct {
	Kind  ListenErrorKind
	Cause error
}

// Error returns the error description.
func (e *ListenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("listen: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("listen: %s", e.Kind)
}

// Unwrap returns the transport-specific cause.
func (e *ListenError) Unwrap() error { return e.Cause }

// SendErrorKind classifies send failures.
type SendErrorKind int

const (
	// SendNotConnected indicates the session cannot carry outbound
	// traffic (never opened, or an inbound-only session).
	SendNotConnected SendErrorKind = iota

	// SendWouldBlock indicates outbound buffering limits were hit
	// before the ctx deadline. Transient: the send may be retried.
	SendWouldBlock

	// SendClosed indicates the session is closing or closed.
	SendClosed
)

// String returns the kind description.
func (k SendErrorKind) String() string {
	switch k {
	case SendNotConnected:
		return "not connected"
	case SendWouldBlock:
		return "would block"
	case SendClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendError is returned by Send.
type SendError struct {
	Kind  SendErrorKind
	Cause error
}

// Error returns the error description.
func (e *SendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("send: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("send: %s", e.Kind)
}

// Unwrap returns the transport-specific cause.
func (e *SendError) Unwrap() error { return e.Cause }

// ReceiveErrorKind classifies receive failures.
type ReceiveErrorKind int

const (
	// ReceiveClosed indicates the session closed cleanly (locally or
	// by the peer) and no further messages will arrive.
	ReceiveClosed ReceiveErrorKind = iota

	// ReceiveReset indicates the peer terminated abnormally.
	ReceiveReset

	// ReceiveTimeout indicates the ctx deadline elapsed with no
	// complete message available.
	ReceiveTimeout
)

// String returns the kind description.
func (k ReceiveErrorKind) String() string {
	switch k {
	case ReceiveClosed:
		return "closed"
	case ReceiveReset:
		return "connection reset"
	case ReceiveTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ReceiveError is returned by Receive.
type ReceiveError struct {
	Kind  ReceiveErrorKind
	Cause error
}

// Error returns the error description.
func (e *ReceiveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("receive: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("receive: %s", e.Kind)
}

// Unwrap returns the transport-specific cause.
func (e *ReceiveError) Unwrap() error { return e.Cause }

// MapListenError classifies a bind failure. Unclassified failures
// default to address in use, the dominant cause; the original error
// stays reachable through Unwrap.
func MapListenError(err error) *ListenError {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, fs.ErrPermission):
		return &ListenError{Kind: ListenPermissionDenied, Cause: err}
	default:
		return &ListenError{Kind: ListenAddressInUse, Cause: err}
	}
}

// ctxSendError maps a context error observed during Send. Deadlines are
// buffering limits (WouldBlock); caller cancellation passes through so
// errors.Is(err, context.Canceled) holds.
func ctxSendError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &SendError{Kind: SendWouldBlock, Cause: err}
	}
	return err
}

// ctxReceiveError maps a context error observed during Receive.
func ctxReceiveError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ReceiveError{Kind: ReceiveTimeout, Cause: err}
	}
	return err
}
