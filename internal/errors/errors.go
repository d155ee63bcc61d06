// Package errors defines the error taxonomy shared across the transport,
// router, and façade layers.
package errors

import stderrors "errors"

// Configuration errors
var (
	ErrMissingURL      = stderrors.New("connection url is required")
	ErrInvalidCapacity = stderrors.New("capacity must be a positive integer")
)

// Transport errors
var (
	ErrTransportClosed = stderrors.New("transport is closed")
	ErrWriteFailed      = stderrors.New("failed to write frame")
	ErrDial             = stderrors.New("failed to dial transport")
)

// Protocol errors
var (
	ErrUnexpectedResponse = stderrors.New("unexpected response shape")
	ErrIncompletePacket   = stderrors.New("incomplete or malformed packet")
)

// Lifetime errors
var (
	ErrDanglingSession = stderrors.New("session is not part of any connection")
	ErrDanglingHandle  = stderrors.New("handle is not part of any session")
)

// Capacity errors
var (
	ErrSinkClosed = stderrors.New("event sink is closed")
)

// ErrTimeout is returned when a caller-supplied deadline elapses while
// awaiting a correlated reply.
var ErrTimeout = stderrors.New("timed out waiting for response")
