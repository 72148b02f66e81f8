package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned by Send and Receive before Connect.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected is returned by Connect on a live connection.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrCannotReconnect is returned by Connect on a transport built around
	// a single connection that has been used up.
	ErrCannotReconnect = errors.New("transport: cannot reconnect")

	// ErrConnectionLost is returned by Receive once the peer went away.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrDialFailed wraps connection establishment failures.
	ErrDialFailed = errors.New("transport: dial failed")

	// ErrInvalidLengthPrefix is returned for a zero stream frame length.
	ErrInvalidLengthPrefix = errors.New("transport: invalid length prefix")

	// ErrFrameTooLarge is returned when a frame exceeds the maximum size.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrStreamReadFailed is returned when a frame could not be read completely.
	ErrStreamReadFailed = errors.New("transport: failed to read from stream")

	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("transport: listener closed")
)
