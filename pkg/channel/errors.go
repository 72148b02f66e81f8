package channel

import "errors"

// Channel errors.
var (
	// ErrNoTransport is returned when a channel is created without a transport.
	ErrNoTransport = errors.New("channel: no transport configured")

	// ErrInvalidRole is returned when a channel is created without a valid role.
	ErrInvalidRole = errors.New("channel: invalid role")

	// ErrAlreadyOpen is returned when Open is called on a channel that is not Closed.
	ErrAlreadyOpen = errors.New("channel: not closed")

	// ErrOpenFailed is returned when the transport cannot connect.
	ErrOpenFailed = errors.New("channel: open failed")

	// ErrClosedWhileOpening is returned when Close interrupts Open.
	ErrClosedWhileOpening = errors.New("channel: closed while opening")

	// ErrNotAlive is returned when sending on a channel that is not open and alive.
	ErrNotAlive = errors.New("channel: connection not alive")

	// ErrSendFailed is returned when the transport fails to send.
	ErrSendFailed = errors.New("channel: send failed")

	// ErrCloseTimeout is returned when the receive loop did not exit in time.
	ErrCloseTimeout = errors.New("channel: close timed out")
)
