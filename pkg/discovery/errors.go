package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when an instance name is already advertised.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned when stopping an instance that was not started.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidPort is returned when the port number is out of range.
	ErrInvalidPort = errors.New("discovery: invalid port (must be 1-65535)")

	// ErrInvalidProtocol is returned when the protocol name is empty or too long.
	ErrInvalidProtocol = errors.New("discovery: invalid protocol name")

	// ErrInvalidModes is returned when the mode count is below one.
	ErrInvalidModes = errors.New("discovery: invalid mode count")

	// ErrInvalidHandshake is returned for an unknown handshake type.
	ErrInvalidHandshake = errors.New("discovery: invalid handshake type")

	// ErrInvalidTransport is returned for an unknown transport kind.
	ErrInvalidTransport = errors.New("discovery: invalid transport")

	// ErrInvalidTXTRecord is returned when a TXT record has invalid format.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")

	// ErrServiceNotFound is returned when a requested service is not found.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")
)
