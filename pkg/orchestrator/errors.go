package orchestrator

import "errors"

// Orchestrator errors.
var (
	// ErrNoProtocol is returned when an orchestrator is created without a protocol.
	ErrNoProtocol = errors.New("orchestrator: no protocol configured")

	// ErrNoChannel is returned when an orchestrator is created without a channel.
	ErrNoChannel = errors.New("orchestrator: no channel configured")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("orchestrator: already started")

	// ErrNotStarted is returned when sending before the handshake completed.
	ErrNotStarted = errors.New("orchestrator: not started")

	// ErrFinished is returned for operations on a finished orchestrator.
	ErrFinished = errors.New("orchestrator: finished")

	// ErrStartFailed wraps channel open failures during Start.
	ErrStartFailed = errors.New("orchestrator: start failed")

	// ErrStartTimeout is returned when the handshake did not finish in time.
	ErrStartTimeout = errors.New("orchestrator: start timed out")

	// ErrChannelClosed is the finish cause when the channel closes.
	ErrChannelClosed = errors.New("orchestrator: channel closed")

	// ErrHandshakeRejected is returned when a handshake message was refused
	// or had the wrong type.
	ErrHandshakeRejected = errors.New("orchestrator: handshake rejected")

	// ErrUnexpectedHandshakeMessage is returned for a handshake message of
	// the wrong type for the current sub-state.
	ErrUnexpectedHandshakeMessage = errors.New("orchestrator: unexpected handshake message")

	// ErrHandshakeInternal is returned for sub-state and role combinations
	// that cannot occur.
	ErrHandshakeInternal = errors.New("orchestrator: internal handshake error")

	// ErrHandshakeSendFailed is returned when a handshake message could not be sent.
	ErrHandshakeSendFailed = errors.New("orchestrator: handshake send failed")

	// ErrInvalidDispatchType is returned by SendMessage for an unknown dispatch type.
	ErrInvalidDispatchType = errors.New("orchestrator: invalid dispatch type")

	// ErrNilMessage is returned by SendMessage for a nil payload.
	ErrNilMessage = errors.New("orchestrator: nil message")

	// ErrNoSerializer is returned by SendMessage for a payload type the active mode cannot encode.
	ErrNoSerializer = errors.New("orchestrator: no serializer for message type")

	// ErrNoGenerator is returned by SendGenerated when the active mode has no generator.
	ErrNoGenerator = errors.New("orchestrator: no generator for message type")

	// ErrNoHandler is reported when no handler is registered for a received payload.
	ErrNoHandler = errors.New("orchestrator: no handler")

	// ErrUnmatchedResponse is reported for a Response without an outstanding Request.
	ErrUnmatchedResponse = errors.New("orchestrator: response without matching request")

	// ErrNilResponse is reported when a request handler returns no response.
	ErrNilResponse = errors.New("orchestrator: request handler returned nil response")

	// ErrHandlerPanic is reported when a handler panics.
	ErrHandlerPanic = errors.New("orchestrator: handler panicked")
)
