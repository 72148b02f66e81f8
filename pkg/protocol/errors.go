package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors.
var (
	// ErrInvalidConfig is wrapped by every *ConfigError.
	ErrInvalidConfig = errors.New("protocol: invalid configuration")

	// ErrHandshakeConfig is returned when a handshake message type is
	// requested beyond what the handshake type supports.
	ErrHandshakeConfig = errors.New("protocol: handshake configuration")

	// ErrNilTable is reported for a mode with a nil handler table or registry.
	ErrNilTable = errors.New("protocol: nil table")

	// ErrMissingSerializer is reported for a referenced type without a serializer.
	ErrMissingSerializer = errors.New("protocol: missing serializer")

	// ErrGeneratorMismatch is reported when a generator is registered under
	// a type other than the one it produces.
	ErrGeneratorMismatch = errors.New("protocol: generator type mismatch")

	// ErrHandlerMismatch is reported when a handler is registered under a
	// type other than the one it declares.
	ErrHandlerMismatch = errors.New("protocol: handler type mismatch")

	// ErrUnknownMode is returned for a mode number outside the protocol.
	ErrUnknownMode = errors.New("protocol: unknown mode")
)

// ConfigError aggregates every problem found by Protocol.Validate.
type ConfigError struct {
	Protocol string
	Problems []string
}

// Error joins the problems into one message.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("protocol %q: invalid configuration: %s", e.Protocol, strings.Join(e.Problems, "; "))
}

// Unwrap returns ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
