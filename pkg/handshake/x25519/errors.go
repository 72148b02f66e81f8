package x25519

import "errors"

// Handshake errors.
var (
	// ErrInvalidKey is returned for a public key of the wrong size or a
	// low-order point.
	ErrInvalidKey = errors.New("x25519: invalid public key")

	// ErrInvalidNonce is returned for a nonce of the wrong size.
	ErrInvalidNonce = errors.New("x25519: invalid nonce")

	// ErrConfirmationMismatch is returned when a key confirmation does not
	// match the derived keys.
	ErrConfirmationMismatch = errors.New("x25519: key confirmation mismatch")

	// ErrNoSync is returned when Verify runs before Generate.
	ErrNoSync = errors.New("x25519: no sync generated")
)
