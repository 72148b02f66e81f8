package token

import "errors"

// Handshake errors.
var (
	// ErrNoSecret is returned by New without a signing secret.
	ErrNoSecret = errors.New("token: no secret configured")

	// ErrInvalidToken wraps signature, expiry, issuer and audience failures.
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrProtocolMismatch is returned for a token issued for another protocol.
	ErrProtocolMismatch = errors.New("token: protocol mismatch")

	// ErrTokenMismatch is returned when the Verack does not echo the Ack's token ID.
	ErrTokenMismatch = errors.New("token: verack does not match ack")
)
