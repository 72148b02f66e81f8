package envelope

import "errors"

// Envelope decoding errors.
var (
	// ErrTooShort is returned when data is shorter than the fixed header.
	ErrTooShort = errors.New("envelope: data shorter than header")

	// ErrNotEnvelope is returned when the magic marker does not match.
	ErrNotEnvelope = errors.New("envelope: magic marker mismatch")

	// ErrTruncated is returned when data is shorter than header plus declared payload length.
	ErrTruncated = errors.New("envelope: payload truncated")

	// ErrInvalidDispatchType is returned for an unknown dispatch type byte.
	ErrInvalidDispatchType = errors.New("envelope: invalid dispatch type")

	// ErrNoPayloadCodec is returned when a codec has no payload codec configured.
	ErrNoPayloadCodec = errors.New("envelope: no payload codec")

	// ErrPayloadTooLarge is returned when a payload does not fit the 32-bit length field.
	ErrPayloadTooLarge = errors.New("envelope: payload too large")
)
