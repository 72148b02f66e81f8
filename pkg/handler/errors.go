package handler

import "errors"

// Handler errors.
var (
	// ErrTypeMismatch is returned when an erased handler receives a payload
	// whose dynamic type does not match the handler's declared type.
	ErrTypeMismatch = errors.New("handler: payload type mismatch")

	// ErrNotImplemented is returned by HandshakeFuncs for a missing callback.
	ErrNotImplemented = errors.New("handler: callback not implemented")
)
