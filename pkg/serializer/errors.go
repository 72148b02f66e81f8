package serializer

import "errors"

// Serializer errors.
var (
	// ErrUnknownType is returned when no serializer is registered for a payload type.
	ErrUnknownType = errors.New("serializer: no serializer registered for type")

	// ErrUnknownTag is returned when a decoded payload carries an unregistered type tag.
	ErrUnknownTag = errors.New("serializer: unknown type tag")

	// ErrTypeMismatch is returned when a serializer is handed a value of the wrong type.
	ErrTypeMismatch = errors.New("serializer: value type mismatch")

	// ErrDuplicate is returned when a type or tag is registered twice.
	ErrDuplicate = errors.New("serializer: duplicate registration")

	// ErrMalformed is returned when a payload cannot be split into tag and body.
	ErrMalformed = errors.New("serializer: malformed payload")

	// ErrInvalidTag is returned for empty or oversized tags.
	ErrInvalidTag = errors.New("serializer: invalid type tag")
)
