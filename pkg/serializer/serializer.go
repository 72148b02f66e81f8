// Package serializer encodes individual message payloads.
//
// A Registry maps Go types to a stable string tag and a Serializer. Payloads
// travel as a (tag, body) pair so the receiving side can pick the right
// decoder without reflection on the wire:
//
//	+----------------+---------------+------------------+
//	| tag len (2, LE)| tag (n bytes) | body (remaining) |
//	+----------------+---------------+------------------+
package serializer

import (
	"encoding/json"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Serializer encodes and decodes values of a single Go type.
type Serializer interface {
	// Size returns the exact number of bytes Append would add for v.
	Size(v any) (int, error)

	// Append appends the encoding of v to dst.
	Append(dst []byte, v any) ([]byte, error)

	// Unmarshal decodes a value. The dynamic type of the result is the
	// type the serializer was registered for.
	Unmarshal(data []byte) (any, error)
}

// protoSerializer uses deterministic protobuf encoding.
type protoSerializer[T proto.Message] struct {
	opts proto.MarshalOptions
}

// Proto returns a Serializer for the protobuf message type T.
// T is the pointer type of a generated message, e.g. *wrapperspb.StringValue.
func Proto[T proto.Message]() Serializer {
	return protoSerializer[T]{opts: proto.MarshalOptions{Deterministic: true}}
}

func (s protoSerializer[T]) cast(v any) (T, error) {
	m, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: got %T, want %T", ErrTypeMismatch, v, zero)
	}
	return m, nil
}

func (s protoSerializer[T]) Size(v any) (int, error) {
	m, err := s.cast(v)
	if err != nil {
		return 0, err
	}
	return s.opts.Size(m), nil
}

func (s protoSerializer[T]) Append(dst []byte, v any) ([]byte, error) {
	m, err := s.cast(v)
	if err != nil {
		return dst, err
	}
	return s.opts.MarshalAppend(dst, m)
}

func (s protoSerializer[T]) Unmarshal(data []byte) (any, error) {
	var zero T
	m := zero.ProtoReflect().New().Interface()
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// jsonSerializer encodes values with encoding/json.
type jsonSerializer[T any] struct{}

// JSON returns a Serializer that encodes T as JSON.
func JSON[T any]() Serializer {
	return jsonSerializer[T]{}
}

func (jsonSerializer[T]) encode(v any) ([]byte, error) {
	m, ok := v.(T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: got %T, want %T", ErrTypeMismatch, v, zero)
	}
	return json.Marshal(m)
}

func (s jsonSerializer[T]) Size(v any) (int, error) {
	b, err := s.encode(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s jsonSerializer[T]) Append(dst []byte, v any) ([]byte, error) {
	b, err := s.encode(v)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (jsonSerializer[T]) Unmarshal(data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// bytesSerializer passes []byte payloads through unchanged.
type bytesSerializer struct{}

// Bytes returns a Serializer for raw []byte payloads.
func Bytes() Serializer {
	return bytesSerializer{}
}

func (bytesSerializer) Size(v any) (int, error) {
	b, ok := v.([]byte)
	if !ok {
		return 0, fmt.Errorf("%w: got %T, want []byte", ErrTypeMismatch, v)
	}
	return len(b), nil
}

func (bytesSerializer) Append(dst []byte, v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return dst, fmt.Errorf("%w: got %T, want []byte", ErrTypeMismatch, v)
	}
	return append(dst, b...), nil
}

func (bytesSerializer) Unmarshal(data []byte) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// typeOf returns the reflect.Type for T, including interface types.
func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}
