package handler

import (
	"context"
	"fmt"
	"reflect"
)

// HandshakeOutcome is the result of verifying a handshake message.
type HandshakeOutcome uint8

const (
	// OutcomeRejected means the peer is not accepted.
	OutcomeRejected HandshakeOutcome = iota
	// OutcomeAccepted means the peer is accepted.
	OutcomeAccepted
)

// String returns the outcome name.
func (o HandshakeOutcome) String() string {
	switch o {
	case OutcomeRejected:
		return "Rejected"
	case OutcomeAccepted:
		return "Accepted"
	default:
		return fmt.Sprintf("HandshakeOutcome(%d)", o)
	}
}

// NoVerack is the verack type parameter for two-way handshakes.
type NoVerack struct{}

// HandshakeHandler drives the application side of a handshake.
//
// The initiator calls Generate to produce the Sync message and Verify once
// the Ack arrives. The receiver calls Receive with the Sync to produce the
// Ack and, for three-way handshakes, Acknowledge once the Verack arrives.
type HandshakeHandler interface {
	// MessageTypes returns the Sync, Ack and Verack payload types in order.
	MessageTypes() []reflect.Type

	// Generate produces the Sync message (initiator).
	Generate(ctx context.Context) (any, error)

	// Verify checks the peer's Ack against the Sync that was sent and
	// produces the Verack used by three-way handshakes (initiator).
	Verify(ctx context.Context, sync, ack any) (any, HandshakeOutcome, error)

	// Receive checks the peer's Sync and produces the Ack (receiver).
	Receive(ctx context.Context, sync any) (any, HandshakeOutcome, error)

	// Acknowledge checks the peer's Verack (receiver, three-way only).
	Acknowledge(ctx context.Context, sync, ack, verack any) (bool, error)
}

// TypedHandshakeHandler is a handshake handler over concrete payload types.
// Two-way handshakes use NoVerack for V.
type TypedHandshakeHandler[S, A, V any] interface {
	GenerateHandshake(ctx context.Context) (S, error)
	VerifyHandshake(ctx context.Context, sync S, ack A) (V, HandshakeOutcome, error)
	ReceiveHandshake(ctx context.Context, sync S) (A, HandshakeOutcome, error)
	AcknowledgeHandshake(ctx context.Context, sync S, ack A, verack V) (bool, error)
}

type handshakeAdapter[S, A, V any] struct {
	h TypedHandshakeHandler[S, A, V]
}

// Handshake wraps a typed handshake handler for use in a protocol.
func Handshake[S, A, V any](h TypedHandshakeHandler[S, A, V]) HandshakeHandler {
	return handshakeAdapter[S, A, V]{h: h}
}

func (a handshakeAdapter[S, A, V]) MessageTypes() []reflect.Type {
	return []reflect.Type{typeOf[S](), typeOf[A](), typeOf[V]()}
}

func (a handshakeAdapter[S, A, V]) Generate(ctx context.Context) (any, error) {
	return a.h.GenerateHandshake(ctx)
}

func (a handshakeAdapter[S, A, V]) Verify(ctx context.Context, sync, ack any) (any, HandshakeOutcome, error) {
	s, err := cast[S](sync)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	k, err := cast[A](ack)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	return a.h.VerifyHandshake(ctx, s, k)
}

func (a handshakeAdapter[S, A, V]) Receive(ctx context.Context, sync any) (any, HandshakeOutcome, error) {
	s, err := cast[S](sync)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	return a.h.ReceiveHandshake(ctx, s)
}

func (a handshakeAdapter[S, A, V]) Acknowledge(ctx context.Context, sync, ack, verack any) (bool, error) {
	s, err := cast[S](sync)
	if err != nil {
		return false, err
	}
	k, err := cast[A](ack)
	if err != nil {
		return false, err
	}
	v, err := cast[V](verack)
	if err != nil {
		return false, err
	}
	return a.h.AcknowledgeHandshake(ctx, s, k, v)
}

// HandshakeFuncs implements TypedHandshakeHandler with optional callbacks.
//
// Missing Generate or Receive callbacks fail with ErrNotImplemented. A missing
// Verify accepts with a zero Verack and a missing Acknowledge accepts.
type HandshakeFuncs[S, A, V any] struct {
	Generate    func(ctx context.Context) (S, error)
	Verify      func(ctx context.Context, sync S, ack A) (V, HandshakeOutcome, error)
	Receive     func(ctx context.Context, sync S) (A, HandshakeOutcome, error)
	Acknowledge func(ctx context.Context, sync S, ack A, verack V) (bool, error)
}

// GenerateHandshake calls Generate.
func (f HandshakeFuncs[S, A, V]) GenerateHandshake(ctx context.Context) (S, error) {
	if f.Generate == nil {
		var zero S
		return zero, fmt.Errorf("%w: Generate", ErrNotImplemented)
	}
	return f.Generate(ctx)
}

// VerifyHandshake calls Verify.
func (f HandshakeFuncs[S, A, V]) VerifyHandshake(ctx context.Context, sync S, ack A) (V, HandshakeOutcome, error) {
	if f.Verify == nil {
		var zero V
		return zero, OutcomeAccepted, nil
	}
	return f.Verify(ctx, sync, ack)
}

// ReceiveHandshake calls Receive.
func (f HandshakeFuncs[S, A, V]) ReceiveHandshake(ctx context.Context, sync S) (A, HandshakeOutcome, error) {
	if f.Receive == nil {
		var zero A
		return zero, OutcomeRejected, fmt.Errorf("%w: Receive", ErrNotImplemented)
	}
	return f.Receive(ctx, sync)
}

// AcknowledgeHandshake calls Acknowledge.
func (f HandshakeFuncs[S, A, V]) AcknowledgeHandshake(ctx context.Context, sync S, ack A, verack V) (bool, error) {
	if f.Acknowledge == nil {
		return true, nil
	}
	return f.Acknowledge(ctx, sync, ack, verack)
}
