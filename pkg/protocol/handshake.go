package protocol

import (
	"fmt"
	"reflect"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/handler"
)

// HandshakeType selects the opening exchange of a protocol.
type HandshakeType int

const (
	// HandshakeNone starts dispatching immediately after the channel opens.
	HandshakeNone HandshakeType = iota

	// HandshakeTwoWay exchanges Sync then Ack.
	HandshakeTwoWay

	// HandshakeThreeWay exchanges Sync, Ack then Verack.
	HandshakeThreeWay
)

// String returns a human-readable name for the handshake type.
func (t HandshakeType) String() string {
	switch t {
	case HandshakeNone:
		return "None"
	case HandshakeTwoWay:
		return "TwoWay"
	case HandshakeThreeWay:
		return "ThreeWay"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the type is a defined value.
func (t HandshakeType) IsValid() bool {
	return t >= HandshakeNone && t <= HandshakeThreeWay
}

// MessageCount is the number of messages exchanged.
func (t HandshakeType) MessageCount() int {
	switch t {
	case HandshakeTwoWay:
		return 2
	case HandshakeThreeWay:
		return 3
	default:
		return 0
	}
}

// Handshake configures the opening exchange.
type Handshake struct {
	// Type is the handshake variant.
	Type HandshakeType

	// Initiator is the channel role that sends the Sync message.
	Initiator channel.Role

	// Handler produces and verifies handshake messages.
	Handler handler.HandshakeHandler

	// MessageTypes lists the Sync, Ack and (three-way) Verack payload types.
	MessageTypes []reflect.Type
}

// NoHandshake returns a handshake configuration that skips the handshake.
func NoHandshake() *Handshake {
	return &Handshake{Type: HandshakeNone}
}

// NewHandshake builds a handshake whose message types come from h.
func NewHandshake(typ HandshakeType, initiator channel.Role, h handler.HandshakeHandler) *Handshake {
	hs := &Handshake{
		Type:      typ,
		Initiator: initiator,
		Handler:   h,
	}
	if h != nil {
		types := h.MessageTypes()
		if n := typ.MessageCount(); n <= len(types) {
			types = types[:n]
		}
		hs.MessageTypes = append([]reflect.Type(nil), types...)
	}
	return hs
}

func (h *Handshake) messageType(index int, name string) (reflect.Type, error) {
	if index >= h.Type.MessageCount() {
		return nil, fmt.Errorf("%w: %s handshake has no %s message", ErrHandshakeConfig, h.Type, name)
	}
	if index >= len(h.MessageTypes) {
		return nil, fmt.Errorf("%w: %s message type not declared (%d of %d types)",
			ErrHandshakeConfig, name, len(h.MessageTypes), h.Type.MessageCount())
	}
	if h.MessageTypes[index] == nil {
		return nil, fmt.Errorf("%w: %s message type is nil", ErrHandshakeConfig, name)
	}
	return h.MessageTypes[index], nil
}

// SyncMessageType returns the payload type of the initiator's first message.
func (h *Handshake) SyncMessageType() (reflect.Type, error) {
	return h.messageType(0, "Sync")
}

// AckMessageType returns the payload type of the receiver's reply.
func (h *Handshake) AckMessageType() (reflect.Type, error) {
	return h.messageType(1, "Ack")
}

// VerackMessageType returns the payload type of the initiator's final
// message. It fails for anything but a three-way handshake.
func (h *Handshake) VerackMessageType() (reflect.Type, error) {
	return h.messageType(2, "Verack")
}

// IsInitiator reports whether role sends the Sync message.
func (h *Handshake) IsInitiator(role channel.Role) bool {
	return h.Initiator == role
}

func (h *Handshake) validate(mode0 *Mode) []string {
	var problems []string
	if !h.Type.IsValid() {
		return append(problems, fmt.Sprintf("handshake: invalid type %d", h.Type))
	}
	if h.Type == HandshakeNone {
		return nil
	}

	if !h.Initiator.IsValid() {
		problems = append(problems, fmt.Sprintf("handshake: invalid initiator role %v", h.Initiator))
	}
	if h.Handler == nil {
		problems = append(problems, "handshake: handler is nil")
	}

	getters := []func() (reflect.Type, error){h.SyncMessageType, h.AckMessageType, h.VerackMessageType}
	for _, get := range getters[:h.Type.MessageCount()] {
		typ, err := get()
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if mode0 != nil && mode0.Serializers != nil && !mode0.Serializers.Has(typ) {
			problems = append(problems, fmt.Sprintf("handshake: %v: %v not registered in mode 0", ErrMissingSerializer, typ))
		}
	}
	return problems
}
