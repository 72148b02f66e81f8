package envelope

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PayloadCodec encodes the Message field of an envelope.
// *serializer.Registry implements this interface.
type PayloadCodec interface {
	PayloadSize(v any) (int, error)
	AppendPayload(dst []byte, v any) ([]byte, error)
	DecodePayload(data []byte) (any, error)
}

// Header is the decoded fixed part of an envelope.
type Header struct {
	Magic         uint32
	DispatchType  DispatchType
	RequestID     int32
	PayloadLength uint32
}

// DecodeHeader parses the fixed header and checks it against magic.
// The dispatch type is not validated.
func DecodeHeader(data []byte, magic uint32) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}

	h := Header{
		Magic:         binary.LittleEndian.Uint32(data[0:4]),
		DispatchType:  DispatchType(data[4]),
		RequestID:     int32(binary.LittleEndian.Uint32(data[5:9])),
		PayloadLength: binary.LittleEndian.Uint32(data[9:13]),
	}
	if h.Magic != magic {
		return h, fmt.Errorf("%w: got 0x%08x", ErrNotEnvelope, h.Magic)
	}
	return h, nil
}

// IsEnvelope reports whether data starts with a complete header carrying magic.
func IsEnvelope(data []byte, magic uint32) bool {
	_, err := DecodeHeader(data, magic)
	return err == nil
}

// Codec serializes envelopes using a payload codec.
type Codec struct {
	// Magic is the marker written to and expected from the wire.
	Magic uint32

	// Payload encodes the envelope message.
	Payload PayloadCodec
}

// NewCodec creates a codec with DefaultMagic.
func NewCodec(payload PayloadCodec) Codec {
	return Codec{Magic: DefaultMagic, Payload: payload}
}

// Size returns the number of bytes Marshal produces for env.
func (c Codec) Size(env Envelope) (int, error) {
	if c.Payload == nil {
		return 0, ErrNoPayloadCodec
	}
	n, err := c.Payload.PayloadSize(env.Message)
	if err != nil {
		return 0, err
	}
	return HeaderSize + n, nil
}

// Marshal encodes env into a new buffer.
func (c Codec) Marshal(env Envelope) ([]byte, error) {
	size, err := c.Size(env)
	if err != nil {
		return nil, err
	}
	if !env.DispatchType.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDispatchType, env.DispatchType)
	}
	if uint64(size-HeaderSize) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize, size)
	binary.LittleEndian.PutUint32(buf[0:4], c.Magic)
	buf[4] = byte(env.DispatchType)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(env.RequestID))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(size-HeaderSize))

	buf, err = c.Payload.AppendPayload(buf, env.Message)
	if err != nil {
		return nil, err
	}
	if len(buf) != size {
		return nil, fmt.Errorf("envelope: payload size mismatch: declared %d, wrote %d", size-HeaderSize, len(buf)-HeaderSize)
	}
	return buf, nil
}

// Unmarshal decodes one envelope from data.
// Bytes beyond the declared payload length are ignored.
func (c Codec) Unmarshal(data []byte) (Envelope, error) {
	if c.Payload == nil {
		return Envelope{}, ErrNoPayloadCodec
	}

	h, err := DecodeHeader(data, c.Magic)
	if err != nil {
		return Envelope{}, err
	}
	if uint64(len(data)-HeaderSize) < uint64(h.PayloadLength) {
		return Envelope{}, fmt.Errorf("%w: declared %d, have %d", ErrTruncated, h.PayloadLength, len(data)-HeaderSize)
	}
	if !h.DispatchType.IsValid() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrInvalidDispatchType, h.DispatchType)
	}

	msg, err := c.Payload.DecodePayload(data[HeaderSize : HeaderSize+int(h.PayloadLength)])
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		DispatchType: h.DispatchType,
		RequestID:    h.RequestID,
		Message:      msg,
	}, nil
}
