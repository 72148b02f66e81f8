// Package envelope frames protocol messages on the wire.
//
// Every message travels in an envelope with a fixed 13-byte little-endian
// header followed by the encoded payload:
//
//	+-----------+----------+------------+-------------+---------+
//	| magic (4) | kind (1) | req id (4) | length (4)  | payload |
//	+-----------+----------+------------+-------------+---------+
package envelope

import "fmt"

// Header layout.
const (
	MagicSize        = 4
	DispatchTypeSize = 1
	RequestIDSize    = 4
	LengthSize       = 4

	// HeaderSize is the fixed envelope header size.
	HeaderSize = MagicSize + DispatchTypeSize + RequestIDSize + LengthSize
)

// DefaultMagic is the marker that identifies protocol traffic ("PRBO" on the wire).
const DefaultMagic uint32 = 0x4F425250

// DispatchType tells the receiver how to route an envelope.
type DispatchType uint8

const (
	// DispatchCommand is a fire-and-forget message.
	DispatchCommand DispatchType = 1

	// DispatchRequest expects a Response carrying the same request ID.
	DispatchRequest DispatchType = 2

	// DispatchResponse answers a previously sent Request.
	DispatchResponse DispatchType = 3
)

// String returns the dispatch type name.
func (d DispatchType) String() string {
	switch d {
	case DispatchCommand:
		return "Command"
	case DispatchRequest:
		return "Request"
	case DispatchResponse:
		return "Response"
	default:
		return fmt.Sprintf("DispatchType(%d)", d)
	}
}

// IsValid returns true if this is a known dispatch type.
func (d DispatchType) IsValid() bool {
	return d >= DispatchCommand && d <= DispatchResponse
}

// Envelope is one framed unit of wire traffic.
// Envelopes are values and are not modified after construction.
type Envelope struct {
	DispatchType DispatchType
	RequestID    int32
	Message      any
}

// String returns a short description for logs.
func (e Envelope) String() string {
	return fmt.Sprintf("%s#%d(%T)", e.DispatchType, e.RequestID, e.Message)
}
