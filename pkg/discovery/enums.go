// Package discovery advertises and resolves protocol endpoints over DNS-SD
// (mDNS).
//
// Every endpoint is published under the _protoorch._tcp service type. The
// TXT record names the protocol spoken, its mode count, its handshake type
// and the transport to dial, so a client can pick a peer and build a
// matching channel without out-of-band configuration.
package discovery

// DNS-SD service type strings.
const (
	// Service is the DNS-SD service type of protocol endpoints.
	Service = "_protoorch._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)

// TransportKind names the transport an endpoint accepts.
type TransportKind int

// TransportKind constants.
const (
	// TransportUnknown represents a missing or unrecognized transport.
	TransportUnknown TransportKind = iota

	// TransportTCP is a length-prefixed TCP stream.
	TransportTCP

	// TransportWebSocket is a WebSocket connection carrying binary frames.
	TransportWebSocket
)

// String returns the TXT value of the transport kind.
func (k TransportKind) String() string {
	switch k {
	case TransportTCP:
		return "tcp"
	case TransportWebSocket:
		return "ws"
	default:
		return "unknown"
	}
}

// IsValid returns true if the transport kind is valid.
func (k TransportKind) IsValid() bool {
	return k == TransportTCP || k == TransportWebSocket
}

// ParseTransportKind parses a TXT transport value.
func ParseTransportKind(s string) TransportKind {
	switch s {
	case "tcp":
		return TransportTCP
	case "ws":
		return TransportWebSocket
	default:
		return TransportUnknown
	}
}
