package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/protoorch/pkg/protocol"
)

// TXT record keys.
const (
	// TXTKeyProtocol is the protocol name key.
	TXTKeyProtocol = "proto"

	// TXTKeyModes is the number of modes the protocol defines.
	TXTKeyModes = "modes"

	// TXTKeyHandshake is the handshake type key (None, TwoWay, ThreeWay).
	TXTKeyHandshake = "hs"

	// TXTKeyTransport is the transport kind key (tcp, ws).
	TXTKeyTransport = "tr"

	// TXTKeyPath is the HTTP path of WebSocket endpoints.
	TXTKeyPath = "path"
)

// MaxProtocolNameLength is the maximum length of the protocol name.
const MaxProtocolNameLength = 63

// ServiceTXT holds the TXT record of a protocol endpoint.
type ServiceTXT struct {
	// Protocol is the protocol name (required).
	Protocol string

	// Modes is the number of modes, at least 1.
	Modes int

	// Handshake is the handshake the endpoint expects.
	Handshake protocol.HandshakeType

	// Transport is the transport to dial. Default: TransportTCP
	Transport TransportKind

	// Path is the HTTP path for TransportWebSocket (optional).
	Path string
}

// TXTFromProtocol fills a record from a protocol description.
func TXTFromProtocol(p *protocol.Protocol, transport TransportKind) ServiceTXT {
	txt := ServiceTXT{
		Protocol:  p.Name,
		Modes:     len(p.Modes),
		Transport: transport,
	}
	if p.Handshake != nil {
		txt.Handshake = p.Handshake.Type
	}
	return txt
}

// Encode converts the TXT record to DNS-SD format strings.
func (s *ServiceTXT) Encode() []string {
	transport := s.Transport
	if transport == TransportUnknown {
		transport = TransportTCP
	}

	txt := []string{
		fmt.Sprintf("%s=%s", TXTKeyProtocol, s.Protocol),
		fmt.Sprintf("%s=%d", TXTKeyModes, s.Modes),
		fmt.Sprintf("%s=%s", TXTKeyHandshake, s.Handshake),
		fmt.Sprintf("%s=%s", TXTKeyTransport, transport),
	}
	if s.Path != "" {
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeyPath, s.Path))
	}
	return txt
}

// Validate checks that the record can be advertised.
func (s *ServiceTXT) Validate() error {
	if s.Protocol == "" || len(s.Protocol) > MaxProtocolNameLength || strings.ContainsRune(s.Protocol, '=') {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, s.Protocol)
	}
	if s.Modes < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidModes, s.Modes)
	}
	if !s.Handshake.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidHandshake, s.Handshake)
	}
	if s.Transport != TransportUnknown && !s.Transport.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidTransport, s.Transport)
	}
	return nil
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseServiceTXT parses raw TXT records into a ServiceTXT.
func ParseServiceTXT(records []string) (*ServiceTXT, error) {
	m := ParseTXT(records)
	txt := &ServiceTXT{Transport: TransportTCP}

	proto, ok := m[TXTKeyProtocol]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyProtocol)
	}
	txt.Protocol = proto

	if v, ok := m[TXTKeyModes]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyModes, v)
		}
		txt.Modes = n
	} else {
		txt.Modes = 1
	}

	if v, ok := m[TXTKeyHandshake]; ok {
		hs, err := parseHandshakeType(v)
		if err != nil {
			return nil, err
		}
		txt.Handshake = hs
	}

	if v, ok := m[TXTKeyTransport]; ok {
		if txt.Transport = ParseTransportKind(v); txt.Transport == TransportUnknown {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTransport, v)
		}
	}
	txt.Path = m[TXTKeyPath]

	if err := txt.Validate(); err != nil {
		return nil, err
	}
	return txt, nil
}

func parseHandshakeType(s string) (protocol.HandshakeType, error) {
	for _, t := range []protocol.HandshakeType{protocol.HandshakeNone, protocol.HandshakeTwoWay, protocol.HandshakeThreeWay} {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return protocol.HandshakeNone, fmt.Errorf("%w: %q", ErrInvalidHandshake, s)
}
