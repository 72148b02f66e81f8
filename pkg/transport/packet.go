package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
)

// DefaultMaxPacketSize bounds a single datagram.
const DefaultMaxPacketSize = 65535

// PacketConfig configures a Packet.
type PacketConfig struct {
	// PollInterval is how long Receive waits before returning (nil, nil).
	// Default: DefaultPollInterval
	PollInterval time.Duration

	// MaxPacketSize is the receive buffer size. Larger datagrams are
	// truncated by the network and fail to decode. Default: DefaultMaxPacketSize
	MaxPacketSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// packetConn reads and writes whole datagrams on a net.Conn.
type packetConn struct {
	net.Conn
	size int
}

func (c *packetConn) ReadFrame() ([]byte, error) {
	buf := make([]byte, c.size)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *packetConn) WriteFrame(data []byte) error {
	if len(data) > c.size {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), c.size)
	}
	_, err := c.Write(data)
	return err
}

// Packet is a channel.Transport over a connection that preserves message
// boundaries, one frame per datagram. It adds no reliability; use it where
// the link itself is reliable or loss is acceptable.
type Packet struct {
	*connTransport
}

func newPacketConn(conn net.Conn, config PacketConfig) *packetConn {
	size := config.MaxPacketSize
	if size <= 0 {
		size = DefaultMaxPacketSize
	}
	return &packetConn{Conn: conn, size: size}
}

// NewPacket creates a packet transport around an established connection.
func NewPacket(conn net.Conn, config PacketConfig) *Packet {
	return &Packet{
		connTransport: newConnTransport("transport-packet", newPacketConn(conn, config), nil,
			config.PollInterval, config.LoggerFactory),
	}
}

// NewUDPDialer creates a packet transport connected to addr over UDP.
func NewUDPDialer(addr string, config PacketConfig) *Packet {
	var d net.Dialer
	return &Packet{
		connTransport: newConnTransport("transport-packet", nil, func(ctx context.Context) (frameConn, error) {
			conn, err := d.DialContext(ctx, "udp", addr)
			if err != nil {
				return nil, err
			}
			return newPacketConn(conn, config), nil
		}, config.PollInterval, config.LoggerFactory),
	}
}
