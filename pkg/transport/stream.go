package transport

import (
	"context"
	"net"
	"time"

	"github.com/pion/logging"
)

// StreamConfig configures a Stream.
type StreamConfig struct {
	// PollInterval is how long Receive waits before returning (nil, nil).
	// Default: DefaultPollInterval
	PollInterval time.Duration

	// MaxFrameSize bounds received frames. Default: DefaultMaxFrameSize
	MaxFrameSize uint32

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// streamConn frames a net.Conn with length prefixes.
type streamConn struct {
	net.Conn
	reader *FrameReader
	writer *FrameWriter
}

func newStreamConn(conn net.Conn, maxFrame uint32) *streamConn {
	return &streamConn{
		Conn:   conn,
		reader: NewFrameReader(conn, maxFrame),
		writer: NewFrameWriter(conn),
	}
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	return c.reader.Read()
}

func (c *streamConn) WriteFrame(data []byte) error {
	_, err := c.writer.Write(data)
	return err
}

// Stream is a channel.Transport over a byte stream with 4-byte
// little-endian length-prefix framing.
type Stream struct {
	*connTransport
}

// NewStream creates a stream transport around an established connection,
// typically one returned by a listener. It cannot reconnect.
func NewStream(conn net.Conn, config StreamConfig) *Stream {
	return &Stream{
		connTransport: newConnTransport("transport-stream", newStreamConn(conn, config.MaxFrameSize), nil,
			config.PollInterval, config.LoggerFactory),
	}
}

// NewStreamDialer creates a stream transport that calls dial on every
// Connect.
func NewStreamDialer(dial func(ctx context.Context) (net.Conn, error), config StreamConfig) *Stream {
	return &Stream{
		connTransport: newConnTransport("transport-stream", nil, func(ctx context.Context) (frameConn, error) {
			conn, err := dial(ctx)
			if err != nil {
				return nil, err
			}
			return newStreamConn(conn, config.MaxFrameSize), nil
		}, config.PollInterval, config.LoggerFactory),
	}
}

// NewTCPDialer creates a stream transport that dials addr over TCP.
func NewTCPDialer(addr string, config StreamConfig) *Stream {
	var d net.Dialer
	return NewStreamDialer(func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}, config)
}
