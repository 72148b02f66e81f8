package transport

import (
	"context"
	"net"
	"sync"

	"github.com/pion/logging"
)

// TCPListenerConfig configures a TCPListener.
type TCPListenerConfig struct {
	// Listener is an optional pre-existing listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":7400").
	// Ignored if Listener is provided.
	ListenAddr string

	// Stream configures the transports handed out by Accept.
	Stream StreamConfig

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// TCPListener accepts TCP connections and hands each one out as a Stream.
type TCPListener struct {
	listener net.Listener
	stream   StreamConfig
	conns    chan *Stream
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// ListenTCP creates a listener and starts accepting connections.
func ListenTCP(config TCPListenerConfig) (*TCPListener, error) {
	l := &TCPListener{
		listener: config.Listener,
		stream:   config.Stream,
		conns:    make(chan *Stream),
		closeCh:  make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport-tcp")
	}
	if l.stream.LoggerFactory == nil {
		l.stream.LoggerFactory = config.LoggerFactory
	}

	if l.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0" // Use ephemeral port
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		l.listener = listener
	}

	if l.log != nil {
		l.log.Infof("listening on %s", l.listener.Addr())
	}

	l.wg.Add(1)
	go l.acceptLoop()

	return l, nil
}

// Addr returns the address the listener is bound to.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for the next connection.
func (l *TCPListener) Accept(ctx context.Context) (*Stream, error) {
	select {
	case s := <-l.conns:
		return s, nil
	case <-l.closeCh:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting. Connections already handed out stay open.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.closeCh)
	err := l.listener.Close()
	l.wg.Wait()

	if l.log != nil {
		l.log.Info("listener closed")
	}
	if isClosedErr(err) {
		return nil
	}
	return err
}

func (l *TCPListener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
			}
			if l.log != nil {
				l.log.Warnf("accept: %v", err)
			}
			if isClosedErr(err) {
				return
			}
			continue
		}

		if l.log != nil {
			l.log.Debugf("accepted %s", conn.RemoteAddr())
		}

		select {
		case l.conns <- NewStream(conn, l.stream):
		case <-l.closeCh:
			conn.Close()
			return
		}
	}
}
