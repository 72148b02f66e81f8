// Package transport provides channel.Transport implementations.
//
// Stream frames bytes over a reliable byte stream (TCP, unix sockets) with
// a 4-byte length prefix. Packet maps one frame to one datagram. WebSocket
// maps one frame to one binary message. Pipe is an in-memory packet link
// for tests, built on pion's virtual bridge.
//
// All transports share the same shape: Connect establishes the connection
// (dialing if configured), a background reader queues received frames, and
// Receive polls that queue so the channel's receive loop can check for
// cancellation between frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultPollInterval is how long Receive waits for a frame before
// returning (nil, nil).
const DefaultPollInterval = 100 * time.Millisecond

// receiveQueueSize bounds frames read ahead of Receive.
const receiveQueueSize = 64

// frameConn is one established connection that carries whole frames.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

// link is a live frameConn with its reader goroutine.
type link struct {
	conn    frameConn
	frames  chan []byte
	closing chan struct{}
	done    chan struct{}
	err     error // valid after done is closed

	closeOnce sync.Once
	closeErr  error
	writeMu   sync.Mutex
}

func newLink(conn frameConn) *link {
	l := &link{
		conn:    conn,
		frames:  make(chan []byte, receiveQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *link) readLoop() {
	defer close(l.done)
	for {
		data, err := l.conn.ReadFrame()
		if err != nil {
			l.err = err
			return
		}
		select {
		case l.frames <- data:
		case <-l.closing:
			return
		}
	}
}

// close tears the connection down and waits for the reader. The read
// deadline unblocks readers on connections whose Close is asynchronous.
func (l *link) close() error {
	l.closeOnce.Do(func() {
		close(l.closing)
		_ = l.conn.SetReadDeadline(time.Now())
		l.closeErr = l.conn.Close()
	})
	<-l.done
	return l.closeErr
}

func (l *link) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

func (l *link) alive() bool {
	if l.isClosing() {
		return false
	}
	select {
	case <-l.done:
		return len(l.frames) > 0
	default:
		return true
	}
}

// connTransport implements channel.Transport over frameConns.
type connTransport struct {
	name string
	dial func(ctx context.Context) (frameConn, error)
	poll time.Duration
	log  logging.LeveledLogger

	mu     sync.Mutex
	preset frameConn
	link   *link
}

func newConnTransport(name string, preset frameConn, dial func(ctx context.Context) (frameConn, error),
	poll time.Duration, loggerFactory logging.LoggerFactory) *connTransport {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	t := &connTransport{
		name:   name,
		dial:   dial,
		poll:   poll,
		preset: preset,
	}
	if loggerFactory != nil {
		t.log = loggerFactory.NewLogger(name)
	}
	return t
}

// Connect establishes the connection. A transport created around an
// existing connection uses it on the first call; a dialing transport dials
// on every call, so it can reconnect after Disconnect.
func (t *connTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link != nil && t.link.alive() {
		return ErrAlreadyConnected
	}

	var conn frameConn
	switch {
	case t.preset != nil:
		conn = t.preset
		t.preset = nil
	case t.dial != nil:
		var err error
		conn, err = t.dial(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDialFailed, err)
		}
	default:
		return ErrCannotReconnect
	}

	t.link = newLink(conn)
	if t.log != nil {
		t.log.Debugf("connected to %v", conn.RemoteAddr())
	}
	return nil
}

func (t *connTransport) current() *link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.link
}

// Disconnect closes the connection. It is safe to call more than once.
func (t *connTransport) Disconnect() error {
	l := t.current()
	if l == nil {
		return nil
	}
	first := !l.isClosing()
	err := l.close()
	if t.log != nil && first {
		t.log.Debugf("disconnected from %v", l.conn.RemoteAddr())
	}
	if !first || isClosedErr(err) {
		return nil
	}
	return err
}

// IsAlive reports whether frames can still be sent or received.
func (t *connTransport) IsAlive() bool {
	l := t.current()
	return l != nil && l.alive()
}

// Send writes one frame. The context deadline, if any, becomes the write
// deadline.
func (t *connTransport) Send(ctx context.Context, data []byte) error {
	l := t.current()
	if l == nil {
		return ErrNotConnected
	}
	if l.isClosing() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = l.conn.SetWriteDeadline(deadline)
		defer func() { _ = l.conn.SetWriteDeadline(time.Time{}) }()
	}
	return l.conn.WriteFrame(data)
}

// Receive returns the next frame, or (nil, nil) if none arrived within the
// poll interval.
func (t *connTransport) Receive(ctx context.Context) ([]byte, error) {
	l := t.current()
	if l == nil {
		return nil, ErrNotConnected
	}

	timer := time.NewTimer(t.poll)
	defer timer.Stop()

	select {
	case data := <-l.frames:
		return data, nil
	case <-l.done:
		select {
		case data := <-l.frames:
			return data, nil
		default:
		}
		if l.isClosing() {
			return nil, ErrClosed
		}
		if t.log != nil {
			t.log.Debugf("connection to %v lost: %v", l.conn.RemoteAddr(), l.err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, l.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// RemoteAddr returns the peer address of the current connection, or nil.
func (t *connTransport) RemoteAddr() net.Addr {
	l := t.current()
	if l == nil {
		return nil
	}
	return l.conn.RemoteAddr()
}

func isClosedErr(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
