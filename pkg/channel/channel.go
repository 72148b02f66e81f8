// Package channel owns the byte-level lifecycle of a single connection.
//
// A Channel wraps a Transport (TCP stream, WebSocket, in-memory pipe, ...)
// and presents it uniformly: Open connects and starts a background receive
// loop, SendBytes writes one frame, and Close stops the loop. Listeners
// observe lifecycle transitions and traffic. The channel knows nothing about
// messages; framing and dispatch live in the orchestrator.
//
// The receive loop is the only path back to StateClosed. Code that needs to
// know when a connection is gone can rely on the OnClosed notification
// being delivered exactly once per open cycle.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Channel defaults.
const (
	// DefaultTimeout bounds Open, Close and SendBytes when the caller's
	// context has no deadline.
	DefaultTimeout = 5 * time.Second

	// DefaultCloseGrace is how long Close waits for the receive loop to
	// react to cancellation before disconnecting the transport under it.
	DefaultCloseGrace = 150 * time.Millisecond
)

// Transport is the byte-level connection a Channel drives.
//
// Implementations must make Receive return promptly once Disconnect is
// called, and Disconnect must be safe to call more than once.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down.
	Disconnect() error

	// IsAlive reports whether the connection can still carry traffic.
	IsAlive() bool

	// Send writes one frame.
	Send(ctx context.Context, data []byte) error

	// Receive returns the next frame. It returns (nil, nil) when no frame
	// arrived within the transport's poll interval.
	Receive(ctx context.Context) ([]byte, error)
}

// Listener receives channel notifications. Nil fields are skipped.
// Callbacks run synchronously on the goroutine that caused them and must
// not block.
type Listener struct {
	OnOpening       func()
	OnOpened        func()
	OnClosing       func()
	OnClosed        func()
	OnReceivedBytes func(data []byte)
	OnSentBytes     func(data []byte)
}

// Config configures a Channel.
type Config struct {
	// Transport carries the bytes. Required.
	Transport Transport

	// Role is the local side of the connection. Required.
	Role Role

	// DefaultTimeout bounds blocking operations whose context has no deadline.
	// Default: DefaultTimeout
	DefaultTimeout time.Duration

	// CloseGrace is the cooperative shutdown window for the receive loop.
	// Default: DefaultCloseGrace
	CloseGrace time.Duration

	// ReceiveBackoff is the base pause after a failed receive.
	// Default: DefaultReceiveBackoff
	ReceiveBackoff time.Duration

	// MaxReceiveBackoff caps the pause between failed receives.
	// Default: DefaultMaxReceiveBackoff
	MaxReceiveBackoff time.Duration

	// RandomSource provides backoff jitter. Default: DefaultRandomSource
	RandomSource RandomSource

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// Channel manages one connection's lifecycle.
type Channel struct {
	id         uuid.UUID
	transport  Transport
	role       Role
	timeout    time.Duration
	closeGrace time.Duration
	backoff    *Backoff
	log        logging.LeveledLogger

	mu         sync.RWMutex
	state      State
	openCancel context.CancelFunc // cancels a Connect in progress
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	closedCh   chan struct{} // closed when the current cycle reaches StateClosed

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener uint64
}

// New creates a closed channel.
func New(config Config) (*Channel, error) {
	if config.Transport == nil {
		return nil, ErrNoTransport
	}
	if !config.Role.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRole, config.Role)
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultTimeout
	}
	if config.CloseGrace <= 0 {
		config.CloseGrace = DefaultCloseGrace
	}

	c := &Channel{
		id:         uuid.New(),
		transport:  config.Transport,
		role:       config.Role,
		timeout:    config.DefaultTimeout,
		closeGrace: config.CloseGrace,
		backoff:    NewBackoff(config.ReceiveBackoff, config.MaxReceiveBackoff, config.RandomSource),
		state:      StateClosed,
		closedCh:   closedChan(),
	}

	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("channel")
	}

	return c, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ID returns the channel's unique identifier.
func (c *Channel) ID() uuid.UUID {
	return c.id
}

// LocalRole returns the local side of the connection.
func (c *Channel) LocalRole() Role {
	return c.role
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsAlive reports whether the channel is open and its transport alive.
func (c *Channel) IsAlive() bool {
	c.mu.RLock()
	open := c.state == StateOpen
	c.mu.RUnlock()
	return open && c.transport.IsAlive()
}

// AddListener registers l and returns a function that removes it.
func (c *Channel) AddListener(l Listener) (remove func()) {
	c.listenersMu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listenerEntry{id: id, l: l})
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, e := range c.listeners {
				if e.id == id {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Channel) notify(fn func(l Listener)) {
	c.listenersMu.RLock()
	entries := make([]listenerEntry, len(c.listeners))
	copy(entries, c.listeners)
	c.listenersMu.RUnlock()

	for _, e := range entries {
		fn(e.l)
	}
}

func (c *Channel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Open connects the transport and starts the receive loop.
//
// On failure the channel returns to StateClosed; it is never observable as
// Open unless the transport connected and the loop started. An open that
// fails, or that Close interrupts, fires no OnClosed.
func (c *Channel) Open(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state != StateClosed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyOpen, state)
	}
	c.state = StateOpening
	c.openCancel = cancel
	c.closedCh = make(chan struct{})
	c.mu.Unlock()

	c.notify(func(l Listener) {
		if l.OnOpening != nil {
			l.OnOpening()
		}
	})

	if err := c.transport.Connect(ctx); err != nil {
		if c.log != nil {
			c.log.Warnf("channel %s: connect failed: %v", c.id, err)
		}
		c.mu.Lock()
		closing := c.state == StateClosing
		if !closing {
			// Never opened: back to Closed without a Closed notification.
			c.state = StateClosed
			c.openCancel = nil
		}
		closed := c.closedCh
		c.mu.Unlock()

		if closing {
			c.markClosed(false)
			return fmt.Errorf("%w: %w", ErrClosedWhileOpening, err)
		}
		close(closed)
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	c.mu.Lock()
	c.openCancel = nil
	if c.state != StateOpening {
		// Close was called while connecting.
		c.mu.Unlock()
		if err := c.transport.Disconnect(); err != nil && c.log != nil {
			c.log.Debugf("channel %s: disconnect after interrupted open: %v", c.id, err)
		}
		c.markClosed(false)
		return ErrClosedWhileOpening
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopCancel = loopCancel
	c.loopDone = done
	go c.receiveLoop(loopCtx, done)
	c.state = StateOpen
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debugf("channel %s (%s): open", c.id, c.role)
	}

	c.notify(func(l Listener) {
		if l.OnOpened != nil {
			l.OnOpened()
		}
	})
	return nil
}

// TryOpen is Open reporting success as a boolean.
func (c *Channel) TryOpen(ctx context.Context) bool {
	return c.Open(ctx) == nil
}

// markClosed moves the channel to StateClosed. OnClosed fires once per
// open cycle, so a channel closed before it reached StateOpen stays silent.
func (c *Channel) markClosed(opened bool) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.loopCancel = nil
	c.loopDone = nil
	c.openCancel = nil
	ch := c.closedCh
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debugf("channel %s (%s): closed", c.id, c.role)
	}

	if opened {
		c.notify(func(l Listener) {
			if l.OnClosed != nil {
				l.OnClosed()
			}
		})
	}
	close(ch)
}

// Close stops the receive loop and disconnects the transport.
//
// Close is a no-op on a closed channel. Otherwise it moves to StateClosing,
// cancels the receive loop and waits up to the close grace period for it to
// exit before disconnecting the transport under it. It returns once the
// channel has reached StateClosed or ctx expires.
func (c *Channel) Close(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil
	case StateClosing:
		closed := c.closedCh
		c.mu.Unlock()
		return c.waitClosed(ctx, closed)
	}

	c.state = StateClosing
	openCancel := c.openCancel
	loopCancel := c.loopCancel
	loopDone := c.loopDone
	closed := c.closedCh
	c.mu.Unlock()

	c.notify(func(l Listener) {
		if l.OnClosing != nil {
			l.OnClosing()
		}
	})

	if openCancel != nil {
		openCancel()
	}
	if loopCancel != nil {
		loopCancel()

		grace := time.NewTimer(c.closeGrace)
		select {
		case <-loopDone:
		case <-grace.C:
			if c.log != nil {
				c.log.Debugf("channel %s: receive loop ignored cancellation, disconnecting", c.id)
			}
			if err := c.transport.Disconnect(); err != nil && c.log != nil {
				c.log.Debugf("channel %s: forced disconnect: %v", c.id, err)
			}
		}
		grace.Stop()
	}

	return c.waitClosed(ctx, closed)
}

func (c *Channel) waitClosed(ctx context.Context, closed <-chan struct{}) error {
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCloseTimeout, ctx.Err())
	}
}

// TryWaitClose blocks until the channel reaches StateClosed or ctx expires.
// It returns true if the channel is closed.
func (c *Channel) TryWaitClose(ctx context.Context) bool {
	c.mu.RLock()
	closed := c.closedCh
	c.mu.RUnlock()

	select {
	case <-closed:
		return true
	case <-ctx.Done():
		return c.State() == StateClosed
	}
}

// SendBytes writes one frame to the transport.
// It fails fast with ErrNotAlive when the channel is not open.
func (c *Channel) SendBytes(ctx context.Context, data []byte) error {
	if !c.IsAlive() {
		return ErrNotAlive
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.transport.Send(ctx, data); err != nil {
		if c.log != nil {
			c.log.Debugf("channel %s: send %d bytes failed: %v", c.id, len(data), err)
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.notify(func(l Listener) {
		if l.OnSentBytes != nil {
			l.OnSentBytes(data)
		}
	})
	return nil
}

// TrySendBytes is SendBytes reporting success as a boolean.
func (c *Channel) TrySendBytes(ctx context.Context, data []byte) bool {
	return c.SendBytes(ctx, data) == nil
}

func (c *Channel) shouldReceive(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.RLock()
	receiving := c.state.IsReceiving()
	c.mu.RUnlock()
	return receiving && c.transport.IsAlive()
}

// receiveLoop reads frames until cancelled or the transport dies.
// Exit always disconnects the transport and closes the channel.
func (c *Channel) receiveLoop(ctx context.Context, done chan struct{}) {
	defer func() {
		if err := c.transport.Disconnect(); err != nil && c.log != nil {
			c.log.Debugf("channel %s: disconnect: %v", c.id, err)
		}
		c.markClosed(true)
		close(done)
	}()

	failures := 0
	for c.shouldReceive(ctx) {
		data, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.log != nil {
				c.log.Warnf("channel %s: receive failed: %v", c.id, err)
			}
			pause := time.NewTimer(c.backoff.Calculate(failures))
			failures++
			select {
			case <-ctx.Done():
				pause.Stop()
				return
			case <-pause.C:
			}
			continue
		}
		failures = 0

		if len(data) > 0 {
			c.notify(func(l Listener) {
				if l.OnReceivedBytes != nil {
					l.OnReceivedBytes(data)
				}
			})
		}
	}
}
