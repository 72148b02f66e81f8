// Package orchestrator runs a protocol over a channel.
//
// An Orchestrator owns one channel.Channel and one protocol.Protocol. Start
// opens the channel and performs the configured handshake; afterwards
// SendMessage frames payloads into envelopes and the orchestrator routes
// received envelopes to the handlers of the active mode, pairing responses
// with the requests that caused them.
//
// Three single-consumer queues keep processing ordered: outbound envelopes
// are encoded and sent in enqueue order, received frames are decoded and
// dispatched in arrival order, and user callbacks are delivered in event
// order on their own goroutine. Handlers run on separate goroutines so a
// slow or panicking handler never stalls a queue.
package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/envelope"
	"github.com/backkem/protoorch/pkg/metrics"
	"github.com/backkem/protoorch/pkg/protocol"
)

// DefaultTimeout bounds Start and Finish when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// MessageError describes a failure to process one envelope.
type MessageError struct {
	// Direction is the queue the failure happened on.
	Direction Direction

	// Envelope is the affected envelope. It is the zero value when the
	// frame could not be decoded.
	Envelope envelope.Envelope

	// Err is the cause.
	Err error
}

// Error implements error.
func (e MessageError) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Direction, e.Envelope, e.Err)
}

// Unwrap returns the cause.
func (e MessageError) Unwrap() error {
	return e.Err
}

// Callbacks receive orchestrator events. Nil fields are skipped.
// Callbacks are delivered in order on a dedicated goroutine; they may send
// messages but must not call Finish or RunToEnd.
type Callbacks struct {
	OnStateChanged    func(old, new State)
	OnReceivedMessage func(env envelope.Envelope)
	OnSentMessage     func(env envelope.Envelope)
	OnMessageError    func(err MessageError)
}

// Config configures an Orchestrator.
type Config struct {
	// Protocol is the protocol to run. It is validated by New. Required.
	Protocol *protocol.Protocol

	// Channel carries the envelopes. It is opened by Start if closed. Required.
	Channel *channel.Channel

	// DefaultTimeout bounds Start and Finish when their context has no deadline.
	// Default: DefaultTimeout
	DefaultTimeout time.Duration

	// Magic is the envelope marker. Default: envelope.DefaultMagic
	Magic uint32

	// Callbacks receive events.
	Callbacks Callbacks

	// Metrics records traffic and state. Default: metrics.Nop
	Metrics metrics.Recorder

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// outboundItem is one envelope waiting on the outbound queue.
type outboundItem struct {
	env  envelope.Envelope
	mode int

	// result, if set, receives the send outcome.
	result chan error
}

func (it outboundItem) complete(err error) {
	if it.result != nil {
		it.result <- err
	}
}

// Orchestrator drives one protocol session over one channel.
type Orchestrator struct {
	protocol  *protocol.Protocol
	channel   *channel.Channel
	codecs    []envelope.Codec
	timeout   time.Duration
	callbacks Callbacks
	metrics   metrics.Recorder
	log       logging.LeveledLogger
	initiator bool

	// ctx is cancelled when the orchestrator finishes.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	started        bool
	state          State
	hsState        HandshakeState
	syncMsg        any
	ackMsg         any
	activeMode     int
	pending        map[int32]any
	cause          error
	startResolved  bool
	removeListener func()
	closerDone     chan struct{}

	startResult chan error
	done        chan struct{}

	nextID atomic.Int32

	outbound      *serialQueue[outboundItem]
	inbound       *serialQueue[[]byte]
	events        *serialQueue[func()]
	consumersOnce sync.Once
	handlers      sync.WaitGroup
}

// New validates the protocol and creates an orchestrator in StateNotStarted.
func New(config Config) (*Orchestrator, error) {
	if config.Protocol == nil {
		return nil, ErrNoProtocol
	}
	if config.Channel == nil {
		return nil, ErrNoChannel
	}
	if err := config.Protocol.Validate(); err != nil {
		return nil, err
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultTimeout
	}
	if config.Magic == 0 {
		config.Magic = envelope.DefaultMagic
	}
	if config.Metrics == nil {
		config.Metrics = metrics.Nop{}
	}

	codecs := make([]envelope.Codec, len(config.Protocol.Modes))
	for i, m := range config.Protocol.Modes {
		codecs[i] = envelope.Codec{Magic: config.Magic, Payload: m.Serializers}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		protocol:    config.Protocol,
		channel:     config.Channel,
		codecs:      codecs,
		timeout:     config.DefaultTimeout,
		callbacks:   config.Callbacks,
		metrics:     config.Metrics,
		initiator:   config.Protocol.Handshake.IsInitiator(config.Channel.LocalRole()),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[int32]any),
		startResult: make(chan error, 1),
		done:        make(chan struct{}),
		outbound:    newSerialQueue[outboundItem](),
		inbound:     newSerialQueue[[]byte](),
		events:      newSerialQueue[func()](),
	}

	if config.LoggerFactory != nil {
		o.log = config.LoggerFactory.NewLogger("orchestrator")
	}

	return o, nil
}

// Protocol returns the protocol being run.
func (o *Orchestrator) Protocol() *protocol.Protocol {
	return o.protocol
}

// Channel returns the underlying channel.
func (o *Orchestrator) Channel() *channel.Channel {
	return o.channel
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// HandshakeState returns the handshake sub-state.
func (o *Orchestrator) HandshakeState() HandshakeState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hsState
}

// ActiveMode returns the number of the mode used for sends and dispatch.
func (o *Orchestrator) ActiveMode() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeMode
}

// SetActiveMode switches the mode used for subsequent sends and dispatch.
// The request ID counter and outstanding requests are kept.
func (o *Orchestrator) SetActiveMode(n int) error {
	if _, err := o.protocol.Mode(n); err != nil {
		return err
	}

	o.mu.Lock()
	old := o.activeMode
	o.activeMode = n
	o.mu.Unlock()

	if o.log != nil && old != n {
		o.log.Debugf("%s: active mode %d -> %d", o.protocol.Name, old, n)
	}
	return nil
}

// PendingRequests returns the number of requests awaiting a response.
func (o *Orchestrator) PendingRequests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Done is closed when the orchestrator reaches StateFinished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Err returns why the orchestrator finished, or nil while it runs.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cause
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Start opens the channel if needed and runs the handshake. It blocks until
// the orchestrator is Started, the handshake fails or ctx expires; the last
// two finish the orchestrator and close the channel.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	o.mu.Lock()
	if o.started || o.state != StateNotStarted {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.removeListener = o.channel.AddListener(channel.Listener{
		OnReceivedBytes: o.onReceivedBytes,
		OnClosed:        o.onChannelClosed,
	})
	o.mu.Unlock()

	if o.channel.State() == channel.StateClosed {
		if err := o.channel.Open(ctx); err != nil {
			err = fmt.Errorf("%w: %w", ErrStartFailed, err)
			o.finish(err)
			return err
		}
	}

	hs := o.protocol.Handshake

	o.mu.Lock()
	if o.state == StateFinished {
		err := o.cause
		o.mu.Unlock()
		return err
	}
	if hs.Type == protocol.HandshakeNone {
		o.setStateLocked(StateStarted)
		o.startResolved = true
		o.mu.Unlock()
		o.startConsumers()
		return nil
	}
	o.setStateLocked(StateHandshaking)
	if o.initiator {
		o.hsState = HandshakeAwaitingAck
	} else {
		o.hsState = HandshakeAwaitingSync
	}
	o.mu.Unlock()

	o.startConsumers()

	if o.log != nil {
		o.log.Debugf("%s: %s handshake as %s (initiator=%v)", o.protocol.Name, hs.Type, o.channel.LocalRole(), o.initiator)
	}

	if o.initiator {
		if err := o.sendSync(); err != nil {
			o.fail(err)
		}
	}

	select {
	case err := <-o.startResult:
		return err
	case <-ctx.Done():
		o.fail(fmt.Errorf("%w: %w", ErrStartTimeout, ctx.Err()))
		return <-o.startResult
	}
}

// TryStart is Start reporting success as a boolean.
func (o *Orchestrator) TryStart(ctx context.Context) bool {
	return o.Start(ctx) == nil
}

func (o *Orchestrator) startConsumers() {
	o.consumersOnce.Do(func() {
		go o.outbound.run(o.processOutbound)
		go o.inbound.run(o.processInbound)
		go o.events.run(func(fn func()) { fn() })
	})
}

// setStateLocked changes the state and queues the notification.
// The caller must hold o.mu.
func (o *Orchestrator) setStateLocked(next State) {
	old := o.state
	if old == next {
		return
	}
	o.state = next

	o.metrics.StateChanged(o.protocol.Name, old.String(), next.String())
	if o.log != nil {
		o.log.Debugf("%s: %s -> %s", o.protocol.Name, old, next)
	}
	if cb := o.callbacks.OnStateChanged; cb != nil {
		o.events.push(func() { cb(old, next) })
	}
}

// resolveStart delivers the Start result once.
func (o *Orchestrator) resolveStart(err error) {
	o.mu.Lock()
	if o.startResolved {
		o.mu.Unlock()
		return
	}
	o.startResolved = true
	o.mu.Unlock()

	o.startResult <- err
}

func (o *Orchestrator) onReceivedBytes(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	o.inbound.push(buf)
}

func (o *Orchestrator) onChannelClosed() {
	o.finish(ErrChannelClosed)
}

// finish moves to StateFinished once, then closes the channel in the
// background and lets the queues drain.
func (o *Orchestrator) finish(cause error) {
	o.mu.Lock()
	if o.state == StateFinished {
		o.mu.Unlock()
		return
	}
	o.cause = cause
	o.setStateLocked(StateFinished)
	closerDone := make(chan struct{})
	o.closerDone = closerDone
	o.mu.Unlock()

	o.cancel()
	if o.log != nil {
		o.log.Debugf("%s: finished: %v", o.protocol.Name, cause)
	}

	o.resolveStart(cause)
	close(o.done)

	go func() {
		defer close(closerDone)
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.channel.Close(ctx); err != nil && o.log != nil {
			o.log.Warnf("%s: close channel: %v", o.protocol.Name, err)
		}
	}()

	o.startConsumers()
	o.outbound.close()
	o.inbound.close()
	o.events.close()
}

// Finish stops the orchestrator, closes the channel and waits for queued
// work and running handlers, bounded by ctx. It must not be called from a
// handler or callback.
func (o *Orchestrator) Finish(ctx context.Context) error {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	o.finish(ErrFinished)

	o.mu.Lock()
	closerDone := o.closerDone
	o.mu.Unlock()

	// Handlers are only spawned by the inbound consumer, so its exit is
	// what makes waiting on the group safe.
	handlersDone := make(chan struct{})
	go func() {
		<-o.inbound.done
		o.handlers.Wait()
		close(handlersDone)
	}()

	for _, ch := range []<-chan struct{}{closerDone, o.outbound.done, o.inbound.done, handlersDone, o.events.done} {
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("orchestrator: finish: %w", ctx.Err())
		}
	}

	o.mu.Lock()
	remove := o.removeListener
	o.removeListener = nil
	o.mu.Unlock()
	if remove != nil {
		remove()
	}
	return nil
}

// RunToEnd blocks until the orchestrator finishes, then releases its
// resources with Finish.
func (o *Orchestrator) RunToEnd(ctx context.Context) error {
	select {
	case <-o.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	return o.Finish(fctx)
}

// SendMessage queues msg for sending with the given dispatch type in the
// active mode and returns the request ID assigned to the envelope.
//
// It fails synchronously for invalid input or when the active mode cannot
// encode msg. Failures after queueing are reported through OnMessageError.
func (o *Orchestrator) SendMessage(dispatch envelope.DispatchType, msg any) (int32, error) {
	if !dispatch.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDispatchType, dispatch)
	}
	if isNil(msg) {
		return 0, ErrNilMessage
	}

	o.mu.Lock()
	state := o.state
	mode := o.activeMode
	o.mu.Unlock()

	switch state {
	case StateFinished:
		return 0, ErrFinished
	case StateStarted:
	default:
		return 0, fmt.Errorf("%w: state %s", ErrNotStarted, state)
	}

	if !o.protocol.Modes[mode].Serializers.Has(reflect.TypeOf(msg)) {
		return 0, fmt.Errorf("%w: %T in mode %d", ErrNoSerializer, msg, mode)
	}

	id := o.nextID.Add(1)
	item := outboundItem{
		env:  envelope.Envelope{DispatchType: dispatch, RequestID: id, Message: msg},
		mode: mode,
	}
	if !o.outbound.push(item) {
		return 0, ErrFinished
	}
	return id, nil
}

// SendGenerated sends the output of the active mode's generator for typ.
func (o *Orchestrator) SendGenerated(ctx context.Context, dispatch envelope.DispatchType, typ reflect.Type) (int32, error) {
	mode := o.ActiveMode()
	g, ok := o.protocol.Modes[mode].Generator(typ)
	if !ok {
		return 0, fmt.Errorf("%w: %v in mode %d", ErrNoGenerator, typ, mode)
	}

	msg, err := g.GenerateMessage(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: generate %v: %w", typ, err)
	}
	return o.SendMessage(dispatch, msg)
}

// sendResponse queues the response to request id.
func (o *Orchestrator) sendResponse(id int32, msg any) error {
	item := outboundItem{
		env:  envelope.Envelope{DispatchType: envelope.DispatchResponse, RequestID: id, Message: msg},
		mode: o.ActiveMode(),
	}
	if !o.outbound.push(item) {
		return ErrFinished
	}
	return nil
}

// processOutbound encodes and sends one envelope. Requests are recorded as
// pending before the bytes leave so a fast response always finds its
// request; a failed send removes the record again.
func (o *Orchestrator) processOutbound(item outboundItem) {
	if o.ctx.Err() != nil {
		item.complete(ErrFinished)
		return
	}

	env := item.env
	data, err := o.codecs[item.mode].Marshal(env)
	if err != nil {
		o.sendFailed(item, fmt.Errorf("encode: %w", err))
		return
	}

	isRequest := env.DispatchType == envelope.DispatchRequest
	if isRequest {
		o.mu.Lock()
		o.pending[env.RequestID] = env.Message
		n := len(o.pending)
		o.mu.Unlock()
		o.metrics.PendingRequests(o.protocol.Name, n)
	}

	if err := o.channel.SendBytes(o.ctx, data); err != nil {
		if isRequest {
			o.mu.Lock()
			delete(o.pending, env.RequestID)
			n := len(o.pending)
			o.mu.Unlock()
			o.metrics.PendingRequests(o.protocol.Name, n)
		}
		o.sendFailed(item, err)
		return
	}

	o.metrics.MessageSent(o.protocol.Name, env.DispatchType.String(), item.mode)
	if cb := o.callbacks.OnSentMessage; cb != nil {
		o.events.push(func() { cb(env) })
	}
	item.complete(nil)
}

func (o *Orchestrator) sendFailed(item outboundItem, err error) {
	if o.log != nil {
		o.log.Warnf("%s: send %v in mode %d failed: %v", o.protocol.Name, item.env, item.mode, err)
	}
	o.reportError(DirectionOutbound, item.env, err)
	item.complete(err)
}

// reportError records a message error and queues its notification.
func (o *Orchestrator) reportError(dir Direction, env envelope.Envelope, err error) {
	o.metrics.MessageError(o.protocol.Name, dir.String())
	if cb := o.callbacks.OnMessageError; cb != nil {
		merr := MessageError{Direction: dir, Envelope: env, Err: err}
		o.events.push(func() { cb(merr) })
	}
}

// isNil reports whether v is nil or a nil pointer, map, slice, func,
// channel or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
