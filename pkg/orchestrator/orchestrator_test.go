package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/envelope"
	"github.com/backkem/protoorch/pkg/handler"
	"github.com/backkem/protoorch/pkg/protocol"
	"github.com/backkem/protoorch/pkg/serializer"
	"github.com/backkem/protoorch/pkg/transport"
)

type hello struct{ Name string }
type welcome struct{ Name string }
type ready struct{ OK bool }
type ping struct{ N int }
type pong struct{ N int }
type note struct{ Text string }
type unregistered struct{}

func newRegistry(t *testing.T) *serializer.Registry {
	t.Helper()
	r := serializer.NewRegistry()
	for _, err := range []error{
		serializer.AddJSON[hello](r, "hello"),
		serializer.AddJSON[welcome](r, "welcome"),
		serializer.AddJSON[ready](r, "ready"),
		serializer.AddJSON[ping](r, "ping"),
		serializer.AddJSON[pong](r, "pong"),
		serializer.AddJSON[note](r, "note"),
	} {
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return r
}

// newMode returns a mode with every test type registered.
func newMode(t *testing.T, n int) *protocol.Mode {
	t.Helper()
	return protocol.NewMode(n, newRegistry(t))
}

func newProtocol(t *testing.T, hs *protocol.Handshake, modes ...*protocol.Mode) *protocol.Protocol {
	t.Helper()
	if len(modes) == 0 {
		modes = []*protocol.Mode{newMode(t, 0)}
	}
	return protocol.New("test", hs, modes...)
}

// errorSink collects MessageErrors from callbacks.
type errorSink chan MessageError

func newErrorSink() errorSink {
	return make(errorSink, 64)
}

func (s errorSink) callbacks() Callbacks {
	return Callbacks{OnMessageError: func(err MessageError) { s <- err }}
}

func (s errorSink) wait(t *testing.T, target error) MessageError {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case merr := <-s:
			if errors.Is(merr, target) {
				return merr
			}
			t.Logf("ignoring message error: %v", merr)
		case <-timeout:
			t.Fatalf("no message error matching %v", target)
			return MessageError{}
		}
	}
}

func startPair(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()
	pair, err := NewTestPair(config)
	if err != nil {
		t.Fatalf("NewTestPair() error = %v", err)
	}
	t.Cleanup(func() { pair.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pair.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return pair
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %T", *new(T))
		var zero T
		return zero
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	pipe := transport.NewPipe()
	defer pipe.Close()
	t0, _ := pipe.Transports()
	ch, err := channel.New(channel.Config{Transport: t0, Role: channel.RoleClient})
	if err != nil {
		t.Fatalf("channel.New() error = %v", err)
	}

	if _, err := New(Config{Channel: ch}); !errors.Is(err, ErrNoProtocol) {
		t.Errorf("New() without protocol error = %v, want %v", err, ErrNoProtocol)
	}
	if _, err := New(Config{Protocol: newProtocol(t, protocol.NoHandshake())}); !errors.Is(err, ErrNoChannel) {
		t.Errorf("New() without channel error = %v, want %v", err, ErrNoChannel)
	}

	var cfgErr *protocol.ConfigError
	if _, err := New(Config{Protocol: protocol.New("empty", protocol.NoHandshake()), Channel: ch}); !errors.As(err, &cfgErr) {
		t.Errorf("New() with invalid protocol error = %v, want *protocol.ConfigError", err)
	}

	o, err := New(Config{Protocol: newProtocol(t, protocol.NoHandshake()), Channel: ch})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if o.State() != StateNotStarted {
		t.Errorf("State() = %v, want %v", o.State(), StateNotStarted)
	}
	if o.Protocol().Name != "test" || o.Channel() != ch {
		t.Error("accessors do not return configured values")
	}
}

func TestOrchestrator_NoHandshake(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	got := make(chan note, 1)
	server := newMode(t, 0).HandleCommand(handler.OnCommand(func(_ context.Context, n note) error {
		got <- n
		return nil
	}))

	pair := startPair(t, TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake()),
		newProtocol(t, protocol.NoHandshake(), server),
	}})

	for i := 0; i < 2; i++ {
		if s := pair.Orchestrator(i).State(); s != StateStarted {
			t.Fatalf("side %d State() = %v, want %v", i, s, StateStarted)
		}
	}

	if _, err := pair.Orchestrator(0).SendMessage(envelope.DispatchCommand, note{Text: "hi"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if n := recv(t, got); n.Text != "hi" {
		t.Errorf("received %+v, want Text=hi", n)
	}
}

func TestOrchestrator_RequestResponse(t *testing.T) {
	type result struct {
		req  ping
		resp pong
		info handler.Info
	}
	results := make(chan result, 1)

	client := newMode(t, 0).HandleResponse(handler.OnResponse(func(ctx context.Context, req ping, resp pong) error {
		info, _ := handler.InfoFromContext(ctx)
		results <- result{req, resp, info}
		return nil
	}))
	server := newMode(t, 0).HandleRequest(handler.OnRequest(func(_ context.Context, req ping) (pong, error) {
		return pong{N: req.N * 10}, nil
	}))

	pair := startPair(t, TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake(), client),
		newProtocol(t, protocol.NoHandshake(), server),
	}})

	id, err := pair.Orchestrator(0).SendMessage(envelope.DispatchRequest, ping{N: 4})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	r := recv(t, results)
	if r.req.N != 4 || r.resp.N != 40 {
		t.Errorf("response handler got (%+v, %+v), want (4, 40)", r.req, r.resp)
	}
	if r.info.RequestID != id || r.info.DispatchType != envelope.DispatchResponse {
		t.Errorf("Info = %+v, want RequestID %d Response", r.info, id)
	}
	waitFor(t, "pending to drain", func() bool { return pair.Orchestrator(0).PendingRequests() == 0 })
}

func TestOrchestrator_RequestIDsIncrease(t *testing.T) {
	pair := startPair(t, TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake()),
		newProtocol(t, protocol.NoHandshake()),
	}})

	o := pair.Orchestrator(0)
	var last int32
	for i := 0; i < 5; i++ {
		id, err := o.SendMessage(envelope.DispatchCommand, note{})
		if err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		if id <= last {
			t.Fatalf("request id %d not greater than %d", id, last)
		}
		last = id
	}
}

// TestOrchestrator_ReorderedResponses checks that responses delivered in
// reverse order still reach the handler with the request that caused them.
func TestOrchestrator_ReorderedResponses(t *testing.T) {
	lim := test.TimeOut(15 * time.Second)
	defer lim.Stop()

	const n = 5

	type pair struct{ req, resp int }
	matched := make(chan pair, n)
	client := newMode(t, 0).HandleResponse(handler.OnResponse(func(_ context.Context, req ping, resp pong) error {
		matched <- pair{req.N, resp.N}
		return nil
	}))

	var arrived atomic.Int32
	release := make(chan struct{})
	server := newMode(t, 0).HandleRequest(handler.OnRequest(func(_ context.Context, req ping) (pong, error) {
		arrived.Add(1)
		<-release
		return pong(req), nil
	}))

	pipeConfig := transport.DefaultPipeConfig()
	pipeConfig.AutoProcess = false
	tp := startPair(t, TestPairConfig{
		Protocols: [2]*protocol.Protocol{
			newProtocol(t, protocol.NoHandshake(), client),
			newProtocol(t, protocol.NoHandshake(), server),
		},
		Pipe: &pipeConfig,
	})
	pipe := tp.Pipe()

	deliver := func(from int) {
		waitFor(t, "frames to deliver", func() bool {
			pipe.Tick()
			return pipe.Pending(from) == 0
		})
	}

	for i := 1; i <= n; i++ {
		if _, err := tp.Orchestrator(0).SendMessage(envelope.DispatchRequest, ping{N: i}); err != nil {
			t.Fatalf("SendMessage(%d) error = %v", i, err)
		}
	}
	waitFor(t, "requests queued", func() bool { return pipe.Pending(0) == n })
	deliver(0)
	waitFor(t, "requests handled", func() bool { return arrived.Load() == n })

	close(release)
	waitFor(t, "responses queued", func() bool { return pipe.Pending(1) == n })
	if err := pipe.Reorder(1); err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}
	deliver(1)

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		m := recv(t, matched)
		if m.req != m.resp {
			t.Errorf("response %d paired with request %d", m.resp, m.req)
		}
		if seen[m.req] {
			t.Errorf("request %d answered twice", m.req)
		}
		seen[m.req] = true
	}
	if pending := tp.Orchestrator(0).PendingRequests(); pending != 0 {
		t.Errorf("PendingRequests() = %d, want 0", pending)
	}
}

func TestOrchestrator_UnmatchedResponse(t *testing.T) {
	sink := newErrorSink()
	server := newMode(t, 0).HandleResponse(handler.OnResponse(func(context.Context, ping, pong) error {
		t.Error("response handler called without a request")
		return nil
	}))

	pair := startPair(t, TestPairConfig{
		Protocols: [2]*protocol.Protocol{
			newProtocol(t, protocol.NoHandshake()),
			newProtocol(t, protocol.NoHandshake(), server),
		},
		Callbacks: [2]Callbacks{{}, sink.callbacks()},
	})

	if _, err := pair.Orchestrator(0).SendMessage(envelope.DispatchResponse, pong{N: 9}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	merr := sink.wait(t, ErrUnmatchedResponse)
	if merr.Direction != DirectionInbound {
		t.Errorf("Direction = %v, want %v", merr.Direction, DirectionInbound)
	}
	if _, ok := merr.Envelope.Message.(pong); !ok {
		t.Errorf("Envelope.Message = %T, want pong", merr.Envelope.Message)
	}
}

func TestOrchestrator_ModeIsolation(t *testing.T) {
	sink := newErrorSink()
	got := make(chan handler.Info, 1)

	mode0 := newMode(t, 0)
	mode1 := newMode(t, 1).HandleCommand(handler.OnCommand(func(ctx context.Context, _ note) error {
		info, _ := handler.InfoFromContext(ctx)
		got <- info
		return nil
	}))

	pair := startPair(t, TestPairConfig{
		Protocols: [2]*protocol.Protocol{
			newProtocol(t, protocol.NoHandshake()),
			newProtocol(t, protocol.NoHandshake(), mode0, mode1),
		},
		Callbacks: [2]Callbacks{{}, sink.callbacks()},
	})
	client, server := pair.Orchestrator(0), pair.Orchestrator(1)

	if _, err := client.SendMessage(envelope.DispatchCommand, note{Text: "mode 0"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	sink.wait(t, ErrNoHandler)

	if err := server.SetActiveMode(1); err != nil {
		t.Fatalf("SetActiveMode(1) error = %v", err)
	}
	if server.ActiveMode() != 1 {
		t.Fatalf("ActiveMode() = %d, want 1", server.ActiveMode())
	}
	if _, err := client.SendMessage(envelope.DispatchCommand, note{Text: "mode 1"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if info := recv(t, got); info.Mode != 1 {
		t.Errorf("Info.Mode = %d, want 1", info.Mode)
	}

	if err := server.SetActiveMode(2); !errors.Is(err, protocol.ErrUnknownMode) {
		t.Errorf("SetActiveMode(2) error = %v, want %v", err, protocol.ErrUnknownMode)
	}
	if server.ActiveMode() != 1 {
		t.Errorf("ActiveMode() = %d after failed switch, want 1", server.ActiveMode())
	}
}

func TestOrchestrator_DecodeFailureDropped(t *testing.T) {
	sink := newErrorSink()
	got := make(chan note, 1)
	server := newMode(t, 0).HandleCommand(handler.OnCommand(func(_ context.Context, n note) error {
		got <- n
		return nil
	}))

	pair := startPair(t, TestPairConfig{
		Protocols: [2]*protocol.Protocol{
			newProtocol(t, protocol.NoHandshake()),
			newProtocol(t, protocol.NoHandshake(), server),
		},
		Callbacks: [2]Callbacks{{}, sink.callbacks()},
	})

	if err := pair.Channel(0).SendBytes(context.Background(), []byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("SendBytes() error = %v", err)
	}

	merr := sink.wait(t, envelope.ErrTooShort)
	if merr.Direction != DirectionInbound || merr.Envelope.Message != nil {
		t.Errorf("MessageError = %+v, want inbound with zero envelope", merr)
	}

	if _, err := pair.Orchestrator(0).SendMessage(envelope.DispatchCommand, note{Text: "after"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if n := recv(t, got); n.Text != "after" {
		t.Errorf("received %+v after bad frame", n)
	}
	if s := pair.Orchestrator(1).State(); s != StateStarted {
		t.Errorf("State() = %v after bad frame, want %v", s, StateStarted)
	}
}

var errRefused = errors.New("refused")

func TestOrchestrator_HandlerFailures(t *testing.T) {
	sink := newErrorSink()
	got := make(chan note, 1)
	server := newMode(t, 0).
		HandleCommand(handler.OnCommand(func(_ context.Context, n note) error {
			if n.Text == "panic" {
				panic("boom")
			}
			got <- n
			return nil
		})).
		HandleRequest(handler.OnRequest(func(_ context.Context, p ping) (pong, error) {
			return pong{}, errRefused
		}))

	pair := startPair(t, TestPairConfig{
		Protocols: [2]*protocol.Protocol{
			newProtocol(t, protocol.NoHandshake()),
			newProtocol(t, protocol.NoHandshake(), server),
		},
		Callbacks: [2]Callbacks{{}, sink.callbacks()},
	})
	client := pair.Orchestrator(0)

	if _, err := client.SendMessage(envelope.DispatchCommand, note{Text: "panic"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	sink.wait(t, ErrHandlerPanic)

	if _, err := client.SendMessage(envelope.DispatchRequest, ping{N: 1}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	sink.wait(t, errRefused)

	if _, err := client.SendMessage(envelope.DispatchCommand, note{Text: "still alive"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if n := recv(t, got); n.Text != "still alive" {
		t.Errorf("received %+v", n)
	}
	if pair.Orchestrator(1).State() != StateStarted {
		t.Error("server stopped after handler failures")
	}
}

func TestOrchestrator_SendMessageErrors(t *testing.T) {
	pair, err := NewTestPair(TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake()),
		newProtocol(t, protocol.NoHandshake()),
	}})
	if err != nil {
		t.Fatalf("NewTestPair() error = %v", err)
	}
	defer pair.Close()
	o := pair.Orchestrator(0)

	if _, err := o.SendMessage(envelope.DispatchCommand, note{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SendMessage() before Start error = %v, want %v", err, ErrNotStarted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pair.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		name     string
		dispatch envelope.DispatchType
		msg      any
		want     error
	}{
		{"invalid dispatch", envelope.DispatchType(9), note{}, ErrInvalidDispatchType},
		{"nil message", envelope.DispatchCommand, nil, ErrNilMessage},
		{"nil pointer", envelope.DispatchCommand, (*note)(nil), ErrNilMessage},
		{"unregistered type", envelope.DispatchCommand, unregistered{}, ErrNoSerializer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.SendMessage(tt.dispatch, tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := o.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	if err := o.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if _, err := o.SendMessage(envelope.DispatchCommand, note{}); !errors.Is(err, ErrFinished) {
		t.Errorf("SendMessage() after Finish error = %v, want %v", err, ErrFinished)
	}
	if err := o.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() after Finish error = %v, want %v", err, ErrAlreadyStarted)
	}
}

func TestOrchestrator_SendGenerated(t *testing.T) {
	got := make(chan note, 1)
	client := newMode(t, 0).AddGenerator(handler.Generate(func(context.Context) (note, error) {
		return note{Text: "generated"}, nil
	}))
	server := newMode(t, 0).HandleCommand(handler.OnCommand(func(_ context.Context, n note) error {
		got <- n
		return nil
	}))

	pair := startPair(t, TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake(), client),
		newProtocol(t, protocol.NoHandshake(), server),
	}})

	ctx := context.Background()
	if _, err := pair.Orchestrator(0).SendGenerated(ctx, envelope.DispatchCommand, reflect.TypeOf(note{})); err != nil {
		t.Fatalf("SendGenerated() error = %v", err)
	}
	if n := recv(t, got); n.Text != "generated" {
		t.Errorf("received %+v", n)
	}

	if _, err := pair.Orchestrator(0).SendGenerated(ctx, envelope.DispatchCommand, reflect.TypeOf(ping{})); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("SendGenerated(ping) error = %v, want %v", err, ErrNoGenerator)
	}
}

// brokenTransport connects but fails every send.
type brokenTransport struct {
	mu    sync.Mutex
	alive bool
}

var errBrokenSend = errors.New("broken send")

func (b *brokenTransport) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alive = true
	return nil
}

func (b *brokenTransport) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alive = false
	return nil
}

func (b *brokenTransport) IsAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

func (b *brokenTransport) Send(context.Context, []byte) error {
	return errBrokenSend
}

func (b *brokenTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func TestOrchestrator_SendFailureClearsPending(t *testing.T) {
	ch, err := channel.New(channel.Config{Transport: &brokenTransport{}, Role: channel.RoleClient})
	if err != nil {
		t.Fatalf("channel.New() error = %v", err)
	}

	sink := newErrorSink()
	o, err := New(Config{
		Protocol:  newProtocol(t, protocol.NoHandshake()),
		Channel:   ch,
		Callbacks: sink.callbacks(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Finish(ctx)

	id, err := o.SendMessage(envelope.DispatchRequest, ping{N: 1})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	merr := sink.wait(t, errBrokenSend)
	if merr.Direction != DirectionOutbound {
		t.Errorf("Direction = %v, want %v", merr.Direction, DirectionOutbound)
	}
	if merr.Envelope.RequestID != id {
		t.Errorf("RequestID = %d, want %d", merr.Envelope.RequestID, id)
	}
	if n := o.PendingRequests(); n != 0 {
		t.Errorf("PendingRequests() = %d after failed send, want 0", n)
	}
	if o.State() != StateStarted {
		t.Errorf("State() = %v, want %v", o.State(), StateStarted)
	}
}

func TestOrchestrator_ChannelClosedFinishes(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	pair := startPair(t, TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake()),
		newProtocol(t, protocol.NoHandshake()),
	}})
	server := pair.Orchestrator(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- server.RunToEnd(ctx) }()

	if err := pair.Channel(1).Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := recv(t, result); err != nil {
		t.Fatalf("RunToEnd() error = %v", err)
	}
	select {
	case <-server.Done():
	default:
		t.Error("Done() not closed")
	}
	if !errors.Is(server.Err(), ErrChannelClosed) {
		t.Errorf("Err() = %v, want %v", server.Err(), ErrChannelClosed)
	}
	if server.State() != StateFinished {
		t.Errorf("State() = %v, want %v", server.State(), StateFinished)
	}
}

func TestOrchestrator_FinishClosesChannel(t *testing.T) {
	pair := startPair(t, TestPairConfig{Protocols: [2]*protocol.Protocol{
		newProtocol(t, protocol.NoHandshake()),
		newProtocol(t, protocol.NoHandshake()),
	}})
	o := pair.Orchestrator(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := o.Finish(ctx); err != nil {
		t.Fatalf("second Finish() error = %v", err)
	}
	if s := pair.Channel(0).State(); s != channel.StateClosed {
		t.Errorf("channel State() = %v, want %v", s, channel.StateClosed)
	}
	if !errors.Is(o.Err(), ErrFinished) {
		t.Errorf("Err() = %v, want %v", o.Err(), ErrFinished)
	}
}

func TestOrchestrator_Callbacks(t *testing.T) {
	var mu sync.Mutex
	var states []string
	var sent, received atomic.Int32

	callbacks := Callbacks{
		OnStateChanged: func(old, new State) {
			mu.Lock()
			states = append(states, old.String()+"->"+new.String())
			mu.Unlock()
		},
		OnSentMessage:     func(envelope.Envelope) { sent.Add(1) },
		OnReceivedMessage: func(envelope.Envelope) { received.Add(1) },
	}

	pair := startPair(t, TestPairConfig{
		Protocols: [2]*protocol.Protocol{
			newProtocol(t, newTwoWay(nil)),
			newProtocol(t, newTwoWay(nil)),
		},
		Callbacks: [2]Callbacks{callbacks, {}},
	})
	o := pair.Orchestrator(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"NotStarted->Handshaking", "Handshaking->Started", "Started->Finished"}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("state changes = %v, want %v", states, want)
	}
	if sent.Load() != 1 || received.Load() != 1 {
		t.Errorf("sent %d received %d handshake messages, want 1 and 1", sent.Load(), received.Load())
	}
}
