package orchestrator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/backkem/protoorch/pkg/envelope"
	"github.com/backkem/protoorch/pkg/handler"
)

// processInbound decodes one received frame and routes it. While
// handshaking, frames are decoded with mode 0 and fed to the handshake.
func (o *Orchestrator) processInbound(data []byte) {
	o.mu.Lock()
	state := o.state
	mode := o.activeMode
	o.mu.Unlock()

	switch state {
	case StateFinished:
		return
	case StateHandshaking:
		mode = 0
	}

	env, err := o.codecs[mode].Unmarshal(data)
	if err != nil {
		if o.log != nil {
			o.log.Warnf("%s: dropping %d byte frame in mode %d: %v", o.protocol.Name, len(data), mode, err)
		}
		o.reportError(DirectionInbound, envelope.Envelope{}, fmt.Errorf("decode: %w", err))
		return
	}

	o.metrics.MessageReceived(o.protocol.Name, env.DispatchType.String(), mode)
	if cb := o.callbacks.OnReceivedMessage; cb != nil {
		o.events.push(func() { cb(env) })
	}

	if state == StateHandshaking {
		o.handleHandshake(env)
		return
	}
	o.dispatch(env, mode)
}

// dispatch routes a decoded envelope to the handlers of mode.
func (o *Orchestrator) dispatch(env envelope.Envelope, mode int) {
	m := o.protocol.Modes[mode]
	typ := reflect.TypeOf(env.Message)
	info := handler.Info{DispatchType: env.DispatchType, RequestID: env.RequestID, Mode: mode}

	switch env.DispatchType {
	case envelope.DispatchCommand:
		h, ok := m.Command(typ)
		if !ok {
			o.dispatchFailed(env, mode, fmt.Errorf("%w: command %v in mode %d", ErrNoHandler, typ, mode))
			return
		}
		o.runHandler(env, info, func(ctx context.Context) error {
			return h.Execute(ctx, env.Message)
		})

	case envelope.DispatchRequest:
		h, ok := m.Request(typ)
		if !ok {
			o.dispatchFailed(env, mode, fmt.Errorf("%w: request %v in mode %d", ErrNoHandler, typ, mode))
			return
		}
		o.runHandler(env, info, func(ctx context.Context) error {
			resp, err := h.Execute(ctx, env.Message)
			if err != nil {
				return err
			}
			if isNil(resp) {
				return ErrNilResponse
			}
			return o.sendResponse(env.RequestID, resp)
		})

	case envelope.DispatchResponse:
		o.mu.Lock()
		req, ok := o.pending[env.RequestID]
		if ok {
			delete(o.pending, env.RequestID)
		}
		n := len(o.pending)
		o.mu.Unlock()

		if !ok {
			o.dispatchFailed(env, mode, fmt.Errorf("%w: request id %d", ErrUnmatchedResponse, env.RequestID))
			return
		}
		o.metrics.PendingRequests(o.protocol.Name, n)

		reqType := reflect.TypeOf(req)
		h, ok := m.Response(reqType, typ)
		if !ok {
			o.dispatchFailed(env, mode, fmt.Errorf("%w: response %v to %v in mode %d", ErrNoHandler, typ, reqType, mode))
			return
		}
		o.runHandler(env, info, func(ctx context.Context) error {
			return h.Execute(ctx, req, env.Message)
		})
	}
}

func (o *Orchestrator) dispatchFailed(env envelope.Envelope, mode int, err error) {
	if o.log != nil {
		o.log.Warnf("%s: %v in mode %d: %v", o.protocol.Name, env, mode, err)
	}
	o.reportError(DirectionInbound, env, err)
}

// runHandler executes fn on its own goroutine. Errors and panics are
// logged and reported, never propagated.
func (o *Orchestrator) runHandler(env envelope.Envelope, info handler.Info, fn func(ctx context.Context) error) {
	o.handlers.Add(1)
	go func() {
		defer o.handlers.Done()

		ctx := handler.WithInfo(o.ctx, info)
		if err := safely(func() error { return fn(ctx) }); err != nil {
			if o.log != nil {
				o.log.Warnf("%s: %s handler for %T failed in mode %d: %v",
					o.protocol.Name, env.DispatchType, env.Message, info.Mode, err)
			}
			o.reportError(DirectionInbound, env, err)
		}
	}()
}

// safely runs fn and converts a panic into ErrHandlerPanic.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn()
}
