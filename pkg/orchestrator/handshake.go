package orchestrator

import (
	"fmt"
	"reflect"

	"github.com/backkem/protoorch/pkg/envelope"
	"github.com/backkem/protoorch/pkg/handler"
	"github.com/backkem/protoorch/pkg/protocol"
)

// sendSync generates the initiator's Sync and sends it.
func (o *Orchestrator) sendSync() error {
	hs := o.protocol.Handshake

	var msg any
	err := safely(func() error {
		var err error
		msg, err = hs.Handler.Generate(o.ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: generate sync: %w", ErrHandshakeRejected, err)
	}

	o.mu.Lock()
	o.syncMsg = msg
	o.mu.Unlock()

	return o.sendHandshake(msg)
}

// sendHandshake sends msg as a mode 0 command and waits until it left.
// The inbound consumer blocks here, so no frame is dispatched before the
// state change that follows a successful send. Handshake envelopes draw
// their id from the same counter as SendMessage.
func (o *Orchestrator) sendHandshake(msg any) error {
	result := make(chan error, 1)
	item := outboundItem{
		env: envelope.Envelope{
			DispatchType: envelope.DispatchCommand,
			RequestID:    o.nextID.Add(1),
			Message:      msg,
		},
		mode:   0,
		result: result,
	}
	if !o.outbound.push(item) {
		return ErrFinished
	}

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakeSendFailed, err)
		}
		return nil
	case <-o.ctx.Done():
		return ErrFinished
	}
}

// complete moves a handshaking orchestrator to StateStarted.
func (o *Orchestrator) complete() {
	o.mu.Lock()
	if o.state != StateHandshaking {
		o.mu.Unlock()
		return
	}
	o.setStateLocked(StateStarted)
	o.mu.Unlock()

	o.metrics.HandshakeFinished(o.protocol.Name, o.channel.LocalRole().String(), handler.OutcomeAccepted.String())
	if o.log != nil {
		o.log.Infof("%s: handshake complete as %s", o.protocol.Name, o.channel.LocalRole())
	}
	o.resolveStart(nil)
}

// fail finishes a handshaking orchestrator with err. The handshake
// sub-state is left as it was.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	handshaking := o.state == StateHandshaking
	o.mu.Unlock()
	if !handshaking {
		return
	}

	o.metrics.HandshakeFinished(o.protocol.Name, o.channel.LocalRole().String(), handler.OutcomeRejected.String())
	if o.log != nil {
		o.log.Warnf("%s: handshake failed as %s: %v", o.protocol.Name, o.channel.LocalRole(), err)
	}
	o.finish(err)
}

func unexpected(got, want reflect.Type) error {
	return fmt.Errorf("%w: %w: got %v, want %v", ErrHandshakeRejected, ErrUnexpectedHandshakeMessage, got, want)
}

func rejected(step string, outcome handler.HandshakeOutcome, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHandshakeRejected, step, err)
	}
	return fmt.Errorf("%w: %s: %s", ErrHandshakeRejected, step, outcome)
}

// handleHandshake advances the handshake with one received envelope.
func (o *Orchestrator) handleHandshake(env envelope.Envelope) {
	hs := o.protocol.Handshake
	got := reflect.TypeOf(env.Message)

	o.mu.Lock()
	state := o.hsState
	syncMsg := o.syncMsg
	ackMsg := o.ackMsg
	o.mu.Unlock()

	switch state {
	case HandshakeAwaitingAck:
		if !o.initiator {
			o.fail(fmt.Errorf("%w: receiver awaiting ack", ErrHandshakeInternal))
			return
		}
		want, err := hs.AckMessageType()
		if err != nil {
			o.fail(fmt.Errorf("%w: %w", ErrHandshakeInternal, err))
			return
		}
		if got != want {
			o.fail(unexpected(got, want))
			return
		}

		var verack any
		outcome := handler.OutcomeRejected
		err = safely(func() error {
			var err error
			verack, outcome, err = hs.Handler.Verify(o.ctx, syncMsg, env.Message)
			return err
		})
		if err != nil || outcome != handler.OutcomeAccepted {
			o.fail(rejected("verify", outcome, err))
			return
		}

		o.mu.Lock()
		o.ackMsg = env.Message
		o.mu.Unlock()

		if hs.Type == protocol.HandshakeThreeWay {
			if err := o.sendHandshake(verack); err != nil {
				o.fail(err)
				return
			}
		}
		o.complete()

	case HandshakeAwaitingSync:
		if o.initiator {
			o.fail(fmt.Errorf("%w: initiator awaiting sync", ErrHandshakeInternal))
			return
		}
		want, err := hs.SyncMessageType()
		if err != nil {
			o.fail(fmt.Errorf("%w: %w", ErrHandshakeInternal, err))
			return
		}
		if got != want {
			o.fail(unexpected(got, want))
			return
		}

		var ack any
		outcome := handler.OutcomeRejected
		err = safely(func() error {
			var err error
			ack, outcome, err = hs.Handler.Receive(o.ctx, env.Message)
			return err
		})
		if err != nil || outcome != handler.OutcomeAccepted {
			o.fail(rejected("receive", outcome, err))
			return
		}

		threeWay := hs.Type == protocol.HandshakeThreeWay
		o.mu.Lock()
		o.syncMsg = env.Message
		o.ackMsg = ack
		if threeWay {
			o.hsState = HandshakeAwaitingVerack
		}
		o.mu.Unlock()

		if err := o.sendHandshake(ack); err != nil {
			o.fail(err)
			return
		}
		if !threeWay {
			o.complete()
		}

	case HandshakeAwaitingVerack:
		if o.initiator {
			o.fail(fmt.Errorf("%w: initiator awaiting verack", ErrHandshakeInternal))
			return
		}
		want, err := hs.VerackMessageType()
		if err != nil {
			o.fail(fmt.Errorf("%w: %w", ErrHandshakeInternal, err))
			return
		}
		if got != want {
			o.fail(unexpected(got, want))
			return
		}

		var ok bool
		err = safely(func() error {
			var err error
			ok, err = hs.Handler.Acknowledge(o.ctx, syncMsg, ackMsg, env.Message)
			return err
		})
		if err != nil || !ok {
			o.fail(rejected("acknowledge", handler.OutcomeRejected, err))
			return
		}
		o.complete()

	default:
		o.fail(fmt.Errorf("%w: handshake message in state %s", ErrHandshakeInternal, state))
	}
}
