package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/metrics"
	"github.com/backkem/protoorch/pkg/protocol"
	"github.com/backkem/protoorch/pkg/transport"
)

// TestPair provides two orchestrators connected through an in-memory pipe.
// Side 0 is the client, side 1 the server.
//
// Usage:
//
//	pair, _ := orchestrator.NewTestPair(orchestrator.TestPairConfig{
//		Protocols: [2]*protocol.Protocol{clientProto, serverProto},
//	})
//	defer pair.Close()
//
//	if err := pair.Start(ctx); err != nil { ... }
//	pair.Orchestrator(0).SendMessage(envelope.DispatchRequest, &Ping{})
type TestPair struct {
	pipe          *transport.Pipe
	channels      [2]*channel.Channel
	orchestrators [2]*Orchestrator
}

// TestPairConfig configures a TestPair.
type TestPairConfig struct {
	// Protocols for side 0 and side 1. Both required; they may be the same.
	Protocols [2]*protocol.Protocol

	// Callbacks for side 0 and side 1.
	Callbacks [2]Callbacks

	// Metrics for side 0 and side 1. Default: metrics.Nop
	Metrics [2]metrics.Recorder

	// Pipe configures the link. Default: transport.DefaultPipeConfig()
	Pipe *transport.PipeConfig

	// Timeout is used for channels and orchestrators. Default: 2s
	Timeout time.Duration

	// LoggerFactory is shared by both sides. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewTestPair creates both sides without starting them.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	pipeConfig := transport.DefaultPipeConfig()
	if config.Pipe != nil {
		pipeConfig = *config.Pipe
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	pair := &TestPair{pipe: transport.NewPipeWithConfig(pipeConfig)}
	t0, t1 := pair.pipe.Transports()
	transports := [2]channel.Transport{t0, t1}
	roles := [2]channel.Role{channel.RoleClient, channel.RoleServer}

	for i := 0; i < 2; i++ {
		ch, err := channel.New(channel.Config{
			Transport:      transports[i],
			Role:           roles[i],
			DefaultTimeout: config.Timeout,
			LoggerFactory:  config.LoggerFactory,
		})
		if err != nil {
			pair.pipe.Close()
			return nil, fmt.Errorf("side %d: %w", i, err)
		}

		o, err := New(Config{
			Protocol:       config.Protocols[i],
			Channel:        ch,
			DefaultTimeout: config.Timeout,
			Callbacks:      config.Callbacks[i],
			Metrics:        config.Metrics[i],
			LoggerFactory:  config.LoggerFactory,
		})
		if err != nil {
			pair.pipe.Close()
			return nil, fmt.Errorf("side %d: %w", i, err)
		}

		pair.channels[i] = ch
		pair.orchestrators[i] = o
	}

	return pair, nil
}

// Orchestrator returns side i (0 or 1).
func (p *TestPair) Orchestrator(i int) *Orchestrator {
	return p.orchestrators[i]
}

// Channel returns the channel of side i.
func (p *TestPair) Channel(i int) *channel.Channel {
	return p.channels[i]
}

// Pipe returns the link between the sides.
func (p *TestPair) Pipe() *transport.Pipe {
	return p.pipe
}

// Start starts both sides concurrently and returns their joined errors.
func (p *TestPair) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	var errs [2]error
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.orchestrators[i].Start(ctx); err != nil {
				errs[i] = fmt.Errorf("side %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs[0], errs[1])
}

// Close finishes both sides and closes the pipe.
func (p *TestPair) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, o := range p.orchestrators {
		if err := o.Finish(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.pipe.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
