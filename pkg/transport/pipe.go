package transport

import (
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers frames.
	// Default: 1ms
	ProcessInterval time.Duration

	// Packet configures both transports returned by Transports.
	Packet PacketConfig
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
		Packet:          PacketConfig{PollInterval: 10 * time.Millisecond},
	}
}

// Pipe is an in-memory link between two packet transports, built on pion's
// test.Bridge. Frames written by one side queue in the bridge until
// delivered by Tick, Process or the auto-processor, which makes frame
// ordering and loss controllable in tests.
//
// Endpoint 0 belongs to the first transport returned by Transports,
// endpoint 1 to the second.
type Pipe struct {
	bridge *test.Bridge
	t0, t1 *Packet

	mu              sync.Mutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	p.t0 = NewPacket(p.bridge.GetConn0(), config.Packet)
	p.t1 = NewPacket(p.bridge.GetConn1(), config.Packet)

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

// NewPipeTransports creates an auto-processing pipe and returns it with
// its two connected transports.
func NewPipeTransports() (*Pipe, *Packet, *Packet) {
	p := NewPipe()
	t0, t1 := p.Transports()
	return p, t0, t1
}

// Transports returns the transports for endpoint 0 and endpoint 1.
// Neither can reconnect once disconnected.
func (p *Pipe) Transports() (*Packet, *Packet) {
	return p.t0, p.t1
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for p.bridge.Tick() > 0 {
				}
			}
		}
	}(p.stopCh)
}

// SetAutoProcess enables or disables automatic frame delivery.
// When disabled, call Tick or Process to deliver frames.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoProcess
}

// Tick delivers at most one queued frame in each direction and returns the
// number delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames and returns the number delivered.
// Frames are only handed to a waiting reader, so this may stop early if a
// reader is busy.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Pending returns the number of frames queued from endpoint fromID.
func (p *Pipe) Pending(fromID int) int {
	return p.bridge.Len(fromID)
}

// DropNext discards the next n frames written by endpoint fromID.
func (p *Pipe) DropNext(fromID, n int) {
	p.bridge.DropNextNWrites(fromID, n)
}

// Reorder reverses the frames currently queued from endpoint fromID.
func (p *Pipe) Reorder(fromID int) error {
	return p.bridge.Reorder(fromID)
}

// Filter drops frames from endpoint fromID for which keep returns false.
func (p *Pipe) Filter(fromID int, keep func(frame []byte) bool) {
	p.bridge.Filter(fromID, keep)
}

// Close stops auto-processing and disconnects both transports.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.t0.disconnectAll()
	err1 := p.t1.disconnectAll()
	if err0 != nil {
		return err0
	}
	return err1
}

// disconnectAll closes the connection whether or not Connect was called.
func (p *Packet) disconnectAll() error {
	p.mu.Lock()
	preset := p.preset
	p.preset = nil
	p.mu.Unlock()

	if preset != nil {
		_ = preset.SetReadDeadline(time.Now())
		return preset.Close()
	}
	return p.Disconnect()
}
