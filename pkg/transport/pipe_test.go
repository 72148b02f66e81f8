package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// receiveFrame polls tr until a frame arrives or timeout elapses.
func receiveFrame(t *testing.T, tr interface {
	Receive(ctx context.Context) ([]byte, error)
}, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, err := tr.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if data != nil {
			return data
		}
	}
	t.Fatalf("no frame within %v", timeout)
	return nil
}

func connectPipe(t *testing.T, p *Pipe) (*Packet, *Packet) {
	t.Helper()
	t0, t1 := p.Transports()
	if err := t0.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(0) error = %v", err)
	}
	if err := t1.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(1) error = %v", err)
	}
	return t0, t1
}

// TestPipe_AutoProcess verifies that frames flow automatically by default.
func TestPipe_AutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if !p.AutoProcess() {
		t.Fatal("AutoProcess should be true by default")
	}

	t0, t1 := connectPipe(t, p)

	want := []byte("auto-delivered frame")
	if err := t0.Send(context.Background(), want); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := receiveFrame(t, t1, time.Second); !bytes.Equal(got, want) {
		t.Errorf("Receive() = %q, want %q", got, want)
	}
}

// TestPipe_ManualProcess verifies that frames wait for Tick when
// auto-processing is disabled.
func TestPipe_ManualProcess(t *testing.T) {
	config := DefaultPipeConfig()
	config.AutoProcess = false
	p := NewPipeWithConfig(config)
	defer p.Close()

	t0, t1 := connectPipe(t, p)

	if err := t0.Send(context.Background(), []byte("held")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := p.Pending(0); n != 1 {
		t.Fatalf("Pending(0) = %d, want 1", n)
	}

	data, err := t1.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if data != nil {
		t.Fatalf("Receive() = %q before Tick, want nil", data)
	}

	deadline := time.Now().Add(time.Second)
	for p.Pending(0) > 0 && time.Now().Before(deadline) {
		p.Tick()
		time.Sleep(time.Millisecond)
	}

	if got := receiveFrame(t, t1, time.Second); string(got) != "held" {
		t.Errorf("Receive() = %q, want %q", got, "held")
	}
}

func TestPipe_Bidirectional(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	t0, t1 := connectPipe(t, p)
	ctx := context.Background()

	if err := t0.Send(ctx, []byte("from 0")); err != nil {
		t.Fatalf("Send(0) error = %v", err)
	}
	if err := t1.Send(ctx, []byte("from 1")); err != nil {
		t.Fatalf("Send(1) error = %v", err)
	}

	if got := receiveFrame(t, t1, time.Second); string(got) != "from 0" {
		t.Errorf("t1 got %q, want %q", got, "from 0")
	}
	if got := receiveFrame(t, t0, time.Second); string(got) != "from 1" {
		t.Errorf("t0 got %q, want %q", got, "from 1")
	}
}

func TestPipe_Reorder(t *testing.T) {
	config := DefaultPipeConfig()
	config.AutoProcess = false
	p := NewPipeWithConfig(config)
	defer p.Close()

	t0, t1 := connectPipe(t, p)
	for _, s := range []string{"a", "b", "c"} {
		if err := t0.Send(context.Background(), []byte(s)); err != nil {
			t.Fatalf("Send(%s) error = %v", s, err)
		}
	}
	if err := p.Reorder(0); err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}
	p.SetAutoProcess(true)

	var got []string
	for range 3 {
		got = append(got, string(receiveFrame(t, t1, time.Second)))
	}
	if want := []string{"c", "b", "a"}; got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestPipe_DropNext(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	t0, t1 := connectPipe(t, p)
	p.DropNext(0, 1)

	ctx := context.Background()
	if err := t0.Send(ctx, []byte("lost")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := t0.Send(ctx, []byte("kept")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := receiveFrame(t, t1, time.Second); string(got) != "kept" {
		t.Errorf("Receive() = %q, want %q", got, "kept")
	}
}

func TestPipe_Filter(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	t0, t1 := connectPipe(t, p)
	p.Filter(0, func(frame []byte) bool { return !bytes.HasPrefix(frame, []byte("x")) })

	ctx := context.Background()
	_ = t0.Send(ctx, []byte("xdrop"))
	_ = t0.Send(ctx, []byte("pass"))

	if got := receiveFrame(t, t1, time.Second); string(got) != "pass" {
		t.Errorf("Receive() = %q, want %q", got, "pass")
	}
}

func TestPipe_SetAutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	p.SetAutoProcess(false)
	if p.AutoProcess() {
		t.Error("AutoProcess() = true after disabling")
	}
	p.SetAutoProcess(true)
	if !p.AutoProcess() {
		t.Error("AutoProcess() = false after enabling")
	}
}

func TestPipe_Disconnect(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	t0, _ := connectPipe(t, p)
	if !t0.IsAlive() {
		t.Fatal("IsAlive() = false after Connect")
	}

	if err := t0.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := t0.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
	if t0.IsAlive() {
		t.Error("IsAlive() = true after Disconnect")
	}
	if err := t0.Send(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Disconnect error = %v, want %v", err, ErrClosed)
	}
	if err := t0.Connect(context.Background()); !errors.Is(err, ErrCannotReconnect) {
		t.Errorf("Connect() after Disconnect error = %v, want %v", err, ErrCannotReconnect)
	}
}

func TestPipe_Close(t *testing.T) {
	p := NewPipe()
	t0, t1 := connectPipe(t, p)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if t0.IsAlive() || t1.IsAlive() {
		t.Error("transports alive after Close")
	}
}

func TestPacket_NotConnected(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	t0, _ := p.Transports()
	if err := t0.Send(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want %v", err, ErrNotConnected)
	}
	if _, err := t0.Receive(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Receive() error = %v, want %v", err, ErrNotConnected)
	}
	if t0.IsAlive() {
		t.Error("IsAlive() = true before Connect")
	}
}

func TestPacket_FrameTooLarge(t *testing.T) {
	config := DefaultPipeConfig()
	config.Packet.MaxPacketSize = 8
	p := NewPipeWithConfig(config)
	defer p.Close()

	t0, _ := connectPipe(t, p)
	err := t0.Send(context.Background(), make([]byte, 9))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Send() error = %v, want %v", err, ErrFrameTooLarge)
	}
}

func TestPipeConfig_Defaults(t *testing.T) {
	config := DefaultPipeConfig()
	if !config.AutoProcess {
		t.Error("AutoProcess should default to true")
	}
	if config.ProcessInterval != time.Millisecond {
		t.Errorf("ProcessInterval = %v, want 1ms", config.ProcessInterval)
	}
}
