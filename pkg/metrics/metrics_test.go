package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "test")
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}

	p.MessageSent("echo", "Request", 0)
	p.MessageSent("echo", "Request", 0)
	p.MessageReceived("echo", "Response", 1)
	p.MessageError("echo", "inbound")
	p.HandshakeFinished("echo", "Client", "Accepted")
	p.PendingRequests("echo", 3)
	p.StateChanged("echo", "NotStarted", "Handshaking")

	if got := testutil.ToFloat64(p.sent.WithLabelValues("echo", "Request", "0")); got != 2 {
		t.Errorf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.received.WithLabelValues("echo", "Response", "1")); got != 1 {
		t.Errorf("received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.errors.WithLabelValues("echo", "inbound")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.pending.WithLabelValues("echo")); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 6 {
		t.Errorf("series = %d, want 6", n)
	}
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheus(reg, "dup"); err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}
	if _, err := NewPrometheus(reg, "dup"); err == nil {
		t.Error("second NewPrometheus() on same registry succeeded")
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.MessageSent("p", "Command", 0)
	r.PendingRequests("p", 1)
}
