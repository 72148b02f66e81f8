// Package metrics records orchestrator activity.
//
// Recorder is the hook the orchestrator calls; Nop discards everything and
// Prometheus exports counters and gauges through client_golang.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives orchestrator events.
type Recorder interface {
	MessageSent(protocol, dispatch string, mode int)
	MessageReceived(protocol, dispatch string, mode int)
	MessageError(protocol, direction string)
	HandshakeFinished(protocol, role, outcome string)
	PendingRequests(protocol string, n int)
	StateChanged(protocol, from, to string)
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) MessageSent(string, string, int)          {}
func (Nop) MessageReceived(string, string, int)      {}
func (Nop) MessageError(string, string)              {}
func (Nop) HandshakeFinished(string, string, string) {}
func (Nop) PendingRequests(string, int)              {}
func (Nop) StateChanged(string, string, string)      {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	sent       *prometheus.CounterVec
	received   *prometheus.CounterVec
	errors     *prometheus.CounterVec
	handshakes *prometheus.CounterVec
	pending    *prometheus.GaugeVec
	states     *prometheus.CounterVec
}

// NewPrometheus creates the collectors under namespace and registers them
// with reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "protoorch"
	}

	p := &Prometheus{
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Envelopes handed to the channel.",
			},
			[]string{"protocol", "dispatch", "mode"},
		),
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Envelopes decoded from the channel.",
			},
			[]string{"protocol", "dispatch", "mode"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "errors_total",
				Help:      "Message errors by processing direction.",
			},
			[]string{"protocol", "direction"},
		),
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handshake",
				Name:      "finished_total",
				Help:      "Finished handshakes by role and outcome.",
			},
			[]string{"protocol", "role", "outcome"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "pending",
				Help:      "Requests sent without a response yet.",
			},
			[]string{"protocol"},
		),
		states: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "transitions_total",
				Help:      "Orchestrator state transitions.",
			},
			[]string{"protocol", "from", "to"},
		),
	}

	for _, c := range []prometheus.Collector{p.sent, p.received, p.errors, p.handshakes, p.pending, p.states} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) MessageSent(protocol, dispatch string, mode int) {
	p.sent.WithLabelValues(protocol, dispatch, strconv.Itoa(mode)).Inc()
}

func (p *Prometheus) MessageReceived(protocol, dispatch string, mode int) {
	p.received.WithLabelValues(protocol, dispatch, strconv.Itoa(mode)).Inc()
}

func (p *Prometheus) MessageError(protocol, direction string) {
	p.errors.WithLabelValues(protocol, direction).Inc()
}

func (p *Prometheus) HandshakeFinished(protocol, role, outcome string) {
	p.handshakes.WithLabelValues(protocol, role, outcome).Inc()
}

func (p *Prometheus) PendingRequests(protocol string, n int) {
	p.pending.WithLabelValues(protocol).Set(float64(n))
}

func (p *Prometheus) StateChanged(protocol, from, to string) {
	p.states.WithLabelValues(protocol, from, to).Inc()
}

var (
	defaultOnce sync.Once
	defaultRec  *Prometheus
	defaultErr  error
)

// Default returns a Prometheus recorder registered once with the default
// registerer, so several orchestrators in one process can share it.
func Default() (*Prometheus, error) {
	defaultOnce.Do(func() {
		defaultRec, defaultErr = NewPrometheus(prometheus.DefaultRegisterer, "protoorch")
	})
	return defaultRec, defaultErr
}
