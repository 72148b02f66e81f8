package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is one registered DNS-SD instance. *zeroconf.Server satisfies
// it.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory registers instances. Tests substitute MockServerFactory.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// ServiceInfo describes one endpoint to advertise.
type ServiceInfo struct {
	// Instance is the DNS-SD instance name.
	// If empty, InstanceName(TXT.Protocol) is used.
	Instance string

	// Port is the listening port.
	Port int

	// TXT describes the protocol spoken on the port.
	TXT ServiceTXT
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interfaces to announce on. Default: all multicast-capable interfaces
	Interfaces []net.Interface

	// ServerFactory registers instances. Default: zeroconf
	ServerFactory MDNSServerFactory

	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes protocol endpoints to the network. Each endpoint is
// one DNS-SD instance of Service.
type Advertiser struct {
	ifaces   []net.Interface
	registry MDNSServerFactory
	log      logging.LeveledLogger

	mu        sync.RWMutex
	instances map[string]MDNSServer
	closed    bool
}

// NewAdvertiser returns an Advertiser with nothing published yet.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	a := &Advertiser{
		ifaces:    config.Interfaces,
		registry:  config.ServerFactory,
		instances: make(map[string]MDNSServer),
	}
	if a.registry == nil {
		a.registry = zeroconfRegistrar{}
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a
}

// Start publishes an endpoint and returns its instance name.
func (a *Advertiser) Start(info ServiceInfo) (string, error) {
	if info.Port <= 0 || info.Port > 65535 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPort, info.Port)
	}
	if err := info.TXT.Validate(); err != nil {
		return "", fmt.Errorf("discovery: advertise: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}

	name := info.Instance
	if name == "" {
		name = InstanceName(info.TXT.Protocol)
	}
	if _, dup := a.instances[name]; dup {
		return "", fmt.Errorf("%w: %s", ErrAlreadyStarted, name)
	}

	txt := info.TXT.Encode()
	if a.log != nil {
		a.log.Tracef("registering %s.%s%s port %d txt %v", name, Service, DefaultDomain, info.Port, txt)
	}
	server, err := a.registry.Register(name, Service, DefaultDomain, info.Port, txt, a.ifaces)
	if err != nil {
		return "", fmt.Errorf("discovery: register %s: %w", name, err)
	}
	a.instances[name] = server

	if a.log != nil {
		a.log.Infof("advertising %s (%s) on port %d", name, info.TXT.Protocol, info.Port)
	}
	return name, nil
}

// Stop withdraws one instance.
func (a *Advertiser) Stop(instance string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	server, ok := a.instances[instance]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotStarted, instance)
	}
	server.Shutdown()
	delete(a.instances, instance)
	return nil
}

// StopAll withdraws every instance. The Advertiser stays usable.
func (a *Advertiser) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

// Close withdraws every instance and refuses further Starts.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.shutdownLocked()
	a.closed = true
	return nil
}

func (a *Advertiser) shutdownLocked() {
	for name, server := range a.instances {
		server.Shutdown()
		delete(a.instances, name)
	}
}

// IsAdvertising reports whether instance is currently published.
func (a *Advertiser) IsAdvertising(instance string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.instances[instance]
	return ok
}
