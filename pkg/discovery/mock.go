package discovery

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver is an in-memory MDNSResolver. Entries registered per
// service type are answered to every Browse and Lookup, no multicast
// involved.
type MockMDNSResolver struct {
	mu      sync.RWMutex
	entries map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver returns an empty MockMDNSResolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{entries: make(map[string][]*zeroconf.ServiceEntry)}
}

// RegisterService adds entry under the service type.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	m.entries[service] = append(m.entries[service], entry)
	m.mu.Unlock()
}

// RemoveService removes a registered instance.
func (m *MockMDNSResolver) RemoveService(service, instance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[service] = slices.DeleteFunc(m.entries[service], func(e *zeroconf.ServiceEntry) bool {
		return e.Instance == instance
	})
}

func (m *MockMDNSResolver) snapshot(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries[service])
}

// Browse implements MDNSResolver. Entries are sent synchronously.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.snapshot(service) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	known := m.snapshot(service)
	i := slices.IndexFunc(known, func(e *zeroconf.ServiceEntry) bool {
		return e.Instance == instance
	})
	if i < 0 {
		return nil
	}
	select {
	case entries <- known[i]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockServerFactory registers advertised services with a MockMDNSResolver,
// so an Advertiser and a Resolver can be tested against each other.
type MockServerFactory struct {
	Resolver *MockMDNSResolver

	// IP is the address given to registered entries. Default: 127.0.0.1
	IP net.IP
}

// Register implements MDNSServerFactory.
func (f *MockServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	ip := f.IP
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	f.Resolver.RegisterService(service, mockEntry(instance, service, domain, port, ip, txt))
	return &mockServer{resolver: f.Resolver, service: service, instance: instance}, nil
}

type mockServer struct {
	resolver *MockMDNSResolver
	service  string
	instance string
}

func (s *mockServer) Shutdown() {
	s.resolver.RemoveService(s.service, s.instance)
}

// MockService builds an entry for a protoorch endpoint at ip:port, ready
// for RegisterService(Service, ...).
func MockService(instance string, port int, ip net.IP, txt ServiceTXT) *zeroconf.ServiceEntry {
	return mockEntry(instance, Service, DefaultDomain, port, ip, txt.Encode())
}

func mockEntry(instance, service, domain string, port int, ip net.IP, txt []string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, service, domain)
	e.HostName = instance + ".local."
	e.Port = port
	e.AddrIPv4 = []net.IP{ip}
	e.Text = txt
	return e
}
