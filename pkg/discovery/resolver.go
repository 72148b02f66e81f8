package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Timeouts applied when the caller's context carries no deadline.
const (
	DefaultBrowseTimeout = 10 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// ResolvedService is one endpoint found on the network.
type ResolvedService struct {
	InstanceName string
	HostName     string
	Port         int

	// IPs holds every advertised address, best first.
	IPs []net.IP

	// Text is the TXT record as key/value pairs, parsed or not.
	Text map[string]string

	// TXT is the parsed record, nil if the record did not parse.
	TXT *ServiceTXT
}

// PreferredIP returns the best address to dial, or nil.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) == 0 {
		return nil
	}
	return r.IPs[0]
}

// Addr returns host:port for the preferred address, falling back to the
// host name when no address was resolved.
func (r *ResolvedService) Addr() string {
	host := r.HostName
	if ip := r.PreferredIP(); ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(r.Port))
}

// URL returns the dial target for the advertised transport: host:port for
// TCP, a ws:// URL for WebSocket.
func (r *ResolvedService) URL() string {
	if r.TXT != nil && r.TXT.Transport == TransportWebSocket {
		path := r.TXT.Path
		if path == "" {
			path = "/"
		}
		return "ws://" + r.Addr() + path
	}
	return r.Addr()
}

// MDNSResolver browses and looks up DNS-SD records. Tests substitute
// MockMDNSResolver.
//
// Implementations send entries until ctx is done or nothing more can be
// found, then return. They must not close entries.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfMDNS adapts grandcat/zeroconf. zeroconf returns immediately and
// closes its own channel once ctx is done, so each call forwards from a
// private channel until then.
type zeroconfMDNS struct {
	*zeroconf.Resolver
}

func (z zeroconfMDNS) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.Resolver.Browse(ctx, service, domain, found); err != nil {
		return err
	}
	return forward(ctx, found, entries)
}

func (z zeroconfMDNS) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.Resolver.Lookup(ctx, instance, service, domain, found); err != nil {
		return err
	}
	return forward(ctx, found, entries)
}

func forward(ctx context.Context, from <-chan *zeroconf.ServiceEntry, to chan<- *zeroconf.ServiceEntry) error {
	for entry := range from {
		select {
		case to <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver answers queries. Default: zeroconf on all interfaces
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds Browse when ctx has no deadline. Default: DefaultBrowseTimeout
	BrowseTimeout time.Duration

	// LookupTimeout bounds Lookup when ctx has no deadline. Default: DefaultLookupTimeout
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver discovers protocol endpoints via DNS-SD.
type Resolver struct {
	mdns          MDNSResolver
	browseTimeout time.Duration
	lookupTimeout time.Duration
	log           logging.LeveledLogger
}

// NewResolver returns a Resolver. Without an injected MDNSResolver it opens
// a zeroconf resolver, which can fail when no multicast interface exists.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	r := &Resolver{
		mdns:          config.MDNSResolver,
		browseTimeout: cmp.Or(config.BrowseTimeout, DefaultBrowseTimeout),
		lookupTimeout: cmp.Or(config.LookupTimeout, DefaultLookupTimeout),
	}
	if r.mdns == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("discovery: mdns resolver: %w", err)
		}
		r.mdns = zeroconfMDNS{zr}
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers all endpoints on the network. The returned channel
// receives services until the context is cancelled or the browse timeout
// expires, then closes.
func (r *Resolver) Browse(ctx context.Context) (<-chan ResolvedService, error) {
	return r.browse(ctx, "")
}

// BrowseProtocol discovers endpoints speaking the named protocol.
func (r *Resolver) BrowseProtocol(ctx context.Context, name string) (<-chan ResolvedService, error) {
	if name == "" {
		return nil, ErrInvalidProtocol
	}
	return r.browse(ctx, name)
}

// browse performs a browse, keeping services whose protocol matches when
// name is set.
func (r *Resolver) browse(ctx context.Context, name string) (<-chan ResolvedService, error) {
	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.browseTimeout)
	}

	go func() {
		defer close(entries)
		if err := r.mdns.Browse(ctx, Service, DefaultDomain, entries); err != nil && r.log != nil && !errors.Is(err, ctx.Err()) {
			r.log.Warnf("browse %s: %v", Service, err)
		}
	}()

	go func() {
		defer close(results)
		defer cancel()

		for entry := range entries {
			svc := r.resolve(entry)
			if name != "" && (svc.TXT == nil || svc.TXT.Protocol != name) {
				continue
			}
			select {
			case results <- svc:
			case <-ctx.Done():
				// Drain so the browse goroutine can finish.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// FindProtocol returns the first endpoint speaking the named protocol.
func (r *Resolver) FindProtocol(ctx context.Context, name string) (*ResolvedService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := r.BrowseProtocol(ctx, name)
	if err != nil {
		return nil, err
	}

	for svc := range services {
		cancel()
		for range services {
		}
		return &svc, nil
	}

	return nil, fmt.Errorf("%w: protocol %q", ErrServiceNotFound, name)
}

// Lookup resolves a single instance by name.
func (r *Resolver) Lookup(ctx context.Context, instance string) (*ResolvedService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}
	query, stop := context.WithCancel(ctx)
	defer stop()

	found := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(found)
		r.mdns.Lookup(query, instance, Service, DefaultDomain, found)
	}()

	select {
	case entry := <-found:
		if entry == nil {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, instance)
		}
		svc := r.resolve(entry)
		return &svc, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: lookup %s", ErrTimeout, instance)
		}
		return nil, ctx.Err()
	}
}

// resolve flattens a zeroconf entry. A TXT record that does not parse
// leaves TXT nil; the raw pairs stay in Text.
func (r *Resolver) resolve(entry *zeroconf.ServiceEntry) ResolvedService {
	ips := make([]net.IP, 0, len(entry.AddrIPv6)+len(entry.AddrIPv4))
	ips = append(append(ips, entry.AddrIPv6...), entry.AddrIPv4...)

	svc := ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(ips),
		Text:         ParseTXT(entry.Text),
	}
	txt, err := ParseServiceTXT(entry.Text)
	switch {
	case err == nil:
		svc.TXT = txt
	case r.log != nil:
		r.log.Debugf("ignoring TXT of %s: %v", entry.Instance, err)
	}
	return svc
}
