// Package integration provides test infrastructure for end-to-end tests of
// the echo protocol over real network transports.
package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/protoorch/examples/echo"
	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/discovery"
	"github.com/backkem/protoorch/pkg/transport"
)

// Kind selects the transport of a TestPair.
type Kind = discovery.TransportKind

// TestServer is an echo server listening on loopback.
type TestServer struct {
	// Server is the running echo server.
	Server *echo.Server

	// Addr is what clients dial: host:port for TCP, a ws:// URL for
	// WebSocket.
	Addr string

	// Kind is the transport the server accepts.
	Kind Kind

	// Sessions receives every session that finished its handshake.
	Sessions chan *echo.Session

	cancel context.CancelFunc
	done   chan error
	close  func()
}

// TestPairConfig configures the test pair creation.
type TestPairConfig struct {
	// Kind is the transport. Default: TCP
	Kind Kind

	// Server and Client are the session templates of both sides.
	Server echo.Config
	Client echo.Config

	// StartTimeout bounds each handshake. Default: 5s
	StartTimeout time.Duration

	// LoggerFactory for logging. If nil, uses DefaultLoggerFactory.
	LoggerFactory logging.LoggerFactory
}

// StartServer runs an echo server on a loopback port until the test ends.
func StartServer(t *testing.T, config TestPairConfig) *TestServer {
	t.Helper()

	if config.Kind == discovery.TransportUnknown {
		config.Kind = discovery.TransportTCP
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	ts := &TestServer{
		Kind:     config.Kind,
		Sessions: make(chan *echo.Session, 16),
		done:     make(chan error, 1),
	}

	var accept echo.AcceptFunc
	switch config.Kind {
	case discovery.TransportWebSocket:
		a := transport.NewWebSocketAcceptor(transport.WebSocketConfig{LoggerFactory: config.LoggerFactory}, nil)
		hs := httptest.NewServer(a)
		ts.Addr = "ws" + strings.TrimPrefix(hs.URL, "http") + "/"
		ts.close = func() {
			a.Close()
			hs.Close()
		}
		accept = func(ctx context.Context) (channel.Transport, error) {
			ws, err := a.Accept(ctx)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}
	default:
		l, err := transport.ListenTCP(transport.TCPListenerConfig{
			ListenAddr:    "127.0.0.1:0",
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			t.Fatalf("ListenTCP() error = %v", err)
		}
		ts.Addr = l.Addr().String()
		ts.close = func() { l.Close() }
		accept = func(ctx context.Context) (channel.Transport, error) {
			s, err := l.Accept(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	server, err := echo.NewServer(echo.ServerConfig{
		Accept:       accept,
		Session:      config.Server,
		StartTimeout: config.StartTimeout,
		OnSession: func(s *echo.Session) {
			select {
			case ts.Sessions <- s:
			default:
			}
		},
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		ts.close()
		t.Fatalf("NewServer() error = %v", err)
	}
	ts.Server = server

	ctx, cancel := context.WithCancel(context.Background())
	ts.cancel = cancel
	go func() { ts.done <- server.Serve(ctx) }()

	t.Cleanup(ts.Stop)
	return ts
}

// Stop ends every session and the listener. It is safe to call twice.
func (ts *TestServer) Stop() {
	if ts.cancel == nil {
		return
	}
	ts.cancel()
	<-ts.done
	ts.close()
	ts.cancel = nil
}

// Dial connects a client session and runs its handshake.
func (ts *TestServer) Dial(t *testing.T, config echo.Config, timeout time.Duration) (*echo.Session, error) {
	t.Helper()

	var tr channel.Transport
	if ts.Kind == discovery.TransportWebSocket {
		tr = transport.NewWebSocketDialer(ts.Addr, transport.WebSocketConfig{LoggerFactory: config.LoggerFactory})
	} else {
		tr = transport.NewTCPDialer(ts.Addr, transport.StreamConfig{LoggerFactory: config.LoggerFactory})
	}

	ch, err := channel.New(channel.Config{
		Transport:     tr,
		Role:          channel.RoleClient,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	config.Channel = ch
	session, err := echo.NewSession(config)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := session.Start(ctx); err != nil {
		session.Close(context.Background())
		return nil, err
	}
	t.Cleanup(func() { session.Close(context.Background()) })
	return session, nil
}

// TestPair holds a connected client and the matching server session.
type TestPair struct {
	Server  *TestServer
	Client  *echo.Session
	Session *echo.Session
}

// NewTestPair starts a server, dials it and waits for both sides to finish
// the handshake.
func NewTestPair(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()

	ts := StartServer(t, config)
	if config.Client.LoggerFactory == nil {
		config.Client.LoggerFactory = config.LoggerFactory
	}
	client, err := ts.Dial(t, config.Client, config.StartTimeout)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	select {
	case s := <-ts.Sessions:
		return &TestPair{Server: ts, Client: client, Session: s}
	case <-time.After(5 * time.Second):
		t.Fatal("server session did not start")
		return nil
	}
}
