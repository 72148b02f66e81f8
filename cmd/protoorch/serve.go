package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/backkem/protoorch/examples/echo"
	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/discovery"
	"github.com/backkem/protoorch/pkg/metrics"
	"github.com/backkem/protoorch/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	listen      string
	transport   string
	advertise   bool
	metricsAddr string
}

func (c *cli) serveCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the echo protocol",
		Long: `Listen for TCP or WebSocket connections and run one echo session per
connection until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.listen != "" {
				c.cfg.Transport.Listen = f.listen
			}
			if f.transport != "" {
				c.cfg.Transport.Kind = f.transport
			}
			if f.advertise {
				c.cfg.Discovery.Advertise = true
			}
			if f.metricsAddr != "" {
				c.cfg.Metrics.Address = f.metricsAddr
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, cmd)
		},
	}
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "listen address (overrides transport.listen)")
	cmd.Flags().StringVarP(&f.transport, "transport", "t", "", "transport kind: tcp or ws")
	cmd.Flags().BoolVar(&f.advertise, "advertise", false, "advertise the endpoint over DNS-SD")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func (c *cli) serve(ctx context.Context, cmd *cobra.Command) error {
	recorder, stopMetrics, err := c.startMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	ln, err := net.Listen("tcp", c.cfg.Transport.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	kind := c.cfg.TransportKind()
	accept, closeListener, err := c.acceptor(kind, ln)
	if err != nil {
		ln.Close()
		return err
	}
	defer closeListener()

	hf, err := handshakeFactory(c.cfg, c.loggerFactory)
	if err != nil {
		return err
	}

	if c.cfg.Discovery.Advertise {
		stopAdvertising, err := c.advertise(hf, kind, ln.Addr())
		if err != nil {
			return err
		}
		defer stopAdvertising()
	}

	server, err := echo.NewServer(echo.ServerConfig{
		Accept: accept,
		Session: echo.Config{
			Handshake: hf,
			Timeout:   c.cfg.Channel.Timeout,
			Magic:     c.cfg.Orchestrator.Magic,
			Metrics:   recorder,
		},
		Channel:      c.cfg.ChannelConfig(nil, channel.RoleServer, c.loggerFactory),
		StartTimeout: c.cfg.Orchestrator.StartTimeout,
		OnSession: func(s *echo.Session) {
			c.log.Debugf("session %p ready in mode %d", s, s.Mode())
		},
		LoggerFactory: c.loggerFactory,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s (%s)\n", echo.Name, ln.Addr(), kind)
	err = server.Serve(ctx)
	c.log.Info("shutting down")
	return err
}

// acceptor wraps ln in the configured transport kind.
func (c *cli) acceptor(kind discovery.TransportKind, ln net.Listener) (echo.AcceptFunc, func(), error) {
	switch kind {
	case discovery.TransportTCP:
		l, err := transport.ListenTCP(transport.TCPListenerConfig{
			Listener:      ln,
			Stream:        c.cfg.StreamConfig(c.loggerFactory),
			LoggerFactory: c.loggerFactory,
		})
		if err != nil {
			return nil, nil, err
		}
		accept := func(ctx context.Context) (channel.Transport, error) {
			s, err := l.Accept(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		return accept, func() { l.Close() }, nil

	case discovery.TransportWebSocket:
		a := transport.NewWebSocketAcceptor(c.cfg.WebSocketConfig(c.loggerFactory), func(*http.Request) bool { return true })
		mux := http.NewServeMux()
		mux.Handle(c.cfg.Transport.Path, a)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Errorf("websocket server: %v", err)
			}
		}()
		accept := func(ctx context.Context) (channel.Transport, error) {
			ws, err := a.Accept(ctx)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}
		stop := func() {
			a.Close()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}
		return accept, stop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported transport %q", c.cfg.Transport.Kind)
	}
}

// advertise publishes the endpoint over DNS-SD.
func (c *cli) advertise(hf echo.HandshakeFactory, kind discovery.TransportKind, addr net.Addr) (func(), error) {
	p, err := echo.NewProtocol(hf)
	if err != nil {
		return nil, err
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("cannot advertise %v", addr)
	}

	txt := discovery.TXTFromProtocol(p, kind)
	if kind == discovery.TransportWebSocket {
		txt.Path = c.cfg.Transport.Path
	}

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{LoggerFactory: c.loggerFactory})
	instance, err := adv.Start(discovery.ServiceInfo{
		Instance: c.cfg.Discovery.Instance,
		Port:     tcpAddr.Port,
		TXT:      txt,
	})
	if err != nil {
		adv.Close()
		return nil, err
	}
	c.log.Infof("advertising %s as %s", echo.Name, instance)
	return func() { adv.Close() }, nil
}

// startMetrics serves a Prometheus registry when an address is configured.
func (c *cli) startMetrics() (metrics.Recorder, func(), error) {
	if c.cfg.Metrics.Address == "" {
		return metrics.Nop{}, func() {}, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheus(reg, c.cfg.Metrics.Namespace)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: c.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Errorf("metrics server: %v", err)
		}
	}()
	c.log.Infof("metrics on http://%s/metrics", c.cfg.Metrics.Address)

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return recorder, stop, nil
}
