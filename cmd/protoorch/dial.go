package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backkem/protoorch/examples/echo"
	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/discovery"
	"github.com/backkem/protoorch/pkg/transport"
)

type dialFlags struct {
	addr      string
	transport string
	discover  bool
	count     int
	text      string
	mode      int
}

func (c *cli) dialCmd() *cobra.Command {
	f := &dialFlags{}
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to an echo endpoint and send requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.addr != "" {
				c.cfg.Transport.Address = f.addr
			}
			if f.transport != "" {
				c.cfg.Transport.Kind = f.transport
			}
			if f.count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if f.discover {
				if err := c.discover(ctx); err != nil {
					return err
				}
			}
			return c.dial(ctx, cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.addr, "addr", "a", "", "address or ws:// URL to dial (overrides transport.address)")
	cmd.Flags().StringVarP(&f.transport, "transport", "t", "", "transport kind: tcp or ws")
	cmd.Flags().BoolVar(&f.discover, "discover", false, "find the endpoint over DNS-SD")
	cmd.Flags().IntVarP(&f.count, "count", "n", 1, "number of echo requests")
	cmd.Flags().StringVar(&f.text, "text", "hello", "text to echo")
	cmd.Flags().IntVar(&f.mode, "mode", echo.ModeText, "switch to this mode before sending")
	return cmd
}

// discover replaces the configured address with the first advertised
// echo endpoint.
func (c *cli) discover(ctx context.Context) error {
	r, err := discovery.NewResolver(discovery.ResolverConfig{
		BrowseTimeout: c.cfg.Discovery.BrowseTimeout,
		LoggerFactory: c.loggerFactory,
	})
	if err != nil {
		return err
	}
	svc, err := r.FindProtocol(ctx, echo.Name)
	if err != nil {
		return err
	}
	if svc.TXT != nil {
		c.cfg.Transport.Kind = svc.TXT.Transport.String()
	}
	c.cfg.Transport.Address = svc.URL()
	c.log.Infof("discovered %s at %s", svc.InstanceName, c.cfg.Transport.Address)
	return nil
}

// dialTransport creates a client transport for the configured address.
func (c *cli) dialTransport() (channel.Transport, error) {
	addr := c.cfg.Transport.Address
	switch c.cfg.TransportKind() {
	case discovery.TransportTCP:
		return transport.NewTCPDialer(addr, c.cfg.StreamConfig(c.loggerFactory)), nil
	case discovery.TransportWebSocket:
		if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
			addr = "ws://" + addr + c.cfg.Transport.Path
		}
		return transport.NewWebSocketDialer(addr, c.cfg.WebSocketConfig(c.loggerFactory)), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", c.cfg.Transport.Kind)
	}
}

func (c *cli) dial(ctx context.Context, cmd *cobra.Command, f *dialFlags) error {
	t, err := c.dialTransport()
	if err != nil {
		return err
	}
	hf, err := handshakeFactory(c.cfg, c.loggerFactory)
	if err != nil {
		return err
	}

	ch, err := channel.New(c.cfg.ChannelConfig(t, channel.RoleClient, c.loggerFactory))
	if err != nil {
		return err
	}
	session, err := echo.NewSession(echo.Config{
		Channel:   ch,
		Handshake: hf,
		Timeout:   c.cfg.Channel.Timeout,
		Magic:     c.cfg.Orchestrator.Magic,
		OnNotice: func(text string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notice: %s\n", text)
		},
		LoggerFactory: c.loggerFactory,
	})
	if err != nil {
		ch.Close(ctx)
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, c.cfg.Orchestrator.StartTimeout)
	err = session.Start(startCtx)
	cancel()
	if err != nil {
		session.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("connect %s: %w", c.cfg.Transport.Address, err)
	}
	defer session.Close(context.WithoutCancel(ctx))

	if f.mode != session.Mode() {
		if err := session.SwitchMode(ctx, f.mode); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for i := 0; i < f.count; i++ {
		reply, err := session.Echo(ctx, f.text)
		if err != nil {
			return fmt.Errorf("echo %d: %w", i+1, err)
		}
		fmt.Fprintf(out, "%d: %s\n", i+1, reply)
	}
	return nil
}
