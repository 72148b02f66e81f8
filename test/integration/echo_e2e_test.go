// Package integration contains end-to-end tests of the echo protocol.
//
// This file (echo_e2e_test.go) runs client and server sessions over real
// loopback TCP and WebSocket connections.
package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"

	"github.com/backkem/protoorch/examples/echo"
	"github.com/backkem/protoorch/pkg/discovery"
	"github.com/backkem/protoorch/pkg/handshake/token"
	"github.com/backkem/protoorch/pkg/handshake/x25519"
	"github.com/backkem/protoorch/pkg/orchestrator"
	"github.com/backkem/protoorch/pkg/protocol"
)

var kinds = []Kind{discovery.TransportTCP, discovery.TransportWebSocket}

func TestE2E_Echo(t *testing.T) {
	lim := test.TimeOut(20 * time.Second)
	defer lim.Stop()

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			pair := NewTestPair(t, TestPairConfig{Kind: kind})
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				text := fmt.Sprintf("ping %d", i)
				got, err := pair.Client.Echo(ctx, text)
				if err != nil {
					t.Fatalf("Echo(%q) error = %v", text, err)
				}
				if got != text {
					t.Errorf("Echo(%q) = %q", text, got)
				}
			}
			if n := pair.Session.Served(); n != 3 {
				t.Errorf("server Served() = %d, want 3", n)
			}

			// The server side may ask as well.
			if got, err := pair.Session.Echo(ctx, "pong"); err != nil || got != "pong" {
				t.Errorf("server Echo() = %q, %v", got, err)
			}
		})
	}
}

func TestE2E_ModeSwitch(t *testing.T) {
	lim := test.TimeOut(20 * time.Second)
	defer lim.Stop()

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			pair := NewTestPair(t, TestPairConfig{Kind: kind})
			ctx := context.Background()

			if err := pair.Client.SwitchMode(ctx, echo.ModeBinary); err != nil {
				t.Fatalf("SwitchMode() error = %v", err)
			}
			if pair.Client.Mode() != echo.ModeBinary || pair.Session.Mode() != echo.ModeBinary {
				t.Fatalf("Mode() = %d, %d", pair.Client.Mode(), pair.Session.Mode())
			}

			got, err := pair.Client.Echo(ctx, "binary")
			if err != nil || got != "binary" {
				t.Errorf("Echo() in binary mode = %q, %v", got, err)
			}

			err = pair.Client.SwitchMode(ctx, 7)
			if !errors.Is(err, echo.ErrModeRefused) {
				t.Errorf("SwitchMode(7) error = %v, want %v", err, echo.ErrModeRefused)
			}
			if pair.Client.Mode() != echo.ModeBinary {
				t.Errorf("Mode() after refusal = %d", pair.Client.Mode())
			}
		})
	}
}

func TestE2E_Handshakes(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	secret := []byte("integration")

	for _, kind := range kinds {
		for _, typ := range []protocol.HandshakeType{protocol.HandshakeTwoWay, protocol.HandshakeThreeWay} {
			t.Run(kind.String()+"/x25519/"+typ.String(), func(t *testing.T) {
				var (
					mu       sync.Mutex
					handlers []*x25519.Handler
				)
				hf := echo.X25519(typ, x25519.Config{Context: echo.Name}, func(h *x25519.Handler) {
					mu.Lock()
					handlers = append(handlers, h)
					mu.Unlock()
				})
				pair := NewTestPair(t, TestPairConfig{
					Kind:   kind,
					Server: echo.Config{Handshake: hf},
					Client: echo.Config{Handshake: hf},
				})

				mu.Lock()
				defer mu.Unlock()
				if len(handlers) != 2 {
					t.Fatalf("got %d handlers, want 2", len(handlers))
				}
				k1, ok1 := handlers[0].SessionKey()
				k2, ok2 := handlers[1].SessionKey()
				if !ok1 || !ok2 || !bytes.Equal(k1, k2) {
					t.Errorf("session keys %x, %x do not match", k1, k2)
				}

				if got, err := pair.Client.Echo(context.Background(), "secured"); err != nil || got != "secured" {
					t.Errorf("Echo() = %q, %v", got, err)
				}
			})

			t.Run(kind.String()+"/token/"+typ.String(), func(t *testing.T) {
				var server *token.Handler
				pair := NewTestPair(t, TestPairConfig{
					Kind: kind,
					Server: echo.Config{Handshake: echo.Token(typ,
						token.Config{Secret: secret, Name: "server", Peer: "client", Protocol: echo.Name},
						func(h *token.Handler) { server = h })},
					Client: echo.Config{Handshake: echo.Token(typ,
						token.Config{Secret: secret, Name: "client", Peer: "server", Protocol: echo.Name}, nil)},
				})

				claims, ok := server.Peer()
				if !ok || claims.Issuer != "client" {
					t.Errorf("server Peer() = %+v, %v", claims, ok)
				}
				if got, err := pair.Client.Echo(context.Background(), "signed"); err != nil || got != "signed" {
					t.Errorf("Echo() = %q, %v", got, err)
				}
			})
		}
	}
}

func TestE2E_HandshakeRejected(t *testing.T) {
	lim := test.TimeOut(20 * time.Second)
	defer lim.Stop()

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			ts := StartServer(t, TestPairConfig{
				Kind:         kind,
				Server:       echo.Config{Handshake: echo.Token(protocol.HandshakeTwoWay, token.Config{Secret: []byte("right"), Protocol: echo.Name}, nil)},
				StartTimeout: time.Second,
			})

			_, err := ts.Dial(t, echo.Config{
				Handshake: echo.Token(protocol.HandshakeTwoWay, token.Config{Secret: []byte("wrong"), Protocol: echo.Name}, nil),
			}, 500*time.Millisecond)
			if err == nil {
				t.Fatal("Dial() with the wrong secret succeeded")
			}

			select {
			case s := <-ts.Sessions:
				t.Errorf("server started session %p after a rejected handshake", s)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestE2E_ManyClients(t *testing.T) {
	lim := test.TimeOut(30 * time.Second)
	defer lim.Stop()

	const clients = 8
	const rounds = 10

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			ts := StartServer(t, TestPairConfig{Kind: kind})

			var wg sync.WaitGroup
			errs := make(chan error, clients)
			for c := 0; c < clients; c++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					session, err := ts.Dial(t, echo.Config{}, 0)
					if err != nil {
						errs <- err
						return
					}
					for r := 0; r < rounds; r++ {
						text := fmt.Sprintf("client %d round %d", c, r)
						got, err := session.Echo(context.Background(), text)
						if err != nil {
							errs <- err
							return
						}
						if got != text {
							errs <- fmt.Errorf("Echo(%q) = %q", text, got)
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}

			if n := ts.Server.Sessions(); n != clients {
				t.Errorf("Sessions() = %d, want %d", n, clients)
			}
		})
	}
}

func TestE2E_ServerShutdown(t *testing.T) {
	lim := test.TimeOut(20 * time.Second)
	defer lim.Stop()

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			pair := NewTestPair(t, TestPairConfig{Kind: kind})

			pair.Server.Stop()

			select {
			case <-pair.Session.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("server session still running after Stop")
			}
			if n := pair.Server.Server.Sessions(); n != 0 {
				t.Errorf("Sessions() after Stop = %d", n)
			}

			select {
			case <-pair.Client.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("client session did not notice the shutdown")
			}
			if _, err := pair.Client.Echo(context.Background(), "late"); !errors.Is(err, orchestrator.ErrFinished) {
				t.Errorf("Echo() after shutdown error = %v, want %v", err, orchestrator.ErrFinished)
			}
		})
	}
}

func TestE2E_Notice(t *testing.T) {
	lim := test.TimeOut(20 * time.Second)
	defer lim.Stop()

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			got := make(chan string, 1)
			pair := NewTestPair(t, TestPairConfig{
				Kind:   kind,
				Server: echo.Config{OnNotice: func(text string) { got <- text }},
			})

			if err := pair.Client.Notify("heads up"); err != nil {
				t.Fatalf("Notify() error = %v", err)
			}
			select {
			case text := <-got:
				if text != "heads up" {
					t.Errorf("notice = %q", text)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("notice not delivered")
			}
		})
	}
}
