package main

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/backkem/protoorch/examples/echo"
	"github.com/backkem/protoorch/pkg/config"
	"github.com/backkem/protoorch/pkg/handshake/token"
	"github.com/backkem/protoorch/pkg/handshake/x25519"
)

// handshakeFactory maps the handshake section onto an echo handshake.
func handshakeFactory(cfg *config.Config, lf logging.LoggerFactory) (echo.HandshakeFactory, error) {
	hs := cfg.Handshake
	typ := cfg.HandshakeType()

	switch hs.Kind {
	case config.HandshakeKindNone:
		return echo.NoHandshake(), nil
	case config.HandshakeKindX25519:
		return echo.X25519(typ, x25519.Config{Context: echo.Name, LoggerFactory: lf}, nil), nil
	case config.HandshakeKindToken:
		return echo.Token(typ, token.Config{
			Secret:        []byte(hs.Secret),
			Name:          hs.Name,
			Peer:          hs.Peer,
			Protocol:      echo.Name,
			TTL:           hs.TTL,
			LoggerFactory: lf,
		}, nil), nil
	default:
		return nil, fmt.Errorf("unknown handshake kind %q", hs.Kind)
	}
}
