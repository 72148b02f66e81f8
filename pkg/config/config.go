// Package config loads the file configuration of protoorch processes.
//
// A file is TOML or YAML, picked by extension. Every key is optional; Load
// starts from Default and overlays what the file sets. The helpers at the
// bottom turn sections into the Config structs of the runtime packages.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/backkem/protoorch/pkg/channel"
	"github.com/backkem/protoorch/pkg/discovery"
	"github.com/backkem/protoorch/pkg/protocol"
	"github.com/backkem/protoorch/pkg/transport"
)

// Format is the encoding of a configuration file.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// Handshake kinds.
const (
	HandshakeKindNone   = "none"
	HandshakeKindX25519 = "x25519"
	HandshakeKindToken  = "token"
)

// Config is the whole file configuration.
type Config struct {
	Log          LogSection          `toml:"log" yaml:"log"`
	Transport    TransportSection    `toml:"transport" yaml:"transport"`
	Channel      ChannelSection      `toml:"channel" yaml:"channel"`
	Orchestrator OrchestratorSection `toml:"orchestrator" yaml:"orchestrator"`
	Handshake    HandshakeSection    `toml:"handshake" yaml:"handshake"`
	Discovery    DiscoverySection    `toml:"discovery" yaml:"discovery"`
	Metrics      MetricsSection      `toml:"metrics" yaml:"metrics"`
}

// LogSection sets log levels.
type LogSection struct {
	// Level is the default level: disabled, error, warn, info, debug, trace.
	Level string `toml:"level" yaml:"level"`

	// Scopes overrides the level per logger scope, e.g. {orchestrator = "debug"}.
	Scopes map[string]string `toml:"scopes" yaml:"scopes"`
}

// TransportSection selects and tunes the transport.
type TransportSection struct {
	// Kind is "tcp" or "ws".
	Kind string `toml:"kind" yaml:"kind"`

	// Listen is the server listen address.
	Listen string `toml:"listen" yaml:"listen"`

	// Address is the client dial target: host:port for tcp, a URL for ws.
	Address string `toml:"address" yaml:"address"`

	// Path is the HTTP path served for ws.
	Path string `toml:"path" yaml:"path"`

	MaxFrameSize uint32        `toml:"max_frame_size" yaml:"max_frame_size"`
	PollInterval time.Duration `toml:"poll_interval" yaml:"poll_interval"`
}

// ChannelSection tunes channels.
type ChannelSection struct {
	Timeout           time.Duration `toml:"timeout" yaml:"timeout"`
	CloseGrace        time.Duration `toml:"close_grace" yaml:"close_grace"`
	ReceiveBackoff    time.Duration `toml:"receive_backoff" yaml:"receive_backoff"`
	MaxReceiveBackoff time.Duration `toml:"max_receive_backoff" yaml:"max_receive_backoff"`
}

// OrchestratorSection tunes orchestrators.
type OrchestratorSection struct {
	// StartTimeout bounds Start and Finish.
	StartTimeout time.Duration `toml:"start_timeout" yaml:"start_timeout"`

	// Magic is the envelope marker. 0 uses the default.
	Magic uint32 `toml:"magic" yaml:"magic"`
}

// HandshakeSection selects the handshake.
type HandshakeSection struct {
	// Kind is "none", "x25519" or "token".
	Kind string `toml:"kind" yaml:"kind"`

	// Type is "TwoWay" or "ThreeWay". Ignored for kind none.
	Type string `toml:"type" yaml:"type"`

	// Secret, Name, Peer and TTL configure the token handshake.
	Secret string        `toml:"secret" yaml:"secret"`
	Name   string        `toml:"name" yaml:"name"`
	Peer   string        `toml:"peer" yaml:"peer"`
	TTL    time.Duration `toml:"ttl" yaml:"ttl"`
}

// DiscoverySection configures DNS-SD.
type DiscoverySection struct {
	// Advertise publishes served endpoints.
	Advertise bool `toml:"advertise" yaml:"advertise"`

	// Instance is the advertised instance name. Empty picks a random one.
	Instance string `toml:"instance" yaml:"instance"`

	BrowseTimeout time.Duration `toml:"browse_timeout" yaml:"browse_timeout"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Address serves /metrics when set.
	Address string `toml:"address" yaml:"address"`

	Namespace string `toml:"namespace" yaml:"namespace"`
}

// Default returns the configuration used for unset keys.
func Default() Config {
	return Config{
		Log: LogSection{Level: "info"},
		Transport: TransportSection{
			Kind:         "tcp",
			Listen:       ":7447",
			Address:      "127.0.0.1:7447",
			Path:         "/",
			MaxFrameSize: transport.DefaultMaxFrameSize,
			PollInterval: transport.DefaultPollInterval,
		},
		Channel: ChannelSection{
			Timeout:           channel.DefaultTimeout,
			CloseGrace:        channel.DefaultCloseGrace,
			ReceiveBackoff:    channel.DefaultReceiveBackoff,
			MaxReceiveBackoff: channel.DefaultMaxReceiveBackoff,
		},
		Orchestrator: OrchestratorSection{StartTimeout: 5 * time.Second},
		Handshake:    HandshakeSection{Kind: HandshakeKindNone, Type: "TwoWay", TTL: time.Minute},
		Discovery:    DiscoverySection{BrowseTimeout: discovery.DefaultBrowseTimeout},
		Metrics:      MetricsSection{Namespace: "protoorch"},
	}
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, ErrUnknownFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var problems []string

	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	for scope, level := range c.Log.Scopes {
		if _, err := ParseLevel(level); err != nil {
			problems = append(problems, fmt.Sprintf("log scope %q: %v", scope, err))
		}
	}

	if discovery.ParseTransportKind(c.Transport.Kind) == discovery.TransportUnknown {
		problems = append(problems, fmt.Sprintf("transport kind %q (want tcp or ws)", c.Transport.Kind))
	}
	if c.Transport.PollInterval <= 0 {
		problems = append(problems, "transport poll_interval must be positive")
	}

	if c.Channel.Timeout <= 0 {
		problems = append(problems, "channel timeout must be positive")
	}
	if c.Channel.ReceiveBackoff > c.Channel.MaxReceiveBackoff {
		problems = append(problems, "channel receive_backoff exceeds max_receive_backoff")
	}
	if c.Orchestrator.StartTimeout <= 0 {
		problems = append(problems, "orchestrator start_timeout must be positive")
	}

	switch c.Handshake.Kind {
	case HandshakeKindNone, HandshakeKindX25519:
	case HandshakeKindToken:
		if c.Handshake.Secret == "" {
			problems = append(problems, "handshake kind token requires a secret")
		}
	default:
		problems = append(problems, fmt.Sprintf("handshake kind %q (want none, x25519 or token)", c.Handshake.Kind))
	}
	if c.Handshake.Kind != HandshakeKindNone && c.Handshake.Type != "TwoWay" && c.Handshake.Type != "ThreeWay" {
		problems = append(problems, fmt.Sprintf("handshake type %q (want TwoWay or ThreeWay)", c.Handshake.Type))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// TransportKind returns the parsed transport kind.
func (c *Config) TransportKind() discovery.TransportKind {
	return discovery.ParseTransportKind(c.Transport.Kind)
}

// LoggerFactory builds a pion logger factory writing to w.
func (c *Config) LoggerFactory(w io.Writer) *logging.DefaultLoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = w
	f.DefaultLogLevel, _ = ParseLevel(c.Log.Level)
	for scope, level := range c.Log.Scopes {
		if l, err := ParseLevel(level); err == nil {
			f.ScopeLevels[scope] = l
		}
	}
	return f
}

// ChannelConfig builds a channel configuration.
func (c *Config) ChannelConfig(t channel.Transport, role channel.Role, lf logging.LoggerFactory) channel.Config {
	return channel.Config{
		Transport:         t,
		Role:              role,
		DefaultTimeout:    c.Channel.Timeout,
		CloseGrace:        c.Channel.CloseGrace,
		ReceiveBackoff:    c.Channel.ReceiveBackoff,
		MaxReceiveBackoff: c.Channel.MaxReceiveBackoff,
		LoggerFactory:     lf,
	}
}

// StreamConfig builds a TCP stream configuration.
func (c *Config) StreamConfig(lf logging.LoggerFactory) transport.StreamConfig {
	return transport.StreamConfig{
		PollInterval:  c.Transport.PollInterval,
		MaxFrameSize:  c.Transport.MaxFrameSize,
		LoggerFactory: lf,
	}
}

// WebSocketConfig builds a WebSocket configuration.
func (c *Config) WebSocketConfig(lf logging.LoggerFactory) transport.WebSocketConfig {
	return transport.WebSocketConfig{
		PollInterval:  c.Transport.PollInterval,
		MaxFrameSize:  int64(c.Transport.MaxFrameSize),
		LoggerFactory: lf,
	}
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
	}
}

// HandshakeType returns the configured handshake shape.
func (c *Config) HandshakeType() protocol.HandshakeType {
	switch {
	case c.Handshake.Kind == HandshakeKindNone:
		return protocol.HandshakeNone
	case c.Handshake.Type == "ThreeWay":
		return protocol.HandshakeThreeWay
	default:
		return protocol.HandshakeTwoWay
	}
}
