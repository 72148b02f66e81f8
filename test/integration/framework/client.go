package framework

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Client runs `protoorch dial` against a server for integration testing.
type Client struct {
	t              *testing.T
	binary         string
	configFile     string
	defaultTimeout time.Duration
}

// clientLogWriter forwards output to t.Logf as it arrives.
type clientLogWriter struct {
	t      *testing.T
	prefix string
}

func (lw *clientLogWriter) Write(p []byte) (n int, err error) {
	lw.t.Logf("%s%s", lw.prefix, string(p))
	return len(p), nil
}

// ClientConfig holds configuration for a Client.
type ClientConfig struct {
	// Binary is the protoorch binary, see Build. Required.
	Binary string

	// ConfigFile is passed as --config when set.
	ConfigFile string

	// DefaultTimeout is the timeout per command. Default: 30s
	DefaultTimeout time.Duration
}

// NewClient creates a new client wrapper for testing.
func NewClient(t *testing.T, config ClientConfig) *Client {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	return &Client{
		t:              t,
		binary:         config.Binary,
		configFile:     config.ConfigFile,
		defaultTimeout: config.DefaultTimeout,
	}
}

// Echo dials addr over transport and sends text count times in mode. It
// returns the echoed replies in order.
func (c *Client) Echo(addr, transport string, mode, count int, text string) ([]string, error) {
	args := []string{
		"dial",
		"--addr", addr,
		"--transport", transport,
		"--mode", strconv.Itoa(mode),
		"--count", strconv.Itoa(count),
		"--text", text,
	}

	output, err := c.run(args...)
	if err != nil {
		return nil, err
	}

	var replies []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		_, reply, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// Validate runs `protoorch validate` and returns its output.
func (c *Client) Validate() (string, error) {
	return c.run("validate")
}

// run executes a protoorch command and returns its stdout.
func (c *Client) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.defaultTimeout)
	defer cancel()

	if c.configFile != "" {
		args = append(args, "--config", c.configFile)
	}
	cmd := exec.CommandContext(ctx, c.binary, args...)

	var stdout bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, &clientLogWriter{t: c.t, prefix: "[protoorch stdout] "})
	cmd.Stderr = &clientLogWriter{t: c.t, prefix: "[protoorch stderr] "}

	c.t.Logf("protoorch: Running: %s %s", c.binary, strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stdout.String(), fmt.Errorf("command timed out after %v", c.defaultTimeout)
		}
		return stdout.String(), fmt.Errorf("command failed: %w", err)
	}
	return stdout.String(), nil
}
