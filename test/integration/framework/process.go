// Package framework runs the protoorch binary for integration tests.
package framework

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Build compiles the protoorch main package in pkgDir into outDir and
// returns the binary path.
func Build(pkgDir, outDir string) (string, error) {
	absPath, err := filepath.Abs(pkgDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	bin := filepath.Join(outDir, "protoorch")
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = absPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("go build: %w\n%s", err, out)
	}
	return bin, nil
}

// ServerProcess manages a `protoorch serve` process.
type ServerProcess struct {
	binary string
	addr   string
	args   []string
	ready  time.Duration

	mu         sync.Mutex
	cmd        *exec.Cmd
	started    bool
	logFile    *os.File
	done       chan struct{}
	cancelFunc context.CancelFunc
}

// ServerProcessConfig holds configuration for a server process.
type ServerProcessConfig struct {
	// Binary is the protoorch binary, see Build. Required.
	Binary string

	// Listen is the listen address. Default: a free loopback port
	Listen string

	// Transport is "tcp" or "ws". Default: tcp
	Transport string

	// ConfigFile is passed as --config when set.
	ConfigFile string

	// LogFile is an optional path to write output to.
	LogFile string

	// ReadyTimeout bounds the wait for the serving line. Default: 10s
	ReadyTimeout time.Duration

	// ExtraArgs are additional command-line arguments.
	ExtraArgs []string
}

// NewServerProcess creates a new server process manager.
func NewServerProcess(config ServerProcessConfig) (*ServerProcess, error) {
	if config.Binary == "" {
		return nil, fmt.Errorf("server process needs a binary")
	}
	if config.Listen == "" {
		addr, err := FreePort()
		if err != nil {
			return nil, err
		}
		config.Listen = addr
	}
	if config.Transport == "" {
		config.Transport = "tcp"
	}
	if config.ReadyTimeout == 0 {
		config.ReadyTimeout = 10 * time.Second
	}

	args := []string{"serve", "--listen", config.Listen, "--transport", config.Transport, "--log-level", "debug"}
	if config.ConfigFile != "" {
		args = append(args, "--config", config.ConfigFile)
	}
	args = append(args, config.ExtraArgs...)

	p := &ServerProcess{
		binary: config.Binary,
		addr:   config.Listen,
		args:   args,
		ready:  config.ReadyTimeout,
		done:   make(chan struct{}),
	}
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		p.logFile = f
	}
	return p, nil
}

// Start runs the server and waits until it reports that it is serving.
func (p *ServerProcess) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("server process already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFunc = cancel

	p.cmd = exec.CommandContext(ctx, p.binary, p.args...)
	p.cmd.Stderr = newLogWriter("[protoorch stderr]", p.logFile)

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := p.cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start server: %w", err)
	}
	p.started = true

	ready := make(chan struct{})
	go p.watch(stdout, ready)
	go func() {
		defer close(p.done)
		p.cmd.Wait()
	}()

	select {
	case <-ready:
		return nil
	case <-p.done:
		return fmt.Errorf("server exited before serving")
	case <-time.After(p.ready):
		return fmt.Errorf("server not ready after %v", p.ready)
	}
}

// watch copies stdout to the log and closes ready at the serving line.
func (p *ServerProcess) watch(stdout io.Reader, ready chan struct{}) {
	w := newLogWriter("[protoorch stdout]", p.logFile)
	signalled := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(w, line)
		if !signalled && strings.HasPrefix(line, "serving ") {
			signalled = true
			close(ready)
		}
	}
}

// Stop sends SIGTERM and waits for the process to exit.
func (p *ServerProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.cmd.Process.Kill()
		}
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		p.cancelFunc()
		<-p.done
	}
	p.cancelFunc()

	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}

	p.started = false
	return nil
}

// Addr returns the address the server listens on.
func (p *ServerProcess) Addr() string {
	return p.addr
}

// IsRunning returns true if the server process is currently running.
func (p *ServerProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// FreePort returns a loopback address with a currently unused port.
func FreePort() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}

// logWriter is a simple io.Writer that prefixes each line with a label.
// It writes to stdout and optionally to a file.
type logWriter struct {
	prefix  string
	logFile *os.File
	mu      sync.Mutex
}

func newLogWriter(prefix string, logFile *os.File) *logWriter {
	return &logWriter{
		prefix:  prefix,
		logFile: logFile,
	}
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Printf("%s %s", w.prefix, string(p))
	if w.logFile != nil {
		fmt.Fprintf(w.logFile, "%s %s", w.prefix, string(p))
	}
	return len(p), nil
}
