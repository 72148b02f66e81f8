package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// closeWait bounds the close handshake message on disconnect.
const closeWait = time.Second

// WebSocketConfig configures WebSocket transports.
type WebSocketConfig struct {
	// PollInterval is how long Receive waits before returning (nil, nil).
	// Default: DefaultPollInterval
	PollInterval time.Duration

	// MaxFrameSize bounds received messages. Default: DefaultMaxFrameSize
	MaxFrameSize int64

	// Header is sent with the dialer's handshake request.
	Header http.Header

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// wsConn carries one frame per binary WebSocket message.
type wsConn struct {
	*websocket.Conn
}

func newWSConn(conn *websocket.Conn, config WebSocketConfig) *wsConn {
	limit := config.MaxFrameSize
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	conn.SetReadLimit(limit)
	return &wsConn{Conn: conn}
}

// ReadFrame returns the next binary message. Text messages are skipped.
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		typ, data, err := c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	return c.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return c.Conn.Close()
}

// WebSocket is a channel.Transport over a WebSocket connection.
type WebSocket struct {
	*connTransport
}

// NewWebSocket creates a transport around an upgraded connection.
func NewWebSocket(conn *websocket.Conn, config WebSocketConfig) *WebSocket {
	return &WebSocket{
		connTransport: newConnTransport("transport-ws", newWSConn(conn, config), nil,
			config.PollInterval, config.LoggerFactory),
	}
}

// NewWebSocketDialer creates a transport that dials url (ws:// or wss://)
// on every Connect.
func NewWebSocketDialer(url string, config WebSocketConfig) *WebSocket {
	dialer := websocket.DefaultDialer
	return &WebSocket{
		connTransport: newConnTransport("transport-ws", nil, func(ctx context.Context) (frameConn, error) {
			conn, resp, err := dialer.DialContext(ctx, url, config.Header)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err != nil {
				return nil, err
			}
			return newWSConn(conn, config), nil
		}, config.PollInterval, config.LoggerFactory),
	}
}

// WebSocketAcceptor is an http.Handler that upgrades requests and hands
// each connection out as a WebSocket transport.
type WebSocketAcceptor struct {
	upgrader websocket.Upgrader
	config   WebSocketConfig
	conns    chan *WebSocket
	closeCh  chan struct{}
	log      logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// NewWebSocketAcceptor creates an acceptor. A nil checkOrigin accepts
// same-origin requests only.
func NewWebSocketAcceptor(config WebSocketConfig, checkOrigin func(r *http.Request) bool) *WebSocketAcceptor {
	a := &WebSocketAcceptor{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		config:   config,
		conns:    make(chan *WebSocket),
		closeCh:  make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("transport-ws")
	}
	return a
}

// ServeHTTP upgrades the request and waits until the connection is
// accepted or the acceptor is closed.
func (a *WebSocketAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-a.closeCh:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if a.log != nil {
			a.log.Warnf("upgrade from %s failed: %v", r.RemoteAddr, err)
		}
		return
	}

	if a.log != nil {
		a.log.Debugf("accepted %s", conn.RemoteAddr())
	}

	select {
	case a.conns <- NewWebSocket(conn, a.config):
	case <-a.closeCh:
		conn.Close()
	case <-r.Context().Done():
		conn.Close()
	}
}

// Accept waits for the next upgraded connection.
func (a *WebSocketAcceptor) Accept(ctx context.Context) (*WebSocket, error) {
	select {
	case ws := <-a.conns:
		return ws, nil
	case <-a.closeCh:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting connections.
func (a *WebSocketAcceptor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.closeCh)
	}
	return nil
}
