package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	// ReadTimeout bounds each read. Zero disables the deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write. Default: 10s.
	WriteTimeout time.Duration

	// MaxMessageSize caps inbound websocket messages. Default: 1MB.
	MaxMessageSize int64

	// Logger for transport events. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultWebSocketConfig returns a WebSocketConfig with sensible
// defaults.
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// WebSocketTransport adapts a gorilla/websocket connection to the
// Transport interface. Wire buffers travel as binary websocket messages.
type WebSocketTransport struct {
	conn    *websocket.Conn
	cfg     WebSocketConfig
	logger  *slog.Logger
	writeMu sync.Mutex

	recvMu    sync.RWMutex
	onReceive func([]byte)

	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
}

// NewWebSocketTransport wraps an established websocket connection. Call
// OnReceive and then Start; inbound messages arriving before Start are
// never read.
func NewWebSocketTransport(conn *websocket.Conn, cfg *WebSocketConfig) *WebSocketTransport {
	if cfg == nil {
		cfg = DefaultWebSocketConfig()
	}
	c := *cfg
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxMessageSize > 0 {
		conn.SetReadLimit(c.MaxMessageSize)
	}
	return &WebSocketTransport{
		conn:   conn,
		cfg:    c,
		logger: c.Logger.With("component", "ws-transport"),
		done:   make(chan struct{}),
	}
}

// Send writes one wire buffer as a binary websocket message. Safe for
// concurrent use.
func (t *WebSocketTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

// OnReceive registers the inbound callback.
func (t *WebSocketTransport) OnReceive(fn func(data []byte)) {
	t.recvMu.Lock()
	t.onReceive = fn
	t.recvMu.Unlock()
}

// Start launches the read loop. The loop runs until the connection
// closes or errors, then closes the transport. Subsequent calls are
// no-ops.
func (t *WebSocketTransport) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.readLoop()
}

// Done is closed when the read loop exits.
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

// Close tears down the connection and stops the read loop.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.done)
	defer t.Close()

	for {
		if t.cfg.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		}

		msgType, msg, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				t.logger.Error("read error", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			t.logger.Warn("ignoring non-binary message", "type", msgType)
			continue
		}

		t.recvMu.RLock()
		fn := t.onReceive
		t.recvMu.RUnlock()
		if fn == nil {
			t.logger.Warn("dropping message, no receive callback", "bytes", len(msg))
			continue
		}
		fn(msg)
	}
}
