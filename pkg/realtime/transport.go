package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send when no connection is up.
var ErrNotConnected = errors.New("realtime: transport not connected")

// Transport moves whole binary messages to and from the service.
//
// Callbacks are registered before Connect and fire on the transport's read
// goroutine. OnDisconnected fires only when the peer or the network ends the
// connection, never after Close.
type Transport interface {
	Connect(ctx context.Context, url string, header http.Header) error
	Send(data []byte) error
	Close() error
	IsConnected() bool

	OnData(fn func([]byte))
	OnDisconnected(fn func())
	OnError(fn func(error))
}

// WebSocketTransport is a Transport over a gorilla/websocket connection.
type WebSocketTransport struct {
	Dialer *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	onData         func([]byte)
	onDisconnected func()
	onError        func(error)

	writeMu sync.Mutex
}

// NewWebSocketTransport returns a transport using websocket.DefaultDialer.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{Dialer: websocket.DefaultDialer}
}

func (t *WebSocketTransport) OnData(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onData = fn
}

func (t *WebSocketTransport) OnDisconnected(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnected = fn
}

func (t *WebSocketTransport) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// Connect dials url. Any previous connection is closed first.
func (t *WebSocketTransport) Connect(ctx context.Context, url string, header http.Header) error {
	t.Close()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (status %d, logid %s)", err, resp.StatusCode, resp.Header.Get("X-Tt-Logid"))
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			current := t.conn == conn
			if current {
				t.conn = nil
			}
			onErr, onDisc := t.onError, t.onDisconnected
			t.mu.Unlock()
			conn.Close()
			if !current {
				// Closed locally.
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && onErr != nil {
				onErr(err)
			}
			if onDisc != nil {
				onDisc()
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		t.mu.Lock()
		fn := t.onData
		t.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

// Send writes one binary message.
func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame and tears down the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *WebSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
