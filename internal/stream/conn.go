package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open feed connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// closeCode extracts the close code from a read error, if the peer sent one.
func closeCode(err error) (int, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// WSDialer dials the feed with gorilla/websocket.
type WSDialer struct {
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// NewWSDialer creates a dialer with optional proxy support.
func NewWSDialer(proxyURL string, handshakeTimeout time.Duration) *WSDialer {
	d := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			d.Proxy = http.ProxyURL(u)
		}
	}
	return &WSDialer{Dialer: d, WriteTimeout: 10 * time.Second}
}

func (d *WSDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	ws, resp, err := d.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsConn{conn: ws, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

// Close sends a close frame and closes the socket. The close frame is
// best-effort. It does not wait for an in-flight WriteJSON; gorilla allows
// WriteControl and Close concurrently with other writers.
func (c *wsConn) Close(code int, reason string) error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return c.conn.Close()
}
