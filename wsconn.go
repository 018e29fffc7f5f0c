package rfbkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/rfbkit/rfb"
	"github.com/gorilla/websocket"
)

// Subprotocol is the WebSocket subprotocol noVNC and websockify negotiate
// for raw binary RFB.
const Subprotocol = "binary"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{Subprotocol},
	CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") != ""
	},
}

// WSConn carries an RFB byte stream over a WebSocket. Each Write becomes one
// binary message; Read drains messages in order, ignoring their boundaries.
type WSConn struct {
	ws *websocket.Conn

	r    io.Reader
	rerr error

	wmu sync.Mutex
}

var _ rfb.Transport = (*WSConn)(nil)

// NewWSConn wraps an established WebSocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

// Upgrade upgrades an HTTP request to a WebSocket carrying RFB.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

// DialWS connects to a ws:// or wss:// endpoint that relays RFB.
func DialWS(ctx context.Context, url string) (*WSConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{Subprotocol},
	}
	header := http.Header{}
	header.Set("Origin", "http://localhost")

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSConn(ws), nil
}

// Read implements io.Reader across message boundaries. A normal close from
// the peer reads as io.EOF.
func (c *WSConn) Read(p []byte) (int, error) {
	for {
		if c.rerr != nil {
			return 0, c.rerr
		}
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = io.EOF
				}
				// gorilla panics on repeated reads after a failure.
				c.rerr = err
				return 0, err
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.rerr = err
		}
		return n, err
	}
}

// Write sends p as a single binary message.
func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close frame and closes the underlying connection.
func (c *WSConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// SetReadDeadline bounds the next read. After a deadline expires the
// WebSocket is unusable.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}
