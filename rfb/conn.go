package rfb

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the byte stream a connection runs over. net.Conn satisfies
// it; so does the WebSocket adapter in the root package.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type remoteAddresser interface {
	RemoteAddr() net.Addr
}

// Conn wraps a Transport with the bookkeeping both roles need: writes are
// serialized so a session can send from several goroutines while one
// goroutine reads, and a local Close is distinguishable from the peer
// going away.
type Conn struct {
	t      Transport
	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
	cerr   error

	// Read deadline for transports that cannot enforce one themselves.
	dmu      sync.Mutex
	deadline time.Time
	expired  atomic.Bool
}

// NewConn wraps t.
func NewConn(t Transport) *Conn {
	return &Conn{t: t}
}

// Read reads from the transport. After a local Close it reports KindClosed.
func (c *Conn) Read(p []byte) (int, error) {
	stop, ok := c.watchDeadline()
	if !ok {
		return 0, os.ErrDeadlineExceeded
	}
	n, err := c.t.Read(p)
	stop()
	if err != nil && c.expired.Load() {
		return n, os.ErrDeadlineExceeded
	}
	if err != nil && c.closed.Load() && !errors.Is(err, io.EOF) {
		return n, newError(KindClosed, "read", err)
	}
	return n, err
}

// Write writes p in full while holding the write lock, so concurrent
// messages never interleave on the wire.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, err := c.t.Write(p)
	if err != nil && c.closed.Load() {
		return n, newError(KindClosed, "write", err)
	}
	return n, err
}

// writeFrame writes one complete protocol unit and classifies failures.
func (c *Conn) writeFrame(op string, b []byte) error {
	if _, err := c.Write(b); err != nil {
		return classifyIOError(op, err)
	}
	return nil
}

// Close closes the transport once; later calls return the first result.
// Any blocked Read or Write is released.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.cerr = c.t.Close()
	})
	return c.cerr
}

// Closed reports whether Close has been called. A transport torn down by an
// expired read deadline does not count.
func (c *Conn) Closed() bool {
	return c.closed.Load() && !c.expired.Load()
}

// SetReadDeadline bounds future reads; the zero time removes the bound.
// Transports without deadline support are closed when the deadline passes
// during a read, and the read fails with a timeout.
func (c *Conn) SetReadDeadline(t time.Time) {
	if d, ok := c.t.(readDeadliner); ok && d.SetReadDeadline(t) == nil {
		return
	}
	c.dmu.Lock()
	c.deadline = t
	c.dmu.Unlock()
}

// watchDeadline arms the emulated deadline for one read. It reports false
// if the deadline has already passed.
func (c *Conn) watchDeadline() (stop func(), ok bool) {
	c.dmu.Lock()
	deadline := c.deadline
	c.dmu.Unlock()
	if deadline.IsZero() {
		return func() {}, true
	}
	d := time.Until(deadline)
	if d <= 0 {
		c.expire()
		return nil, false
	}
	timer := time.AfterFunc(d, c.expire)
	return func() { timer.Stop() }, true
}

func (c *Conn) expire() {
	c.expired.Store(true)
	_ = c.Close()
}

// RemoteAddr returns the peer address if the transport knows it.
func (c *Conn) RemoteAddr() string {
	if ra, ok := c.t.(remoteAddresser); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}
	return "unknown"
}
