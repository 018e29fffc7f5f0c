package rfbkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/coder/rfbkit/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultDialTimeout bounds the TCP dial to the RFB target.
const DefaultDialTimeout = 5 * time.Second

// Proxy relays WebSocket clients to a TCP RFB server. It serves the
// WebSocket endpoint itself as an http.Handler, so it can be mounted on any
// router; Serve runs it on its own listener.
type Proxy struct {
	listener    string
	target      string
	webRoot     string
	dialTimeout time.Duration
	server      *http.Server
}

// Config holds the configuration for the proxy.
type Config struct {
	Listener    string
	Target      string
	WebRoot     string
	DialTimeout time.Duration
}

// New creates a proxy with the given configuration.
func New(config Config) *Proxy {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	return &Proxy{
		listener:    config.Listener,
		target:      config.Target,
		webRoot:     config.WebRoot,
		dialTimeout: config.DialTimeout,
	}
}

// Handler returns the mux Serve uses: the WebSocket endpoint at /websockify
// and, when a web root is configured, static files at /.
func (p *Proxy) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	if p.webRoot != "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root, err := filepath.Abs(p.webRoot)
		if err != nil {
			return nil, err
		}
		if root == wd {
			return nil, errors.New("refusing to serve static content from the current working directory")
		}
		logging.Info("Serving static files", zap.String("web_root", root))
		mux.Handle("/", http.FileServer(http.Dir(root)))
	}

	mux.Handle("/websockify", p)
	return mux, nil
}

// Serve starts the proxy and blocks until ctx is cancelled.
func (p *Proxy) Serve(ctx context.Context) error {
	handler, err := p.Handler()
	if err != nil {
		return err
	}

	p.server = &http.Server{
		Addr:              p.listener,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logging.Info("Starting WebSocket proxy",
		zap.String("listen", p.listener),
		zap.String("target", p.target),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return p.server.Close()
	})
	return g.Wait()
}

// ServeHTTP upgrades the request and relays it to the target.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	ws, err := Upgrade(w, r)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
		return
	}
	logging.LogConnection(remoteAddr, "websocket_upgraded")

	dialer := net.Dialer{Timeout: p.dialTimeout}
	tcp, err := dialer.DialContext(r.Context(), "tcp", p.target)
	if err != nil {
		logging.Warn("Failed to connect to target",
			zap.String("remote_addr", remoteAddr),
			zap.String("target", p.target),
			zap.Error(err),
		)
		ws.Close()
		return
	}

	if err := Relay(r.Context(), ws, tcp); err != nil {
		logging.Debug("Relay ended", zap.String("remote_addr", remoteAddr), zap.Error(err))
	}
	logging.LogConnection(remoteAddr, "websocket_closed")
}

// Relay copies bytes both ways until either side closes or ctx is
// cancelled, then closes both. Only the error that ended the relay is
// returned; the other direction always fails once both ends are closed.
func Relay(ctx context.Context, a, b io.ReadWriteCloser) error {
	var closed atomic.Bool
	closeBoth := func() bool {
		if !closed.CompareAndSwap(false, true) {
			return false
		}
		a.Close()
		b.Close()
		return true
	}
	stop := context.AfterFunc(ctx, func() { closeBoth() })
	defer stop()

	var g errgroup.Group
	pipe := func(label string, dst io.Writer, src io.Reader) func() error {
		return func() error {
			_, err := io.Copy(dst, &dumpReader{label: label, r: src})
			if !closeBoth() || err == nil {
				return nil
			}
			return fmt.Errorf("%s: %w", label, err)
		}
	}
	g.Go(pipe("client to target", b, a))
	g.Go(pipe("target to client", a, b))
	return g.Wait()
}

// dumpReader hex-dumps each chunk at debug level.
type dumpReader struct {
	label string
	r     io.Reader
}

func (d *dumpReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		logging.LogRawBytes(d.label, p[:n])
	}
	return n, err
}
