// Package server is a mock RFB server: it completes the handshake with any
// client, answers every FramebufferUpdateRequest with an empty update and
// logs everything it receives.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/rfbkit"
	"github.com/coder/rfbkit/internal/logging"
	"github.com/coder/rfbkit/internal/metrics"
	"github.com/coder/rfbkit/rfb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultAddr is the standard VNC display :0 port.
	DefaultAddr = ":5900"

	// DefaultDesktopName is announced in ServerInit.
	DefaultDesktopName = "Horcrux Test VM"

	// DefaultIdleTimeout closes sessions that send nothing for this long.
	DefaultIdleTimeout = 30 * time.Second

	// RefuseReasonBusy is sent when MaxConnections is reached.
	RefuseReasonBusy = "too many connections"
)

// Config configures the mock server.
type Config struct {
	// Addr is the RFB listen address, e.g. ":5900".
	Addr string

	// ServerInit is announced to every client.
	ServerInit rfb.ServerInit

	// Security lists the offered security types. Only None can complete;
	// anything else is dropped, and an empty result refuses every client.
	Security []rfb.SecurityType

	// HandshakeTimeout bounds each handshake read. Zero uses the rfb default.
	HandshakeTimeout time.Duration

	// IdleTimeout closes a session after this long without a message.
	// Zero disables it.
	IdleTimeout time.Duration

	// MaxConnections caps concurrent connections. Extra clients are refused
	// with a reason. Zero means unlimited.
	MaxConnections int

	// AdminAddr, when set, serves /metrics, /healthz, /sessions and the
	// /websockify endpoint.
	AdminAddr string

	// Advertise registers the server over mDNS as _rfb._tcp.
	Advertise bool

	// Metrics receives instrumentation. Nil disables it.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the mock server defaults: a 1024x768 BGRA desktop
// offering only the None security type.
func DefaultConfig() Config {
	return Config{
		Addr: DefaultAddr,
		ServerInit: rfb.ServerInit{
			Width:       1024,
			Height:      768,
			PixelFormat: rfb.DefaultPixelFormat(),
			Name:        DefaultDesktopName,
		},
		Security:    []rfb.SecurityType{rfb.SecurityNone},
		IdleTimeout: DefaultIdleTimeout,
	}
}

// SessionInfo describes one established session.
type SessionInfo struct {
	ID          uint64    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Shared      bool      `json:"shared"`
	Security    string    `json:"security"`
	PixelFormat string    `json:"pixel_format"`
	Encodings   []int32   `json:"encodings"`
	Started     time.Time `json:"started"`
	Messages    int64     `json:"messages"`
}

type trackedSession struct {
	id       uint64
	session  *rfb.Session
	started  time.Time
	messages atomic.Int64
}

// Server accepts RFB clients and runs one goroutine per connection.
type Server struct {
	cfg     Config
	metrics *metrics.Metrics

	conns atomic.Int64
	wg    sync.WaitGroup

	mu       sync.Mutex
	nextID   uint64
	sessions map[uint64]*trackedSession
}

// New creates a server. Nothing listens until Serve or Run.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		sessions: make(map[uint64]*trackedSession),
	}
}

// Run listens on Addr and runs the RFB listener together with the admin
// HTTP server and mDNS advertisement, if configured, until ctx is cancelled
// or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(ctx, ln)
	})
	if s.cfg.AdminAddr != "" {
		g.Go(func() error {
			return s.ServeAdmin(ctx, s.cfg.AdminAddr)
		})
	}
	if s.cfg.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		txt := map[string]string{
			"version": fmt.Sprintf("%d.%d", rfb.Version38.Major, rfb.Version38.Minor),
			"size":    fmt.Sprintf("%dx%d", s.cfg.ServerInit.Width, s.cfg.ServerInit.Height),
		}
		g.Go(func() error {
			return rfbkit.Advertise(ctx, s.cfg.ServerInit.Name, port, txt)
		})
	}
	return g.Wait()
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open session and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	logging.Info("Mock RFB server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("desktop_name", s.cfg.ServerInit.Name),
		zap.Uint16("width", s.cfg.ServerInit.Width),
		zap.Uint16("height", s.cfg.ServerInit.Height),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn runs the handshake and session loop for one transport and
// returns when the session ends. The transport is always closed.
func (s *Server) HandleConn(ctx context.Context, t rfb.Transport) {
	conn := rfb.NewConn(t)
	remoteAddr := conn.RemoteAddr()
	logging.LogConnection(remoteAddr, "accepted")

	n := s.conns.Add(1)
	defer s.conns.Add(-1)

	cfg := rfb.Config{
		Security:    s.cfg.Security,
		Timeout:     s.cfg.HandshakeTimeout,
		ServerInit:  s.cfg.ServerInit,
		IdleTimeout: s.cfg.IdleTimeout,
		Logger:      logging.GetLogger(),
	}
	if s.cfg.MaxConnections > 0 && n > int64(s.cfg.MaxConnections) {
		cfg.RefuseReason = RefuseReasonBusy
		s.metrics.Refused()
	}

	start := time.Now()
	h := rfb.NewHandshake(rfb.RoleServer, conn, cfg)
	sess, err := h.Run(ctx)
	s.metrics.ObserveHandshake(rfb.RoleServer.String(), handshakeResult(err), time.Since(start))
	logging.LogHandshake(remoteAddr, rfb.RoleServer.String(), h.State().String(), err)
	if err != nil {
		logging.LogConnection(remoteAddr, "closed")
		return
	}

	s.serveSession(ctx, sess)
	logging.LogConnection(remoteAddr, "closed")
}

func (s *Server) serveSession(ctx context.Context, sess *rfb.Session) {
	ts := s.track(sess)
	defer s.untrack(ts)
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()
	defer sess.Close()

	remoteAddr := sess.RemoteAddr()
	for m, err := range sess.Messages() {
		if err != nil {
			logging.Warn("Session ended with error",
				zap.String("remote_addr", remoteAddr),
				zap.Uint64("session", ts.id),
				zap.Error(err),
			)
			return
		}

		ts.messages.Add(1)
		name := rfb.MessageName(m.Direction(), m.Type())
		s.metrics.CountMessage(m.Direction().String(), name)
		logging.LogMessage(remoteAddr, m.Direction().String(), name, len(rfb.Encode(m)))

		switch m := m.(type) {
		case *rfb.FramebufferUpdateRequestMessage:
			if err := sess.Send(&rfb.FramebufferUpdateMessage{}); err != nil {
				logging.Warn("Failed to send FramebufferUpdate",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
				return
			}
			s.metrics.CountMessage(rfb.ServerToClient.String(), "FramebufferUpdate")
		case *rfb.SetPixelFormatMessage:
			logging.Debug("Client changed pixel format",
				zap.String("remote_addr", remoteAddr),
				zap.Stringer("pixel_format", m.PixelFormat),
			)
		case *rfb.ClientCutTextMessage:
			logging.Debug("Client cut text",
				zap.String("remote_addr", remoteAddr),
				zap.String("text", m.Text()),
			)
		}
	}
}

func (s *Server) track(sess *rfb.Session) *trackedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ts := &trackedSession{id: s.nextID, session: sess, started: time.Now()}
	s.sessions[ts.id] = ts
	return ts
}

func (s *Server) untrack(ts *trackedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ts.id)
}

// Sessions returns a snapshot of the established sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	tracked := make([]*trackedSession, 0, len(s.sessions))
	for _, ts := range s.sessions {
		tracked = append(tracked, ts)
	}
	s.mu.Unlock()

	slices.SortFunc(tracked, func(a, b *trackedSession) int {
		return cmp.Compare(a.id, b.id)
	})

	infos := make([]SessionInfo, 0, len(tracked))
	for _, ts := range tracked {
		encs := ts.session.Encodings()
		codes := make([]int32, len(encs))
		for i, e := range encs {
			codes[i] = int32(e)
		}
		infos = append(infos, SessionInfo{
			ID:          ts.id,
			RemoteAddr:  ts.session.RemoteAddr(),
			Shared:      ts.session.Shared(),
			Security:    ts.session.SecurityType().String(),
			PixelFormat: ts.session.PixelFormat().String(),
			Encodings:   codes,
			Started:     ts.started,
			Messages:    ts.messages.Load(),
		})
	}
	return infos
}

// Connections returns the number of open connections, including those still
// in the handshake.
func (s *Server) Connections() int {
	return int(s.conns.Load())
}

// handshakeResult turns a handshake outcome into a metric label.
func handshakeResult(err error) string {
	if err == nil {
		return "established"
	}
	kind := rfb.KindOf(err)
	if kind == 0 {
		return "error"
	}
	return strings.ReplaceAll(kind.String(), " ", "_")
}
