// Package client probes RFB servers: it runs the client handshake against a
// TCP or WebSocket endpoint, requests one framebuffer update and reports what
// the server announced.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/coder/rfbkit"
	"github.com/coder/rfbkit/internal/logging"
	"github.com/coder/rfbkit/rfb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds the dial and each handshake read.
	DefaultTimeout = 5 * time.Second

	// DefaultReplyTimeout is how long Probe waits for the first server
	// message after its update request.
	DefaultReplyTimeout = 2 * time.Second
)

// Options tunes Probe. The zero value probes with defaults.
type Options struct {
	Timeout      time.Duration
	ReplyTimeout time.Duration

	// Shared is sent in ClientInit.
	Shared bool

	// PixelFormat, when set, is sent as SetPixelFormat before the request.
	PixelFormat *rfb.PixelFormat

	// Encodings, when non-empty, is sent as SetEncodings before the request.
	Encodings []rfb.Encoding
}

// Report is what a successful probe learned about the server.
type Report struct {
	Address     string        `json:"address"`
	Version     string        `json:"version"`
	Security    string        `json:"security"`
	Width       uint16        `json:"width"`
	Height      uint16        `json:"height"`
	PixelFormat string        `json:"pixel_format"`
	Name        string        `json:"name"`
	Reply       string        `json:"reply,omitempty"`
	Rectangles  int           `json:"rectangles"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Dial opens a transport to addr: a ws:// or wss:// URL goes through a
// WebSocket relay, anything else is a TCP host:port.
func Dial(ctx context.Context, addr string, timeout time.Duration) (rfb.Transport, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, err := rfbkit.DialWS(ctx, addr)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Probe connects to addr, completes the handshake, sends one full-screen
// FramebufferUpdateRequest and waits briefly for the reply. A server that
// stays silent is not an error: Report.Reply is left empty.
func Probe(ctx context.Context, addr string, opts Options) (*Report, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}

	start := time.Now()
	t, err := Dial(ctx, addr, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	logging.LogConnection(addr, "connected")

	sess, err := rfb.ClientHandshake(ctx, t, rfb.Config{
		Shared:      opts.Shared,
		Timeout:     opts.Timeout,
		IdleTimeout: opts.ReplyTimeout,
		Logger:      logging.GetLogger(),
	})
	logging.LogHandshake(addr, rfb.RoleClient.String(), handshakeState(err), err)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	init := sess.ServerInit()
	report := &Report{
		Address:     addr,
		Version:     fmt.Sprintf("%d.%d", sess.Version().Major, sess.Version().Minor),
		Security:    sess.SecurityType().String(),
		Width:       init.Width,
		Height:      init.Height,
		PixelFormat: init.PixelFormat.String(),
		Name:        init.Name,
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { sess.Close() })
	defer stop()

	g.Go(func() error {
		if opts.PixelFormat != nil {
			if err := sess.Send(&rfb.SetPixelFormatMessage{PixelFormat: *opts.PixelFormat}); err != nil {
				return err
			}
		}
		if len(opts.Encodings) > 0 {
			if err := sess.Send(&rfb.SetEncodingsMessage{Encodings: opts.Encodings}); err != nil {
				return err
			}
		}
		return sess.Send(&rfb.FramebufferUpdateRequestMessage{
			Width:  init.Width,
			Height: init.Height,
		})
	})
	g.Go(func() error {
		m, err := sess.Next()
		if err == io.EOF {
			return errors.New("server closed the connection without replying")
		}
		if errors.Is(err, rfb.ErrTimeout) {
			logging.Debug("No reply to FramebufferUpdateRequest", zap.String("addr", addr))
			return nil
		}
		if err != nil {
			return err
		}
		report.Reply = rfb.MessageName(m.Direction(), m.Type())
		if fu, ok := m.(*rfb.FramebufferUpdateMessage); ok {
			report.Rectangles = len(fu.Rectangles)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

func handshakeState(err error) string {
	if err != nil {
		return rfb.StateFailed.String()
	}
	return rfb.StateEstablished.String()
}
