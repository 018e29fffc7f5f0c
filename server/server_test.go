package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/coder/rfbkit/internal/metrics"
	"github.com/coder/rfbkit/rfb"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.IdleTimeout = 0
	return cfg
}

// startServer runs Serve on a loopback listener until the test ends.
func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve() did not return after cancel")
		}
	})
	return s, ln.Addr().String()
}

func dialSession(t *testing.T, addr string) *rfb.Session {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	sess, err := rfb.ClientHandshake(context.Background(), conn, rfb.Config{Shared: true})
	if err != nil {
		t.Fatalf("ClientHandshake() error = %v", err)
	}
	return sess
}

func TestServerAnswersUpdateRequest(t *testing.T) {
	_, addr := startServer(t, testConfig())
	sess := dialSession(t, addr)

	init := sess.ServerInit()
	if init.Width != 1024 || init.Height != 768 || init.Name != DefaultDesktopName {
		t.Errorf("ServerInit = %+v, want 1024x768 %q", init, DefaultDesktopName)
	}

	req := &rfb.FramebufferUpdateRequestMessage{Width: init.Width, Height: init.Height}
	if err := sess.Send(req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	m, err := sess.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	fu, ok := m.(*rfb.FramebufferUpdateMessage)
	if !ok {
		t.Fatalf("Next() = %T, want *rfb.FramebufferUpdateMessage", m)
	}
	if len(fu.Rectangles) != 0 {
		t.Errorf("len(Rectangles) = %d, want 0", len(fu.Rectangles))
	}
}

func TestServerTracksSessions(t *testing.T) {
	s, addr := startServer(t, testConfig())
	sess := dialSession(t, addr)

	encs := []rfb.Encoding{rfb.RawEncoding, rfb.CopyRectEncoding}
	if err := sess.Send(&rfb.SetEncodingsMessage{Encodings: encs}); err != nil {
		t.Fatalf("Send(SetEncodings) error = %v", err)
	}
	// The reply to an update request proves SetEncodings was processed.
	if err := sess.Send(&rfb.FramebufferUpdateRequestMessage{Width: 1, Height: 1}); err != nil {
		t.Fatalf("Send(FramebufferUpdateRequest) error = %v", err)
	}
	if _, err := sess.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	infos := s.Sessions()
	if len(infos) != 1 {
		t.Fatalf("len(Sessions()) = %d, want 1", len(infos))
	}
	info := infos[0]
	if !info.Shared {
		t.Error("Shared = false, want true")
	}
	if info.Security != rfb.SecurityNone.String() {
		t.Errorf("Security = %q, want %q", info.Security, rfb.SecurityNone.String())
	}
	if len(info.Encodings) != 2 || info.Encodings[1] != int32(rfb.CopyRectEncoding) {
		t.Errorf("Encodings = %v, want [0 1]", info.Encodings)
	}
	if info.Messages != 2 {
		t.Errorf("Messages = %d, want 2", info.Messages)
	}
	if s.Connections() != 1 {
		t.Errorf("Connections() = %d, want 1", s.Connections())
	}
}

func TestServerRefusesOverCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.Metrics = metrics.New()
	_, addr := startServer(t, cfg)

	dialSession(t, addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, err = rfb.ClientHandshake(context.Background(), conn, rfb.Config{})
	if !errors.Is(err, rfb.ErrSecurityRefused) {
		t.Fatalf("ClientHandshake() error = %v, want ErrSecurityRefused", err)
	}
	var rerr *rfb.Error
	if !errors.As(err, &rerr) || rerr.Reason != RefuseReasonBusy {
		t.Errorf("refusal reason = %+v, want %q", rerr, RefuseReasonBusy)
	}
}

func TestServerRefusesWithoutUsableSecurity(t *testing.T) {
	cfg := testConfig()
	cfg.Security = []rfb.SecurityType{rfb.SecurityVNCAuth}
	_, addr := startServer(t, cfg)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, err = rfb.ClientHandshake(context.Background(), conn, rfb.Config{})
	if !errors.Is(err, rfb.ErrSecurityRefused) {
		t.Fatalf("ClientHandshake() error = %v, want ErrSecurityRefused", err)
	}
}

func TestServerShutdownClosesSessions(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	sess := dialSession(t, ln.Addr().String())
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	if _, err := sess.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after shutdown error = %v, want io.EOF", err)
	}
	if n := len(s.Sessions()); n != 0 {
		t.Errorf("len(Sessions()) = %d, want 0", n)
	}
}

func TestServerHandshakeMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = metrics.New()
	_, addr := startServer(t, cfg)

	sess := dialSession(t, addr)
	if err := sess.Send(&rfb.FramebufferUpdateRequestMessage{Width: 1, Height: 1}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := sess.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	n, err := testutil.GatherAndCount(cfg.Metrics.Registry(), "rfbkit_handshakes_total")
	if err != nil || n != 1 {
		t.Errorf("GatherAndCount(handshakes_total) = %d, %v; want 1", n, err)
	}
}

func TestHandshakeResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "established"},
		{&rfb.Error{Kind: rfb.KindTimeout}, "timeout"},
		{&rfb.Error{Kind: rfb.KindSecurityRefused, Reason: "busy"}, "security_refused"},
		{&rfb.Error{Kind: rfb.KindClosed}, "connection_closed"},
		{errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		if got := handshakeResult(tt.err); got != tt.want {
			t.Errorf("handshakeResult(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
