package rfbkit

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startEchoTarget runs a TCP server that echoes every connection.
func startEchoTarget(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestProxyRelaysToTarget(t *testing.T) {
	target := startEchoTarget(t)
	p := New(Config{Target: target})
	handler, err := p.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	ws, err := DialWS(context.Background(), wsURL(ts, "/websockify"))
	if err != nil {
		t.Fatalf("DialWS() error = %v", err)
	}
	defer ws.Close()

	want := "RFB 003.008\n"
	if _, err := ws.Write([]byte(want)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, len(want))
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(ws, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != want {
		t.Errorf("echo = %q, want %q", buf, want)
	}
}

func TestProxyTargetUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	target := ln.Addr().String()
	ln.Close()

	p := New(Config{Target: target, DialTimeout: time.Second})
	handler, err := p.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	ws, err := DialWS(context.Background(), wsURL(ts, "/websockify"))
	if err != nil {
		t.Fatalf("DialWS() error = %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := ws.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF after the proxy gives up", err)
	}
}

func TestProxyServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vnc.html"), []byte("<html>novnc</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Config{Target: "127.0.0.1:1", WebRoot: dir})
	handler, err := p.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vnc.html", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "<html>novnc</html>" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestProxyRefusesWorkingDirectoryWebRoot(t *testing.T) {
	p := New(Config{Target: "127.0.0.1:1", WebRoot: "."})
	if _, err := p.Handler(); err == nil {
		t.Error("Handler() with the working directory as web root succeeded")
	}
}

func TestNewDefaultsDialTimeout(t *testing.T) {
	if p := New(Config{}); p.dialTimeout != DefaultDialTimeout {
		t.Errorf("dialTimeout = %v, want %v", p.dialTimeout, DefaultDialTimeout)
	}
}

func TestRelayCopiesBothWays(t *testing.T) {
	clientSide, clientEnd := net.Pipe()
	targetEnd, targetSide := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- Relay(context.Background(), clientEnd, targetEnd) }()

	go clientSide.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(targetSide, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("target read %q, %v; want ping", buf, err)
	}

	go targetSide.Write([]byte("pong"))
	if _, err := io.ReadFull(clientSide, buf); err != nil || string(buf) != "pong" {
		t.Fatalf("client read %q, %v; want pong", buf, err)
	}

	clientSide.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Relay() error = %v, want nil after a clean close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Relay() did not return after the client closed")
	}

	// The target side sees the relay close its end.
	if _, err := targetSide.Read(buf); err != io.EOF {
		t.Errorf("target Read() error = %v, want io.EOF", err)
	}
}

func TestRelayStopsOnCancel(t *testing.T) {
	_, a := net.Pipe()
	b, _ := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Relay(ctx, a, b) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Relay() error = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Relay() did not return after cancel")
	}
}
