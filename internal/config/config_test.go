package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/coder/rfbkit/rfb"
	"github.com/coder/rfbkit/server"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if filepath.Base(path) != "server.yaml" {
		t.Errorf("GetConfigPath() = %q, should end with server.yaml", path)
	}
	if !strings.Contains(path, "rfbkit") {
		t.Errorf("GetConfigPath() = %q, should contain rfbkit", path)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
version: 1
listen: "127.0.0.1:5901"
width: 800
height: 600
desktop_name: "Lab VM"
pixel_format: rgb565
security_types: [none, vnc]
handshake_timeout: 2s
idle_timeout: 1m
max_connections: 4
admin_addr: "127.0.0.1:9100"
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen != "127.0.0.1:5901" || cfg.Width != 800 || cfg.Height != 600 {
		t.Errorf("listen/size = %s %dx%d", cfg.Listen, cfg.Width, cfg.Height)
	}
	if cfg.HandshakeTimeout != 2*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 2s", cfg.HandshakeTimeout)
	}
	if cfg.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", cfg.IdleTimeout)
	}

	sc, err := cfg.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if !sc.ServerInit.PixelFormat.Equal(rfb.RGB565PixelFormat()) {
		t.Errorf("PixelFormat = %v, want RGB565", sc.ServerInit.PixelFormat)
	}
	wantSec := []rfb.SecurityType{rfb.SecurityNone, rfb.SecurityVNCAuth}
	if !reflect.DeepEqual(sc.Security, wantSec) {
		t.Errorf("Security = %v, want %v", sc.Security, wantSec)
	}
	if sc.ServerInit.Name != "Lab VM" || sc.MaxConnections != 4 || sc.AdminAddr != "127.0.0.1:9100" {
		t.Errorf("ServerConfig() = %+v", sc)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "version: 1\ndesktop_name: Partial\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DesktopName != "Partial" {
		t.Errorf("DesktopName = %q, want Partial", cfg.DesktopName)
	}
	if cfg.Listen != server.DefaultAddr || cfg.IdleTimeout != server.DefaultIdleTimeout {
		t.Errorf("defaults lost: listen %q idle %v", cfg.Listen, cfg.IdleTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "version: [", "failed to parse"},
		{"wrong version", "version: 2\n", "unsupported config version"},
		{"unknown pixel format", "version: 1\npixel_format: cga\n", "unknown pixel format"},
		{"unknown security", "version: 1\nsecurity_types: [tls]\n", "unknown security type"},
		{"zero width", "version: 1\nwidth: 0\n", "must be non-zero"},
		{"negative max", "version: 1\nmax_connections: -1\n", "must not be negative"},
		{"bad duration", "version: 1\nidle_timeout: soon\n", "failed to parse"},
		{"bad log level", "version: 1\nlog_level: loud\n", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.yaml")
	want := Default()
	want.DesktopName = "Saved VM"
	want.IdleTimeout = 45 * time.Second

	if err := want.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load(Save()) = %+v, want %+v", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestServerConfigKeepsVNCOnly(t *testing.T) {
	cfg := Default()
	cfg.SecurityTypes = []string{"vnc"}
	sc, err := cfg.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if len(sc.Security) != 1 || sc.Security[0] != rfb.SecurityVNCAuth {
		t.Errorf("Security = %v, want [VNC]", sc.Security)
	}
}
