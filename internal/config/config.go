package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/coder/rfbkit/internal/logging"
	"github.com/coder/rfbkit/rfb"
	"github.com/coder/rfbkit/server"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "rfbkit"
	configFile = "server.yaml"

	// CurrentVersion is the only file format version Load accepts.
	CurrentVersion = 1
)

// Config is the on-disk mock server configuration.
type Config struct {
	Version          int           `yaml:"version"`
	Listen           string        `yaml:"listen"`
	Width            uint16        `yaml:"width"`
	Height           uint16        `yaml:"height"`
	DesktopName      string        `yaml:"desktop_name"`
	PixelFormat      string        `yaml:"pixel_format"`
	SecurityTypes    []string      `yaml:"security_types"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	MaxConnections   int           `yaml:"max_connections"`
	AdminAddr        string        `yaml:"admin_addr,omitempty"`
	Advertise        bool          `yaml:"advertise"`
	LogLevel         string        `yaml:"log_level,omitempty"`
}

// Default returns the configuration that reproduces the mock server's
// built-in behaviour.
func Default() *Config {
	return &Config{
		Version:          CurrentVersion,
		Listen:           server.DefaultAddr,
		Width:            1024,
		Height:           768,
		DesktopName:      server.DefaultDesktopName,
		PixelFormat:      "bgra32",
		SecurityTypes:    []string{"none"},
		HandshakeTimeout: rfb.DefaultHandshakeTimeout,
		IdleTimeout:      server.DefaultIdleTimeout,
	}
}

// GetConfigDir returns the OS-appropriate configuration directory.
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", errors.New("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(profile, "AppData", "Local", appName), nil

	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	}
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the configuration at path, or at GetConfigPath when path is
// empty. A missing file yields Default. Fields absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("No config file, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# rfbkit mock server configuration\n# Location: " + path + "\n\n")
	data = append(header, data...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// Validate checks every field that ServerConfig would otherwise reject at
// connection time.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("framebuffer size %dx%d must be non-zero", c.Width, c.Height)
	}
	if len(c.DesktopName) > rfb.MaxStringLength {
		return fmt.Errorf("desktop_name exceeds %d bytes", rfb.MaxStringLength)
	}
	if _, err := rfb.PixelFormatByName(c.PixelFormat); err != nil {
		return err
	}
	if _, err := parseSecurityTypes(c.SecurityTypes); err != nil {
		return err
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections %d must not be negative", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout %s must not be negative", c.IdleTimeout)
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// ServerConfig converts the file into a server configuration. Metrics are
// left for the caller to attach.
func (c *Config) ServerConfig() (server.Config, error) {
	if err := c.Validate(); err != nil {
		return server.Config{}, err
	}
	pf, _ := rfb.PixelFormatByName(c.PixelFormat)
	security, _ := parseSecurityTypes(c.SecurityTypes)

	return server.Config{
		Addr: c.Listen,
		ServerInit: rfb.ServerInit{
			Width:       c.Width,
			Height:      c.Height,
			PixelFormat: pf,
			Name:        c.DesktopName,
		},
		Security:         security,
		HandshakeTimeout: c.HandshakeTimeout,
		IdleTimeout:      c.IdleTimeout,
		MaxConnections:   c.MaxConnections,
		AdminAddr:        c.AdminAddr,
		Advertise:        c.Advertise,
	}, nil
}

// parseSecurityTypes maps names to types. "vnc" is accepted but the mock
// server has no authenticator for it, so a list of only "vnc" refuses
// every client.
func parseSecurityTypes(names []string) ([]rfb.SecurityType, error) {
	types := make([]rfb.SecurityType, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "none":
			types = append(types, rfb.SecurityNone)
		case "vnc", "vncauth":
			types = append(types, rfb.SecurityVNCAuth)
		default:
			return nil, fmt.Errorf("unknown security type %q (want none or vnc)", name)
		}
	}
	return types, nil
}
