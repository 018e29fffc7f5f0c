// Rfbserver is a mock RFB server for exercising VNC clients and WebSocket
// proxies.
//
// It completes the RFB 3.8 handshake with every client, announces a fixed
// framebuffer, answers each FramebufferUpdateRequest with an empty update and
// logs everything it receives.
//
// Usage:
//
//	rfbserver [flags]
//	rfbserver init-config [path]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coder/rfbkit/internal/config"
	"github.com/coder/rfbkit/internal/logging"
	"github.com/coder/rfbkit/internal/metrics"
	"github.com/coder/rfbkit/server"
	"github.com/coder/rfbkit/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rfbserver",
	Short: "Mock RFB (VNC) server",
	Long: `A mock RFB server that completes the RFB 3.8 handshake with any client.

It announces a fixed framebuffer, replies to every FramebufferUpdateRequest
with an empty FramebufferUpdate and logs each client message. Use it to test
VNC clients and WebSocket proxies without a real desktop.

Settings come from a YAML file (see 'rfbserver init-config'); flags override
the file.`,
	Example: `  # Serve the default 1024x768 desktop on :5900
  rfbserver

  # Debug logging with the admin endpoint on localhost
  rfbserver --log-level debug --admin-addr 127.0.0.1:9100

  # Refuse every client after the first two
  rfbserver --max-connections 2

  # Advertise over mDNS with a custom name
  rfbserver --name "Lab VM" --advertise`,
	Version:      version.String(),
	SilenceUsage: true,
	RunE:         runServer,
}

var (
	configPath     string
	listen         string
	width          uint16
	height         uint16
	desktopName    string
	pixelFormat    string
	adminAddr      string
	maxConnections int
	idleTimeout    time.Duration
	advertise      bool
	logLevel       string
	noMetrics      bool
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to config file (default: OS config dir)")
	f.StringVar(&listen, "listen", server.DefaultAddr, "RFB listen address")
	f.Uint16Var(&width, "width", 1024, "Framebuffer width")
	f.Uint16Var(&height, "height", 768, "Framebuffer height")
	f.StringVar(&desktopName, "name", server.DefaultDesktopName, "Desktop name announced in ServerInit")
	f.StringVar(&pixelFormat, "pixel-format", "bgra32", "Pixel format preset (bgra32, rgb565)")
	f.StringVar(&adminAddr, "admin-addr", "", "Serve /metrics, /healthz, /sessions and /websockify on this address")
	f.IntVar(&maxConnections, "max-connections", 0, "Refuse clients beyond this many (0 = unlimited)")
	f.DurationVar(&idleTimeout, "idle-timeout", server.DefaultIdleTimeout, "Close sessions idle for this long (0 = never)")
	f.BoolVar(&advertise, "advertise", false, "Advertise the server over mDNS as _rfb._tcp")
	f.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.BoolVar(&noMetrics, "no-metrics", false, "Disable Prometheus metrics")

	rootCmd.AddCommand(initConfigCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}
	defer logging.Sync()

	sc, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	if !noMetrics {
		sc.Metrics = metrics.New()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(sc).Run(ctx)
}

// applyFlags copies explicitly set flags over the file values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = listen
	}
	if f.Changed("width") {
		cfg.Width = width
	}
	if f.Changed("height") {
		cfg.Height = height
	}
	if f.Changed("name") {
		cfg.DesktopName = desktopName
	}
	if f.Changed("pixel-format") {
		cfg.PixelFormat = pixelFormat
	}
	if f.Changed("admin-addr") {
		cfg.AdminAddr = adminAddr
	}
	if f.Changed("max-connections") {
		cfg.MaxConnections = maxConnections
	}
	if f.Changed("idle-timeout") {
		cfg.IdleTimeout = idleTimeout
	}
	if f.Changed("advertise") {
		cfg.Advertise = advertise
	}
	if f.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			p, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}
