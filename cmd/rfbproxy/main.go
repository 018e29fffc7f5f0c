// Rfbproxy relays WebSocket clients such as noVNC to a TCP RFB server.
//
// Usage:
//
//	rfbproxy [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coder/rfbkit"
	"github.com/coder/rfbkit/internal/logging"
	"github.com/coder/rfbkit/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	listen      string
	target      string
	webRoot     string
	dialTimeout time.Duration
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "rfbproxy",
	Short: "WebSocket to TCP proxy for RFB",
	Long: `Accepts WebSocket connections on /websockify and relays the binary
stream to a TCP RFB server. Optionally serves static files (for example a
noVNC checkout) from a web root.`,
	Example: `  # Relay :6080 to a local VNC server
  rfbproxy --listen :6080 --target localhost:5900

  # Serve noVNC alongside the relay
  rfbproxy --listen :6080 --target localhost:5900 --web-root ./noVNC`,
	Version:      version.String(),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(logLevel); err != nil {
			return err
		}
		defer logging.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		proxy := rfbkit.New(rfbkit.Config{
			Listener:    listen,
			Target:      target,
			WebRoot:     webRoot,
			DialTimeout: dialTimeout,
		})
		return proxy.Serve(ctx)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&listen, "listen", "0.0.0.0:6080", "Host:port to listen on")
	f.StringVar(&target, "target", "localhost:5900", "Host:port of the RFB server")
	f.StringVar(&webRoot, "web-root", "", "Path to static web files (empty = none)")
	f.DurationVar(&dialTimeout, "dial-timeout", rfbkit.DefaultDialTimeout, "Timeout for connecting to the target")
	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
