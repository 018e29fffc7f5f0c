// Rfbclient probes RFB servers and finds them on the local network.
//
// Usage:
//
//	rfbclient probe [address] [flags]
//	rfbclient discover [flags]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/coder/rfbkit/client"
	"github.com/coder/rfbkit/internal/logging"
	"github.com/coder/rfbkit/rfb"
	"github.com/coder/rfbkit/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rfbclient",
	Short: "RFB (VNC) protocol probe",
	Long: `Connects to an RFB server, runs the client handshake and requests one
framebuffer update. Exits non-zero if any step fails.

Addresses are TCP host:port pairs or ws:// and wss:// URLs of a WebSocket
relay such as rfbproxy.`,
	Version:      version.String(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var (
	logLevel   string
	jsonOutput bool

	timeout      time.Duration
	replyTimeout time.Duration
	shared       bool
	pixelFormat  string
	encodings    []int

	discoverTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe [address]",
	Short: "Handshake with a server and request one update",
	Example: `  # Probe the mock server
  rfbclient probe 127.0.0.1:5900

  # Probe through a WebSocket relay, switching to RGB565
  rfbclient probe ws://localhost:6080/websockify --pixel-format rgb565

  # Machine-readable output
  rfbclient probe 127.0.0.1:5900 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List RFB servers advertised over mDNS",
	Args:  cobra.NoArgs,
	RunE:  runDiscover,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")

	probeCmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Dial and handshake read timeout")
	probeCmd.Flags().DurationVar(&replyTimeout, "reply-timeout", client.DefaultReplyTimeout, "How long to wait for a reply to the update request")
	probeCmd.Flags().BoolVar(&shared, "shared", true, "Request a shared session")
	probeCmd.Flags().StringVar(&pixelFormat, "pixel-format", "", "Send SetPixelFormat with this preset first (bgra32, rgb565)")
	probeCmd.Flags().IntSliceVar(&encodings, "encodings", nil, "Send SetEncodings with these encoding ids first")

	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", client.DefaultBrowseTimeout, "How long to listen for announcements")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(discoverCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	addr := "127.0.0.1:5900"
	if len(args) == 1 {
		addr = args[0]
	}

	opts := client.Options{
		Timeout:      timeout,
		ReplyTimeout: replyTimeout,
		Shared:       shared,
	}
	if pixelFormat != "" {
		pf, err := rfb.PixelFormatByName(pixelFormat)
		if err != nil {
			return err
		}
		opts.PixelFormat = &pf
	}
	for _, e := range encodings {
		opts.Encodings = append(opts.Encodings, rfb.Encoding(e))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := client.Probe(ctx, addr, opts)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(out io.Writer, r *client.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Server:\t%s\n", r.Address)
	fmt.Fprintf(w, "Protocol:\tRFB %s\n", r.Version)
	fmt.Fprintf(w, "Security:\t%s\n", r.Security)
	fmt.Fprintf(w, "Resolution:\t%dx%d\n", r.Width, r.Height)
	fmt.Fprintf(w, "Pixel format:\t%s\n", r.PixelFormat)
	fmt.Fprintf(w, "Desktop:\t%q\n", r.Name)
	if r.Reply != "" {
		fmt.Fprintf(w, "Reply:\t%s (%d rectangles)\n", r.Reply, r.Rectangles)
	} else {
		fmt.Fprintf(w, "Reply:\tnone\n")
	}
	fmt.Fprintf(w, "Elapsed:\t%s\n", r.Elapsed.Round(time.Millisecond))
	w.Flush()
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
	defer cancel()

	services, err := client.Discover(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), services)
	}
	if len(services) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No RFB servers found")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tADDRESS\tHOST\tSIZE")
	for _, s := range services {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Instance, s.Address(), s.HostName, s.Text["size"])
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
