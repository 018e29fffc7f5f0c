// Package logging provides structured logging for the rfbkit commands.
//
// It wraps a package-level zap logger that is silent unless a level is given
// explicitly or through RFBKIT_LOG_LEVEL, so the CLIs print nothing but their
// own output by default.
//
// # Log Levels
//
//   - Debug: per-message traces, handshake transitions, raw byte dumps
//   - Info: connections and completed handshakes
//   - Warn: failed handshakes and dropped connections
//   - Error: startup failures
//
// # Usage
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	logging.LogConnection("192.168.1.20:51234", "accepted")
//
// The rfb package does not import this package. Commands hand
// logging.GetLogger() to rfb.Config.Logger instead.
package logging
