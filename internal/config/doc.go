// Package config loads the mock server's YAML configuration.
//
// The file lives at an OS-appropriate location unless a path is given:
//   - Linux: $XDG_CONFIG_HOME/rfbkit/server.yaml or $HOME/.config/rfbkit/server.yaml
//   - macOS: $HOME/.config/rfbkit/server.yaml
//   - Windows: %LOCALAPPDATA%\rfbkit\server.yaml
//
// A missing file is not an error: Load returns the defaults, which match the
// mock server's built-in behaviour.
//
// # Example
//
//	version: 1
//	listen: ":5900"
//	width: 1024
//	height: 768
//	desktop_name: "Horcrux Test VM"
//	pixel_format: bgra32
//	security_types: [none]
//	handshake_timeout: 5s
//	idle_timeout: 30s
//	max_connections: 0
//	admin_addr: "127.0.0.1:9100"
//	advertise: false
//	log_level: info
package config
