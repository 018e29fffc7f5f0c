package rfb

import (
	"fmt"
	"strconv"
)

// ProtocolVersion is the parsed form of the 12-byte "RFB xxx.yyy\n" string.
type ProtocolVersion struct {
	Major int
	Minor int
}

// Version38 is the version sent by the server role.
var Version38 = ProtocolVersion{Major: 3, Minor: 8}

// ParseProtocolVersion parses exactly 12 bytes of the form "RFB ddd.ddd\n".
func ParseProtocolVersion(b []byte) (ProtocolVersion, error) {
	if len(b) != ProtocolVersionLength {
		return ProtocolVersion{}, &Error{
			Kind: KindInvalidVersionFormat,
			Op:   "parse version",
			Err:  fmt.Errorf("want %d bytes, got %d", ProtocolVersionLength, len(b)),
		}
	}
	if string(b[:4]) != "RFB " || b[7] != '.' || b[11] != '\n' {
		return ProtocolVersion{}, &Error{
			Kind: KindInvalidVersionFormat,
			Op:   "parse version",
			Err:  fmt.Errorf("malformed version %q", b),
		}
	}

	major, ok := parseDigits(b[4:7])
	if !ok {
		return ProtocolVersion{}, &Error{Kind: KindInvalidVersionFormat, Op: "parse version", Err: fmt.Errorf("bad major in %q", b)}
	}
	minor, ok := parseDigits(b[8:11])
	if !ok {
		return ProtocolVersion{}, &Error{Kind: KindInvalidVersionFormat, Op: "parse version", Err: fmt.Errorf("bad minor in %q", b)}
	}

	return ProtocolVersion{Major: major, Minor: minor}, nil
}

func parseDigits(b []byte) (int, bool) {
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(string(b))
	return n, err == nil
}

// Bytes returns the 12-byte wire form. Fields are clamped to three digits.
func (v ProtocolVersion) Bytes() []byte {
	return []byte(v.String())
}

// String returns the wire form, including the trailing newline.
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("RFB %03d.%03d\n", clampVersionField(v.Major), clampVersionField(v.Minor))
}

func clampVersionField(n int) int {
	if n < 0 {
		return 0
	}
	if n > 999 {
		return 999
	}
	return n
}

// PixelFormat represents the RFB pixel format structure
type PixelFormat struct {
	BitsPerPixel  uint8
	Depth         uint8
	BigEndianFlag uint8
	TrueColorFlag uint8
	RedMax        uint16
	GreenMax      uint16
	BlueMax       uint16
	RedShift      uint8
	GreenShift    uint8
	BlueShift     uint8
	Padding       [3]uint8
}

// ServerInit represents the server initialization message
type ServerInit struct {
	Width       uint16
	Height      uint16
	PixelFormat PixelFormat
	Name        string
}

// Role selects which side of the handshake a state machine drives.
type Role int

const (
	// RoleServer sends the version and security offer.
	RoleServer Role = iota
	// RoleClient echoes the version and picks a security type.
	RoleClient
)

// String returns the role name
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// State is a handshake step. States only move forward, or to StateFailed.
type State int

const (
	StateAwaitingVersion State = iota
	StateVersionExchanged
	StateAwaitingSecurityOffer
	StateSecuritySelected
	StateAwaitingSecurityResult
	StateAwaitingClientInit
	StateAwaitingServerInit
	StateEstablished
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateAwaitingVersion:
		return "AwaitingVersion"
	case StateVersionExchanged:
		return "VersionExchanged"
	case StateAwaitingSecurityOffer:
		return "AwaitingSecurityOffer"
	case StateSecuritySelected:
		return "SecuritySelected"
	case StateAwaitingSecurityResult:
		return "AwaitingSecurityResult"
	case StateAwaitingClientInit:
		return "AwaitingClientInit"
	case StateAwaitingServerInit:
		return "AwaitingServerInit"
	case StateEstablished:
		return "Established"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEstablished || s == StateFailed
}
