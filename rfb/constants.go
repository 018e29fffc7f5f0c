package rfb

import "time"

const (
	// RFBVersion is the only protocol version this engine speaks.
	RFBVersion = "RFB 003.008\n"

	// ProtocolVersionLength is the fixed size of the version handshake.
	ProtocolVersionLength = 12
)

// MessageType is the 1-byte tag that opens every post-handshake message.
// Client-to-server and server-to-client tags share the same numeric space,
// so a tag is only meaningful together with its Direction.
type MessageType uint8

// Client-to-server message types
const (
	SetPixelFormat           MessageType = 0
	SetEncodings             MessageType = 2
	FramebufferUpdateRequest MessageType = 3
	KeyEvent                 MessageType = 4
	PointerEvent             MessageType = 5
	ClientCutText            MessageType = 6
)

// Server-to-client message types
const (
	FramebufferUpdate  MessageType = 0
	SetColorMapEntries MessageType = 1
	Bell               MessageType = 2
	ServerCutText      MessageType = 3
)

// Encoding identifies how a rectangle's pixel data is laid out.
type Encoding int32

// Encoding types
const (
	RawEncoding      Encoding = 0
	CopyRectEncoding Encoding = 1
	RREEncoding      Encoding = 2
	HextileEncoding  Encoding = 5
	TightEncoding    Encoding = 7
	ZRLEEncoding     Encoding = 16

	// Pseudo-encodings
	DesktopSizePseudoEncoding Encoding = -223
	LastRectPseudoEncoding    Encoding = -224
	CursorPseudoEncoding      Encoding = -239
)

// Message lengths, including the type byte
const (
	SetPixelFormatLength           = 20
	FramebufferUpdateRequestLength = 10
	KeyEventLength                 = 8
	PointerEventLength             = 6
	ClientInitLength               = 1
	ServerInitHeaderLength         = 24
	PixelFormatLength              = 16
	RectangleHeaderLength          = 12
)

const (
	// DefaultHandshakeTimeout bounds every read during the handshake.
	DefaultHandshakeTimeout = 5 * time.Second

	// MaxStringLength caps desktop names and reason strings.
	MaxStringLength = 1 << 20

	// MaxCutTextLength caps clipboard payloads.
	MaxCutTextLength = 10 << 20
)
