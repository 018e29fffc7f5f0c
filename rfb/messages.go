package rfb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Direction tells which peer sends a message.
type Direction int

const (
	// ClientToServer messages are read by the server role.
	ClientToServer Direction = iota
	// ServerToClient messages are read by the client role.
	ServerToClient
)

// String returns the direction name
func (d Direction) String() string {
	if d == ClientToServer {
		return "client-to-server"
	}
	return "server-to-client"
}

// Message is one post-handshake protocol message.
type Message interface {
	// Type returns the tag written on the wire.
	Type() MessageType
	// Direction returns which peer sends the message.
	Direction() Direction
	// Append appends the complete wire form, tag included.
	Append(b []byte) []byte
}

// Encode returns the wire form of m.
func Encode(m Message) []byte {
	return m.Append(nil)
}

// MessageName returns a readable name for a tag in a given direction.
func MessageName(d Direction, t MessageType) string {
	if d == ClientToServer {
		switch t {
		case SetPixelFormat:
			return "SetPixelFormat"
		case SetEncodings:
			return "SetEncodings"
		case FramebufferUpdateRequest:
			return "FramebufferUpdateRequest"
		case KeyEvent:
			return "KeyEvent"
		case PointerEvent:
			return "PointerEvent"
		case ClientCutText:
			return "ClientCutText"
		}
	} else {
		switch t {
		case FramebufferUpdate:
			return "FramebufferUpdate"
		case SetColorMapEntries:
			return "SetColorMapEntries"
		case Bell:
			return "Bell"
		case ServerCutText:
			return "ServerCutText"
		}
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// latin1 is the clipboard character set mandated by the protocol.
var latin1 = charmap.ISO8859_1

func decodeLatin1(b []byte) string {
	s, err := latin1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func encodeLatin1(s string) []byte {
	b, err := encoding.ReplaceUnsupported(latin1.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// SetPixelFormatMessage asks the server to send pixels in a new format.
type SetPixelFormatMessage struct {
	PixelFormat PixelFormat
}

func (*SetPixelFormatMessage) Type() MessageType { return SetPixelFormat }
func (*SetPixelFormatMessage) Direction() Direction { return ClientToServer }

func (m *SetPixelFormatMessage) Append(b []byte) []byte {
	b = append(b, uint8(SetPixelFormat), 0, 0, 0)
	return AppendPixelFormat(b, m.PixelFormat)
}

// SetEncodingsMessage lists the encodings the client accepts, in preference order.
type SetEncodingsMessage struct {
	Encodings []Encoding
}

func (*SetEncodingsMessage) Type() MessageType { return SetEncodings }
func (*SetEncodingsMessage) Direction() Direction { return ClientToServer }

func (m *SetEncodingsMessage) Append(b []byte) []byte {
	b = append(b, uint8(SetEncodings), 0)
	b = binary.BigEndian.AppendUint16(b, uint16(len(m.Encodings)))
	for _, e := range m.Encodings {
		b = binary.BigEndian.AppendUint32(b, uint32(e))
	}
	return b
}

// FramebufferUpdateRequestMessage requests the contents of a region.
type FramebufferUpdateRequestMessage struct {
	Incremental bool
	X, Y        uint16
	Width       uint16
	Height      uint16
}

func (*FramebufferUpdateRequestMessage) Type() MessageType { return FramebufferUpdateRequest }
func (*FramebufferUpdateRequestMessage) Direction() Direction { return ClientToServer }

func (m *FramebufferUpdateRequestMessage) Append(b []byte) []byte {
	b = append(b, uint8(FramebufferUpdateRequest), boolByte(m.Incremental))
	b = binary.BigEndian.AppendUint16(b, m.X)
	b = binary.BigEndian.AppendUint16(b, m.Y)
	b = binary.BigEndian.AppendUint16(b, m.Width)
	return binary.BigEndian.AppendUint16(b, m.Height)
}

// KeyEventMessage reports a key press or release by X11 keysym.
type KeyEventMessage struct {
	Down bool
	Key  uint32
}

func (*KeyEventMessage) Type() MessageType { return KeyEvent }
func (*KeyEventMessage) Direction() Direction { return ClientToServer }

func (m *KeyEventMessage) Append(b []byte) []byte {
	b = append(b, uint8(KeyEvent), boolByte(m.Down), 0, 0)
	return binary.BigEndian.AppendUint32(b, m.Key)
}

// PointerEventMessage reports pointer position and button state.
type PointerEventMessage struct {
	ButtonMask uint8
	X, Y       uint16
}

func (*PointerEventMessage) Type() MessageType { return PointerEvent }
func (*PointerEventMessage) Direction() Direction { return ClientToServer }

func (m *PointerEventMessage) Append(b []byte) []byte {
	b = append(b, uint8(PointerEvent), m.ButtonMask)
	b = binary.BigEndian.AppendUint16(b, m.X)
	return binary.BigEndian.AppendUint16(b, m.Y)
}

// ClientCutTextMessage carries clipboard contents from the client.
// Data holds the raw ISO 8859-1 bytes.
type ClientCutTextMessage struct {
	Data []byte
}

// NewClientCutText converts s to ISO 8859-1, replacing characters outside it.
func NewClientCutText(s string) *ClientCutTextMessage {
	return &ClientCutTextMessage{Data: encodeLatin1(s)}
}

func (*ClientCutTextMessage) Type() MessageType { return ClientCutText }
func (*ClientCutTextMessage) Direction() Direction { return ClientToServer }

func (m *ClientCutTextMessage) Append(b []byte) []byte {
	b = append(b, uint8(ClientCutText), 0, 0, 0)
	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Data)))
	return append(b, m.Data...)
}

// Text returns the clipboard contents as UTF-8.
func (m *ClientCutTextMessage) Text() string {
	return decodeLatin1(m.Data)
}

// Rectangle is one region of a FramebufferUpdate. Data is the encoded
// payload exactly as it appeared on the wire; interpreting it is left to
// the caller.
type Rectangle struct {
	X, Y     uint16
	Width    uint16
	Height   uint16
	Encoding Encoding
	Data     []byte
}

// FramebufferUpdateMessage carries zero or more rectangles. Zero rectangles
// is a complete message meaning "nothing changed".
type FramebufferUpdateMessage struct {
	Rectangles []Rectangle
}

func (*FramebufferUpdateMessage) Type() MessageType { return FramebufferUpdate }
func (*FramebufferUpdateMessage) Direction() Direction { return ServerToClient }

func (m *FramebufferUpdateMessage) Append(b []byte) []byte {
	b = append(b, uint8(FramebufferUpdate), 0)
	b = binary.BigEndian.AppendUint16(b, uint16(len(m.Rectangles)))
	for _, rect := range m.Rectangles {
		b = binary.BigEndian.AppendUint16(b, rect.X)
		b = binary.BigEndian.AppendUint16(b, rect.Y)
		b = binary.BigEndian.AppendUint16(b, rect.Width)
		b = binary.BigEndian.AppendUint16(b, rect.Height)
		b = binary.BigEndian.AppendUint32(b, uint32(rect.Encoding))
		b = append(b, rect.Data...)
	}
	return b
}

// Color is one color map entry, 16 bits per channel.
type Color struct {
	R, G, B uint16
}

// SetColorMapEntriesMessage updates the client's color map.
type SetColorMapEntriesMessage struct {
	FirstColor uint16
	Colors     []Color
}

func (*SetColorMapEntriesMessage) Type() MessageType { return SetColorMapEntries }
func (*SetColorMapEntriesMessage) Direction() Direction { return ServerToClient }

func (m *SetColorMapEntriesMessage) Append(b []byte) []byte {
	b = append(b, uint8(SetColorMapEntries), 0)
	b = binary.BigEndian.AppendUint16(b, m.FirstColor)
	b = binary.BigEndian.AppendUint16(b, uint16(len(m.Colors)))
	for _, c := range m.Colors {
		b = binary.BigEndian.AppendUint16(b, c.R)
		b = binary.BigEndian.AppendUint16(b, c.G)
		b = binary.BigEndian.AppendUint16(b, c.B)
	}
	return b
}

// BellMessage has no body.
type BellMessage struct{}

func (*BellMessage) Type() MessageType { return Bell }
func (*BellMessage) Direction() Direction { return ServerToClient }
func (*BellMessage) Append(b []byte) []byte { return append(b, uint8(Bell)) }

// ServerCutTextMessage carries clipboard contents from the server.
type ServerCutTextMessage struct {
	Data []byte
}

// NewServerCutText converts s to ISO 8859-1, replacing characters outside it.
func NewServerCutText(s string) *ServerCutTextMessage {
	return &ServerCutTextMessage{Data: encodeLatin1(s)}
}

func (*ServerCutTextMessage) Type() MessageType { return ServerCutText }
func (*ServerCutTextMessage) Direction() Direction { return ServerToClient }

func (m *ServerCutTextMessage) Append(b []byte) []byte {
	b = append(b, uint8(ServerCutText), 0, 0, 0)
	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Data)))
	return append(b, m.Data...)
}

// Text returns the clipboard contents as UTF-8.
func (m *ServerCutTextMessage) Text() string {
	return decodeLatin1(m.Data)
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// readMessageType reads the tag. A clean EOF here is the normal end of a
// session and is returned as io.EOF, unclassified.
func readMessageType(r io.Reader) (MessageType, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, classifyIOError("read message type", err)
	}
	return MessageType(tag[0]), nil
}

// ReadClientMessage decodes one client-to-server message. It returns io.EOF
// if the stream ends cleanly before a new message starts.
func ReadClientMessage(r io.Reader) (Message, error) {
	t, err := readMessageType(r)
	if err != nil {
		return nil, err
	}

	switch t {
	case SetPixelFormat:
		body, err := readFull(r, SetPixelFormatLength-1, "read SetPixelFormat")
		if err != nil {
			return nil, err
		}
		pf, err := DecodePixelFormat(body[3:])
		if err != nil {
			return nil, err
		}
		return &SetPixelFormatMessage{PixelFormat: pf}, nil

	case SetEncodings:
		header, err := readFull(r, 3, "read SetEncodings")
		if err != nil {
			return nil, err
		}
		count := int(binary.BigEndian.Uint16(header[1:3]))
		body, err := readFull(r, count*4, "read SetEncodings list")
		if err != nil {
			return nil, err
		}
		encs := make([]Encoding, count)
		for i := range encs {
			encs[i] = Encoding(int32(binary.BigEndian.Uint32(body[i*4:])))
		}
		return &SetEncodingsMessage{Encodings: encs}, nil

	case FramebufferUpdateRequest:
		body, err := readFull(r, FramebufferUpdateRequestLength-1, "read FramebufferUpdateRequest")
		if err != nil {
			return nil, err
		}
		return &FramebufferUpdateRequestMessage{
			Incremental: body[0] != 0,
			X:           binary.BigEndian.Uint16(body[1:3]),
			Y:           binary.BigEndian.Uint16(body[3:5]),
			Width:       binary.BigEndian.Uint16(body[5:7]),
			Height:      binary.BigEndian.Uint16(body[7:9]),
		}, nil

	case KeyEvent:
		body, err := readFull(r, KeyEventLength-1, "read KeyEvent")
		if err != nil {
			return nil, err
		}
		return &KeyEventMessage{
			Down: body[0] != 0,
			Key:  binary.BigEndian.Uint32(body[3:7]),
		}, nil

	case PointerEvent:
		body, err := readFull(r, PointerEventLength-1, "read PointerEvent")
		if err != nil {
			return nil, err
		}
		return &PointerEventMessage{
			ButtonMask: body[0],
			X:          binary.BigEndian.Uint16(body[1:3]),
			Y:          binary.BigEndian.Uint16(body[3:5]),
		}, nil

	case ClientCutText:
		if _, err := readFull(r, 3, "read ClientCutText padding"); err != nil {
			return nil, err
		}
		data, err := readLengthPrefixed(r, MaxCutTextLength, "read ClientCutText")
		if err != nil {
			return nil, err
		}
		return &ClientCutTextMessage{Data: data}, nil

	default:
		return nil, &Error{
			Kind: KindUnknownMessageType,
			Op:   "read client message",
			Err:  fmt.Errorf("tag %d has no known length", uint8(t)),
		}
	}
}

// ReadServerMessage decodes one server-to-client message. pf is the pixel
// format in force, needed to size Raw rectangles. A nil decoders map uses
// DefaultDecoders.
func ReadServerMessage(r io.Reader, pf PixelFormat, decoders Decoders) (Message, error) {
	t, err := readMessageType(r)
	if err != nil {
		return nil, err
	}
	if decoders == nil {
		decoders = DefaultDecoders()
	}

	switch t {
	case FramebufferUpdate:
		return readFramebufferUpdate(r, pf, decoders)

	case SetColorMapEntries:
		header, err := readFull(r, 5, "read SetColorMapEntries")
		if err != nil {
			return nil, err
		}
		first := binary.BigEndian.Uint16(header[1:3])
		count := int(binary.BigEndian.Uint16(header[3:5]))
		body, err := readFull(r, count*6, "read SetColorMapEntries colors")
		if err != nil {
			return nil, err
		}
		colors := make([]Color, count)
		for i := range colors {
			off := i * 6
			colors[i] = Color{
				R: binary.BigEndian.Uint16(body[off:]),
				G: binary.BigEndian.Uint16(body[off+2:]),
				B: binary.BigEndian.Uint16(body[off+4:]),
			}
		}
		return &SetColorMapEntriesMessage{FirstColor: first, Colors: colors}, nil

	case Bell:
		return &BellMessage{}, nil

	case ServerCutText:
		if _, err := readFull(r, 3, "read ServerCutText padding"); err != nil {
			return nil, err
		}
		data, err := readLengthPrefixed(r, MaxCutTextLength, "read ServerCutText")
		if err != nil {
			return nil, err
		}
		return &ServerCutTextMessage{Data: data}, nil

	default:
		return nil, &Error{
			Kind: KindUnknownMessageType,
			Op:   "read server message",
			Err:  fmt.Errorf("tag %d has no known length", uint8(t)),
		}
	}
}

func readFramebufferUpdate(r io.Reader, pf PixelFormat, decoders Decoders) (*FramebufferUpdateMessage, error) {
	header, err := readFull(r, 3, "read FramebufferUpdate")
	if err != nil {
		return nil, err
	}
	count := int(binary.BigEndian.Uint16(header[1:3]))

	msg := &FramebufferUpdateMessage{}
	for i := 0; i < count; i++ {
		rh, err := readFull(r, RectangleHeaderLength, "read rectangle header")
		if err != nil {
			return nil, err
		}
		rect := Rectangle{
			X:        binary.BigEndian.Uint16(rh[0:2]),
			Y:        binary.BigEndian.Uint16(rh[2:4]),
			Width:    binary.BigEndian.Uint16(rh[4:6]),
			Height:   binary.BigEndian.Uint16(rh[6:8]),
			Encoding: Encoding(int32(binary.BigEndian.Uint32(rh[8:12]))),
		}

		// LastRect ends the update early; servers send it with count 0xFFFF.
		if rect.Encoding == LastRectPseudoEncoding {
			break
		}

		dec, ok := decoders[rect.Encoding]
		if !ok {
			return nil, &Error{
				Kind: KindUnsupportedEncoding,
				Op:   "read rectangle",
				Err:  fmt.Errorf("no decoder for encoding %d", rect.Encoding),
			}
		}
		if rect.Data, err = dec.ReadRectangle(r, rect, pf); err != nil {
			return nil, classifyIOError("read rectangle data", err)
		}
		msg.Rectangles = append(msg.Rectangles, rect)
	}
	return msg, nil
}
