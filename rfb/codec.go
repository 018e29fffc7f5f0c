package rfb

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// readFull reads exactly n bytes. A short read of any kind is a
// TruncatedFrame; deadline expiry is a Timeout.
func readFull(r io.Reader, n int, op string) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, classifyIOError(op, err)
	}
	return buf, nil
}

func readUint8(r io.Reader, op string) (uint8, error) {
	b, err := readFull(r, 1, op)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func readUint16(r io.Reader, op string) (uint16, error) {
	b, err := readFull(r, 2, op)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func readUint32(r io.Reader, op string) (uint32, error) {
	b, err := readFull(r, 4, op)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// readLengthPrefixed reads a 32-bit big-endian length followed by that many
// bytes. Lengths above limit fail without reading the payload.
func readLengthPrefixed(r io.Reader, limit int, op string) ([]byte, error) {
	n, err := readUint32(r, op+" length")
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(limit) {
		return nil, &Error{Kind: KindFrameTooLarge, Op: op, Err: fmt.Errorf("length %d exceeds limit %d", n, limit)}
	}
	return readFull(r, int(n), op)
}

// ReadString decodes a length-prefixed UTF-8 string.
func ReadString(r io.Reader, op string) (string, error) {
	b, err := readLengthPrefixed(r, MaxStringLength, op)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", &Error{Kind: KindInvalidEncoding, Op: op, Err: fmt.Errorf("%d bytes are not valid UTF-8", len(b))}
	}
	return string(b), nil
}

// readReason consumes a failure reason. The reason only travels alongside a
// failure, so invalid UTF-8 is replaced rather than reported; the framing
// matters more than the text.
func readReason(r io.Reader, op string) (string, error) {
	b, err := readLengthPrefixed(r, MaxStringLength, op)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// AppendString appends the 32-bit length prefix and the bytes of s.
func AppendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// ReadProtocolVersion reads and parses the 12-byte version string. The raw
// bytes are returned as well so the client can echo them verbatim.
func ReadProtocolVersion(r io.Reader) (ProtocolVersion, []byte, error) {
	raw, err := readFull(r, ProtocolVersionLength, "read ProtocolVersion")
	if err != nil {
		return ProtocolVersion{}, nil, err
	}
	v, err := ParseProtocolVersion(raw)
	if err != nil {
		return ProtocolVersion{}, raw, err
	}
	return v, raw, nil
}

// AppendSecurityOffer appends a non-empty offer: count followed by one byte
// per type.
func AppendSecurityOffer(b []byte, types []SecurityType) []byte {
	b = append(b, uint8(len(types)))
	for _, t := range types {
		b = append(b, uint8(t))
	}
	return b
}

// AppendSecurityRefusal appends the zero-count offer and its reason.
func AppendSecurityRefusal(b []byte, reason string) []byte {
	b = append(b, 0)
	return AppendString(b, reason)
}

// ReadSecurityOffer reads the server's security types. A zero count is
// answered by reading the reason and returning a SecurityRefused error.
func ReadSecurityOffer(r io.Reader) ([]SecurityType, error) {
	count, err := readUint8(r, "read security type count")
	if err != nil {
		return nil, err
	}

	if count == 0 {
		reason, err := readReason(r, "read security refusal reason")
		if err != nil {
			return nil, err
		}
		return nil, &Error{Kind: KindSecurityRefused, Op: "read security offer", Reason: reason}
	}

	raw, err := readFull(r, int(count), "read security types")
	if err != nil {
		return nil, err
	}
	types := make([]SecurityType, count)
	for i, t := range raw {
		types[i] = SecurityType(t)
	}
	return types, nil
}

// AppendSecurityResult appends a 32-bit result; nonzero results carry a reason.
func AppendSecurityResult(b []byte, code uint32, reason string) []byte {
	b = binary.BigEndian.AppendUint32(b, code)
	if code != SecurityResultOK {
		b = AppendString(b, reason)
	}
	return b
}

// ReadSecurityResult reads the 4-byte result and, when it is nonzero, the one
// reason string that follows. Nothing beyond that is consumed.
func ReadSecurityResult(r io.Reader) (uint32, string, error) {
	code, err := readUint32(r, "read security result")
	if err != nil {
		return 0, "", err
	}
	if code == SecurityResultOK {
		return code, "", nil
	}
	reason, err := readReason(r, "read security failure reason")
	if err != nil {
		return code, "", err
	}
	return code, reason, nil
}

// AppendPixelFormat appends the fixed 16-byte pixel format.
func AppendPixelFormat(b []byte, pf PixelFormat) []byte {
	b = append(b, pf.BitsPerPixel, pf.Depth, pf.BigEndianFlag, pf.TrueColorFlag)
	b = binary.BigEndian.AppendUint16(b, pf.RedMax)
	b = binary.BigEndian.AppendUint16(b, pf.GreenMax)
	b = binary.BigEndian.AppendUint16(b, pf.BlueMax)
	b = append(b, pf.RedShift, pf.GreenShift, pf.BlueShift)
	return append(b, pf.Padding[:]...)
}

// DecodePixelFormat parses exactly 16 bytes.
func DecodePixelFormat(data []byte) (PixelFormat, error) {
	if len(data) != PixelFormatLength {
		return PixelFormat{}, &Error{
			Kind: KindTruncatedFrame,
			Op:   "decode PixelFormat",
			Err:  fmt.Errorf("want %d bytes, got %d", PixelFormatLength, len(data)),
		}
	}
	return PixelFormat{
		BitsPerPixel:  data[0],
		Depth:         data[1],
		BigEndianFlag: data[2],
		TrueColorFlag: data[3],
		RedMax:        binary.BigEndian.Uint16(data[4:6]),
		GreenMax:      binary.BigEndian.Uint16(data[6:8]),
		BlueMax:       binary.BigEndian.Uint16(data[8:10]),
		RedShift:      data[10],
		GreenShift:    data[11],
		BlueShift:     data[12],
		Padding:       [3]uint8{data[13], data[14], data[15]},
	}, nil
}

// AppendServerInit appends the 24-byte header and the desktop name.
func AppendServerInit(b []byte, init ServerInit) []byte {
	b = binary.BigEndian.AppendUint16(b, init.Width)
	b = binary.BigEndian.AppendUint16(b, init.Height)
	b = AppendPixelFormat(b, init.PixelFormat)
	return AppendString(b, init.Name)
}

// ReadServerInit reads the server initialization message
func ReadServerInit(r io.Reader) (ServerInit, error) {
	var init ServerInit

	header, err := readFull(r, 4+PixelFormatLength, "read ServerInit")
	if err != nil {
		return init, err
	}
	init.Width = binary.BigEndian.Uint16(header[0:2])
	init.Height = binary.BigEndian.Uint16(header[2:4])
	if init.PixelFormat, err = DecodePixelFormat(header[4:]); err != nil {
		return init, err
	}

	if init.Name, err = ReadString(r, "read ServerInit name"); err != nil {
		return init, err
	}
	return init, nil
}
