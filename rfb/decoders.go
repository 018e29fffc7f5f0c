package rfb

import (
	"fmt"
	"io"
)

// MaxRectangleDataLength caps the payload of a single rectangle.
const MaxRectangleDataLength = 256 << 20

// RectangleDecoder consumes the encoded payload of one rectangle. The engine
// does not interpret pixels; a decoder only needs to know how many bytes
// belong to the rectangle and return them.
type RectangleDecoder interface {
	ReadRectangle(r io.Reader, rect Rectangle, pf PixelFormat) ([]byte, error)
}

// RectangleDecoderFunc adapts a function to RectangleDecoder.
type RectangleDecoderFunc func(r io.Reader, rect Rectangle, pf PixelFormat) ([]byte, error)

// ReadRectangle calls f.
func (f RectangleDecoderFunc) ReadRectangle(r io.Reader, rect Rectangle, pf PixelFormat) ([]byte, error) {
	return f(r, rect, pf)
}

// Decoders maps encodings to the decoder that frames them.
type Decoders map[Encoding]RectangleDecoder

// DefaultDecoders returns framing for the encodings whose size is fixed by
// the rectangle header: Raw, CopyRect and the DesktopSize pseudo-encoding.
func DefaultDecoders() Decoders {
	return Decoders{
		RawEncoding:               RectangleDecoderFunc(readRawRectangle),
		CopyRectEncoding:          fixedSizeDecoder(4),
		DesktopSizePseudoEncoding: fixedSizeDecoder(0),
	}
}

// With returns a copy of d with enc mapped to dec.
func (d Decoders) With(enc Encoding, dec RectangleDecoder) Decoders {
	out := make(Decoders, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[enc] = dec
	return out
}

func readRawRectangle(r io.Reader, rect Rectangle, pf PixelFormat) ([]byte, error) {
	size := int64(rect.Width) * int64(rect.Height) * int64(pf.BytesPerPixel())
	if size > MaxRectangleDataLength {
		return nil, &Error{
			Kind: KindFrameTooLarge,
			Op:   "read Raw rectangle",
			Err:  fmt.Errorf("%dx%d at %d bytes per pixel", rect.Width, rect.Height, pf.BytesPerPixel()),
		}
	}
	return readFull(r, int(size), "read Raw rectangle")
}

func fixedSizeDecoder(n int) RectangleDecoder {
	return RectangleDecoderFunc(func(r io.Reader, _ Rectangle, _ PixelFormat) ([]byte, error) {
		return readFull(r, n, "read rectangle payload")
	})
}
