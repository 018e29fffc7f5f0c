package rfb

import (
	"fmt"
	"math/bits"
)

// DefaultPixelFormat returns the standard 32bpp BGRA pixel format
func DefaultPixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel:  32,
		Depth:         24,
		BigEndianFlag: 0, // little-endian
		TrueColorFlag: 1,
		RedMax:        255,
		GreenMax:      255,
		BlueMax:       255,
		RedShift:      16,
		GreenShift:    8,
		BlueShift:     0,
	}
}

// RGB565PixelFormat returns a 16bpp RGB565 pixel format
func RGB565PixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel:  16,
		Depth:         16,
		BigEndianFlag: 0,
		TrueColorFlag: 1,
		RedMax:        31, // 5 bits
		GreenMax:      63, // 6 bits
		BlueMax:       31, // 5 bits
		RedShift:      11,
		GreenShift:    5,
		BlueShift:     0,
	}
}

// PixelFormatByName resolves a preset name as used in config files.
func PixelFormatByName(name string) (PixelFormat, error) {
	switch name {
	case "", "bgra32", "default":
		return DefaultPixelFormat(), nil
	case "rgb565":
		return RGB565PixelFormat(), nil
	default:
		return PixelFormat{}, fmt.Errorf("unknown pixel format preset %q", name)
	}
}

// BytesPerPixel returns the number of bytes one pixel occupies on the wire.
func (pf PixelFormat) BytesPerPixel() int {
	return (int(pf.BitsPerPixel) + 7) / 8
}

// IsBigEndian reports the framebuffer byte order, not the protocol's.
func (pf PixelFormat) IsBigEndian() bool {
	return pf.BigEndianFlag != 0
}

// IsTrueColor reports whether pixels carry RGB directly instead of a color map index.
func (pf PixelFormat) IsTrueColor() bool {
	return pf.TrueColorFlag != 0
}

// Equal compares every field except padding.
func (pf PixelFormat) Equal(other PixelFormat) bool {
	pf.Padding = [3]uint8{}
	other.Padding = [3]uint8{}
	return pf == other
}

// Validate checks that bits-per-pixel is one the protocol allows and that
// each true-colour channel fits inside the pixel once shifted. Decoding never
// calls this; it is for callers that want to reject odd formats.
func (pf PixelFormat) Validate() error {
	switch pf.BitsPerPixel {
	case 8, 16, 32:
	default:
		return fmt.Errorf("bits-per-pixel must be 8, 16 or 32, got %d", pf.BitsPerPixel)
	}
	if pf.Depth > pf.BitsPerPixel {
		return fmt.Errorf("depth %d exceeds bits-per-pixel %d", pf.Depth, pf.BitsPerPixel)
	}
	if !pf.IsTrueColor() {
		return nil
	}

	channels := []struct {
		name  string
		max   uint16
		shift uint8
	}{
		{"red", pf.RedMax, pf.RedShift},
		{"green", pf.GreenMax, pf.GreenShift},
		{"blue", pf.BlueMax, pf.BlueShift},
	}
	for _, ch := range channels {
		width := bits.Len16(ch.max)
		if int(ch.shift)+width > int(pf.BitsPerPixel) {
			return fmt.Errorf("%s channel (max %d, shift %d) overflows %d-bit pixel",
				ch.name, ch.max, ch.shift, pf.BitsPerPixel)
		}
	}
	return nil
}

// String returns a compact description for logs
func (pf PixelFormat) String() string {
	endian := "little"
	if pf.IsBigEndian() {
		endian = "big"
	}
	return fmt.Sprintf("%dbpp depth=%d %s-endian true-color=%d max=(%d,%d,%d) shift=(%d,%d,%d)",
		pf.BitsPerPixel, pf.Depth, endian, pf.TrueColorFlag,
		pf.RedMax, pf.GreenMax, pf.BlueMax,
		pf.RedShift, pf.GreenShift, pf.BlueShift)
}
