// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package bufq

import "fmt"

// Format is a pixel format tag, encoded as a
// little-endian four character code.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(a) | Format(b)<<8 | Format(c)<<16 | Format(d)<<24
}

// Pixel formats.
// The component order is that of a 32-bit word, so
// ARGB8888 stores B, G, R, A in memory.
var (
	ARGB8888 = fourcc('A', 'R', '2', '4')
	XRGB8888 = fourcc('X', 'R', '2', '4')
	ABGR8888 = fourcc('A', 'B', '2', '4')
	XBGR8888 = fourcc('X', 'B', '2', '4')
)

// Bpp returns the number of bytes per pixel.
// It returns 0 for unknown formats.
func (f Format) Bpp() int {
	switch f {
	case ARGB8888, XRGB8888, ABGR8888, XBGR8888:
		return 4
	}
	return 0
}

// HasAlpha reports whether f carries an alpha channel.
func (f Format) HasAlpha() bool { return f == ARGB8888 || f == ABGR8888 }

func (f Format) String() string {
	switch f {
	case ARGB8888:
		return "ARGB8888"
	case XRGB8888:
		return "XRGB8888"
	case ABGR8888:
		return "ABGR8888"
	case XBGR8888:
		return "XBGR8888"
	}
	return fmt.Sprintf("Format(%#08x)", uint32(f))
}

// Usage is a mask of buffer usage flags.
type Usage uint32

// Usage flags.
const (
	UsageScanout Usage = 1 << iota
	UsageNonCached
	UsageWrite

	UsageDefault Usage = 0
)
