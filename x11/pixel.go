// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package x11

import (
	"fmt"

	"github.com/gviegas/present/bufq"
)

// toBGRX converts buf into tightly packed 32-bit pixels
// in the B, G, R, X byte order of a ZPixmap.
func toBGRX(dst []byte, buf *bufq.Buffer) error {
	w, h, stride := buf.Width(), buf.Height(), buf.Stride()
	rowBytes := w * 4
	if len(dst) < rowBytes*h {
		return fmt.Errorf("x11: destination too small")
	}
	src := buf.Bytes()
	switch buf.Format() {
	case bufq.ARGB8888, bufq.XRGB8888:
		for y := range h {
			copy(dst[y*rowBytes:(y+1)*rowBytes], src[y*stride:])
		}
	case bufq.ABGR8888, bufq.XBGR8888:
		for y := range h {
			s := src[y*stride : y*stride+rowBytes]
			d := dst[y*rowBytes : (y+1)*rowBytes]
			for i := 0; i < rowBytes; i += 4 {
				d[i+0] = s[i+2]
				d[i+1] = s[i+1]
				d[i+2] = s[i+0]
				d[i+3] = s[i+3]
			}
		}
	default:
		return fmt.Errorf("x11: unsupported format %v", buf.Format())
	}
	return nil
}

type band struct{ y, rows int }

// putImageHeader is the size of a PutImage request
// without its data.
const putImageHeader = 24

// bands splits an image into row bands that each fit in
// a single request of at most maxReq bytes.
func bands(height, rowBytes, maxReq int) ([]band, error) {
	per := (maxReq - putImageHeader) / rowBytes
	if per < 1 {
		return nil, fmt.Errorf("x11: row of %d bytes exceeds request limit", rowBytes)
	}
	var bs []band
	for y := 0; y < height; y += per {
		bs = append(bs, band{y, min(per, height-y)})
	}
	return bs, nil
}
