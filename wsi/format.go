// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/driver"
)

// ColorSpace is a presentation color space.
type ColorSpace int

// Color spaces.
const (
	ColorSpaceSRGBNonlinear ColorSpace = iota
)

// SurfaceFormat is a format/color space pair supported by
// a surface.
type SurfaceFormat struct {
	Format     gputypes.TextureFormat
	ColorSpace ColorSpace
}

var surfaceFormats = []SurfaceFormat{
	{gputypes.TextureFormatBGRA8Unorm, ColorSpaceSRGBNonlinear},
	{gputypes.TextureFormatRGBA8Unorm, ColorSpaceSRGBNonlinear},
	{gputypes.TextureFormatBGRA8UnormSrgb, ColorSpaceSRGBNonlinear},
	{gputypes.TextureFormatRGBA8UnormSrgb, ColorSpaceSRGBNonlinear},
}

// CompositeAlpha is a mask of alpha composition modes.
type CompositeAlpha uint

// Alpha composition modes.
const (
	AlphaOpaque CompositeAlpha = 1 << iota
	AlphaPreMultiplied
	AlphaPostMultiplied
	AlphaInherit
)

// NativeFormat maps a surface format and an alpha
// composition mode to a native buffer format.
// Opaque composition selects a format without alpha.
// It fails with driver.ErrSurfaceLost for formats no
// surface supports.
func NativeFormat(f gputypes.TextureFormat, alpha CompositeAlpha) (bufq.Format, error) {
	opaque := alpha == AlphaOpaque
	switch f {
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		if opaque {
			return bufq.XRGB8888, nil
		}
		return bufq.ARGB8888, nil
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		if opaque {
			return bufq.XBGR8888, nil
		}
		return bufq.ABGR8888, nil
	}
	return 0, fmt.Errorf("%w: unsupported format %v", driver.ErrSurfaceLost, f)
}

// PresentMode is a presentation mode.
type PresentMode int

// Presentation modes.
const (
	PresentImmediate PresentMode = iota
	PresentMailbox
	PresentFIFO
	PresentFIFORelaxed
	PresentSharedDemandRefresh
	PresentSharedContinuousRefresh
)

func (m PresentMode) String() string {
	switch m {
	case PresentImmediate:
		return "immediate"
	case PresentMailbox:
		return "mailbox"
	case PresentFIFO:
		return "fifo"
	case PresentFIFORelaxed:
		return "fifo-relaxed"
	case PresentSharedDemandRefresh:
		return "shared-demand-refresh"
	case PresentSharedContinuousRefresh:
		return "shared-continuous-refresh"
	}
	return fmt.Sprintf("PresentMode(%d)", int(m))
}

var windowPresentModes = []PresentMode{PresentImmediate, PresentMailbox, PresentFIFO, PresentFIFORelaxed}
var displayPresentModes = []PresentMode{PresentFIFO}

// compositorMode maps m to the compositor's mode.
func compositorMode(m PresentMode) (compositor.PresentMode, bool) {
	switch m {
	case PresentImmediate:
		return compositor.Immediate, true
	case PresentMailbox:
		return compositor.Mailbox, true
	case PresentFIFO:
		return compositor.FIFO, true
	case PresentFIFORelaxed:
		return compositor.FIFORelaxed, true
	}
	return 0, false
}
