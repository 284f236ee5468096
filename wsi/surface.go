// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/handle"
)

// Platform identifies the kind of native target a surface
// is bound to.
type Platform int

// Platforms.
const (
	// None is not a valid surface platform.
	None Platform = iota
	Wayland
	XCB
	Headless
	// DisplayPlane is a plane of a directly driven
	// display.
	DisplayPlane
)

func (p Platform) String() string {
	switch p {
	case None:
		return "none"
	case Wayland:
		return "wayland"
	case XCB:
		return "xcb"
	case Headless:
		return "headless"
	case DisplayPlane:
		return "display-plane"
	}
	return fmt.Sprintf("Platform(%d)", int(p))
}

// window reports whether p is a compositor window
// platform.
func (p Platform) window() bool { return p == Wayland || p == XCB || p == Headless }

// Surface is a handle to a presentation surface.
type Surface handle.H

// Extent is a size in pixels.
type Extent struct {
	Width, Height int
}

// Transform is a mask of surface transforms.
type Transform uint

// Surface transforms.
const (
	TransformIdentity Transform = 1 << iota
	TransformRotate90
	TransformRotate180
	TransformRotate270
)

// WindowSurfaceInfo describes a window surface.
type WindowSurfaceInfo struct {
	Platform Platform
	// Session is the compositor connection. The surface
	// holds a reference to it.
	Session compositor.Session
	Window  compositor.Window
}

// DisplaySurfaceInfo describes a display plane surface.
type DisplaySurfaceInfo struct {
	Mode       DisplayMode
	Plane      int
	StackIndex int
	Transform  Transform
	Alpha      CompositeAlpha
	// GlobalAlpha is the plane-wide alpha, in [0, 1].
	GlobalAlpha float32
	Extent      Extent
}

type surface struct {
	platform Platform

	// Window surfaces.
	session compositor.Session
	win     compositor.Window

	// Display plane surfaces.
	mode  *displayMode
	plane *plane
	info  DisplaySurfaceInfo
}

// ErrSurfaceInUse means that a surface cannot be
// destroyed while swapchains exist for it, or that a
// display cannot be released while surfaces use it.
var ErrSurfaceInUse = errors.New("wsi: surface in use")

// CreateWindowSurface creates a surface for a compositor
// window.
// It fails with driver.ErrExtensionNotPresent if the
// platform is not a window platform.
func (c *Context) CreateWindowSurface(info *WindowSurfaceInfo) (Surface, error) {
	if !info.Platform.window() {
		return 0, fmt.Errorf("%w: %v surface", driver.ErrExtensionNotPresent, info.Platform)
	}
	if info.Session == nil || info.Window == nil {
		return 0, fmt.Errorf("%w: missing session or window", driver.ErrSurfaceLost)
	}
	info.Session.Ref()
	sf := &surface{
		platform: info.Platform,
		session:  info.Session,
		win:      info.Window,
	}
	h := Surface(c.surfaces.Add(sf))
	c.log.Debug("surface created", "platform", info.Platform)
	return h, nil
}

// CreateDisplayPlaneSurface creates a surface for a
// display plane.
func (c *Context) CreateDisplayPlaneSurface(info *DisplaySurfaceInfo) (Surface, error) {
	m, err := c.modes.Get(handle.H(info.Mode))
	if err != nil {
		return 0, invalid(err)
	}
	pd := m.disp.dev
	if info.Plane < 0 || info.Plane >= len(pd.planes) {
		return 0, fmt.Errorf("%w: plane %d", driver.ErrSurfaceLost, info.Plane)
	}
	p := pd.planes[info.Plane]
	if !p.supports(m.disp) {
		return 0, fmt.Errorf("%w: plane %d cannot show display %s", driver.ErrSurfaceLost, info.Plane, m.disp.out.Name())
	}
	if info.Extent == (Extent{}) {
		info.Extent = Extent{m.mode.Width, m.mode.Height}
	}
	sf := &surface{
		platform: DisplayPlane,
		mode:     m,
		plane:    p,
		info:     *info,
	}
	h := Surface(c.surfaces.Add(sf))
	c.log.Debug("surface created", "platform", DisplayPlane, "output", m.disp.out.Name(), "plane", info.Plane)
	return h, nil
}

// DestroySurface destroys a surface.
// Swapchains created for sf must be destroyed first.
func (c *Context) DestroySurface(sf Surface) error {
	var busy bool
	c.swapchains.Each(func(_ handle.H, sc *swapchain) { busy = busy || sc.surface == sf })
	if busy {
		return ErrSurfaceInUse
	}
	s, err := c.surfaces.Remove(handle.H(sf))
	if err != nil {
		return invalid(err)
	}
	if s.session != nil {
		s.session.Unref()
	}
	return nil
}

func (c *Context) surface(sf Surface) (*surface, error) {
	s, err := c.surfaces.Get(handle.H(sf))
	return s, invalid(err)
}

// Capabilities describes what swapchains a surface
// supports.
type Capabilities struct {
	MinImageCount       int
	MaxImageCount       int
	CurrentExtent       Extent
	MinExtent           Extent
	MaxExtent           Extent
	MaxImageArrayLayers int
	SupportedTransforms Transform
	CurrentTransform    Transform
	CompositeAlpha      CompositeAlpha
	Usage               gputypes.TextureUsage
}

// Image count limits.
const (
	MinImageCount = 2
	MaxImageCount = 8
)

const imageUsage = gputypes.TextureUsageRenderAttachment |
	gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding

// SurfaceSupport reports whether queue family qfam of dev
// can present to sf.
func (c *Context) SurfaceSupport(dev driver.Device, qfam int, sf Surface) (bool, error) {
	s, err := c.surface(sf)
	if err != nil {
		return false, err
	}
	if qfam < 0 {
		return false, nil
	}
	if s.platform == DisplayPlane {
		return s.mode.disp.dev.dev == dev, nil
	}
	return true, nil
}

// SurfaceCapabilities returns the capabilities of sf.
func (c *Context) SurfaceCapabilities(dev driver.Device, sf Surface) (Capabilities, error) {
	s, err := c.surface(sf)
	if err != nil {
		return Capabilities{}, err
	}
	caps := Capabilities{
		MinImageCount:       MinImageCount,
		MaxImageCount:       MaxImageCount,
		MinExtent:           Extent{1, 1},
		MaxExtent:           Extent{16384, 16384},
		MaxImageArrayLayers: 1,
		SupportedTransforms: TransformIdentity,
		CurrentTransform:    TransformIdentity,
		Usage:               imageUsage,
	}
	if s.platform == DisplayPlane {
		caps.CurrentExtent = Extent{s.mode.mode.Width, s.mode.mode.Height}
		caps.MinExtent = caps.CurrentExtent
		caps.MaxExtent = caps.CurrentExtent
		caps.CompositeAlpha = AlphaOpaque | AlphaPreMultiplied
		return caps, nil
	}
	w, h := s.win.Size()
	caps.CurrentExtent = Extent{w, h}
	caps.CompositeAlpha = AlphaOpaque | AlphaPreMultiplied | AlphaPostMultiplied | AlphaInherit
	return caps, nil
}

// SurfaceFormats returns the formats sf supports, following
// the two-call convention.
func (c *Context) SurfaceFormats(dev driver.Device, sf Surface, dst []SurfaceFormat) (int, error) {
	if _, err := c.surface(sf); err != nil {
		return 0, err
	}
	return fill(dst, surfaceFormats)
}

// SurfacePresentModes returns the presentation modes sf
// supports, following the two-call convention.
func (c *Context) SurfacePresentModes(dev driver.Device, sf Surface, dst []PresentMode) (int, error) {
	s, err := c.surface(sf)
	if err != nil {
		return 0, err
	}
	if s.platform == DisplayPlane {
		return fill(dst, displayPresentModes)
	}
	return fill(dst, windowPresentModes)
}
