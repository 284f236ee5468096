// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gviegas/present/display"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/handle"
)

// Display is a handle to a display output.
type Display handle.H

// DisplayMode is a handle to a display mode.
type DisplayMode handle.H

// physDevice holds the displays and planes of a device.
type physDevice struct {
	dev      driver.Device
	disp     display.Display
	displays []*monitor
	planes   []*plane
	handles  []Display
}

type monitor struct {
	dev   *physDevice
	out   display.Output
	modes []DisplayMode
}

type plane struct {
	layer display.Layer
	disp  *monitor
	index int
}

// supports reports whether p can show d.
func (p *plane) supports(d *monitor) bool { return p.disp == d }

type displayMode struct {
	disp    *monitor
	mode    display.Mode
	builtin bool
}

// ErrNoDisplay means that a device was not initialized
// with a display.
var ErrNoDisplay = errors.New("wsi: device has no display")

// InitPhysicalDevice enumerates the outputs and layers of
// d and associates them with dev.
// Disconnected outputs are skipped.
// The Context owns d until DeinitPhysicalDevice.
func (c *Context) InitPhysicalDevice(dev driver.Device, d display.Display) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devs[dev]; ok {
		return fmt.Errorf("wsi: device %#x already initialized", uintptr(dev))
	}
	pd := &physDevice{dev: dev, disp: d}
	for _, out := range d.Outputs() {
		if !out.Connected() {
			continue
		}
		x := &monitor{dev: pd, out: out}
		for _, m := range out.Modes() {
			x.modes = append(x.modes, DisplayMode(c.modes.Add(&displayMode{disp: x, mode: m, builtin: true})))
		}
		pd.displays = append(pd.displays, x)
		pd.handles = append(pd.handles, Display(c.displays.Add(x)))
		for _, l := range out.Layers() {
			pd.planes = append(pd.planes, &plane{layer: l, disp: x, index: len(pd.planes)})
		}
	}
	c.devs[dev] = pd
	c.log.Info("display initialized", "displays", len(pd.displays), "planes", len(pd.planes))
	return nil
}

// DeinitPhysicalDevice releases what InitPhysicalDevice
// created and closes the display.
// Display plane surfaces of dev must be destroyed first.
func (c *Context) DeinitPhysicalDevice(dev driver.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pd, ok := c.devs[dev]
	if !ok {
		return ErrNoDisplay
	}
	var busy bool
	c.surfaces.Each(func(_ handle.H, s *surface) {
		busy = busy || (s.platform == DisplayPlane && s.mode.disp.dev == pd)
	})
	if busy {
		return ErrSurfaceInUse
	}
	delete(c.devs, dev)
	var modes []DisplayMode
	c.modes.Each(func(h handle.H, m *displayMode) {
		if m.disp.dev == pd {
			modes = append(modes, DisplayMode(h))
		}
	})
	for _, m := range modes {
		c.modes.Remove(handle.H(m))
	}
	for _, h := range pd.handles {
		c.displays.Remove(handle.H(h))
	}
	return pd.disp.Close()
}

func (c *Context) physDevice(dev driver.Device) (*physDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pd, ok := c.devs[dev]
	if !ok {
		return nil, ErrNoDisplay
	}
	return pd, nil
}

// DisplayProperties describes a display.
type DisplayProperties struct {
	Display        Display
	Name           string
	PhysicalWidth  int // mm
	PhysicalHeight int // mm
	Resolution     Extent
	Transforms     Transform
	PlaneReorder   bool
	Persistent     bool
}

// DisplayProperties returns the displays of dev, following
// the two-call convention.
func (c *Context) DisplayProperties(dev driver.Device, dst []DisplayProperties) (int, error) {
	pd, err := c.physDevice(dev)
	if err != nil {
		return 0, err
	}
	if dst == nil {
		return len(pd.displays), nil
	}
	props := make([]DisplayProperties, len(pd.displays))
	for i, d := range pd.displays {
		w, h := d.out.PhysicalSize()
		var res Extent
		if m, ok := display.PreferredMode(d.out); ok {
			res = Extent{m.Width, m.Height}
		}
		props[i] = DisplayProperties{
			Display:        pd.handles[i],
			Name:           d.out.Name(),
			PhysicalWidth:  w,
			PhysicalHeight: h,
			Resolution:     res,
			Transforms:     TransformIdentity,
		}
	}
	return fill(dst, props)
}

// PlaneProperties describes a display plane.
type PlaneProperties struct {
	CurrentDisplay    Display
	CurrentStackIndex int
}

// DisplayPlaneProperties returns the planes of dev,
// following the two-call convention.
func (c *Context) DisplayPlaneProperties(dev driver.Device, dst []PlaneProperties) (int, error) {
	pd, err := c.physDevice(dev)
	if err != nil {
		return 0, err
	}
	if dst == nil {
		return len(pd.planes), nil
	}
	props := make([]PlaneProperties, len(pd.planes))
	for i, p := range pd.planes {
		props[i] = PlaneProperties{
			CurrentDisplay:    pd.handles[slices.Index(pd.displays, p.disp)],
			CurrentStackIndex: p.layer.Zpos(),
		}
	}
	return fill(dst, props)
}

// DisplayPlaneSupportedDisplays returns the displays that
// plane can show, following the two-call convention.
func (c *Context) DisplayPlaneSupportedDisplays(dev driver.Device, plane int, dst []Display) (int, error) {
	pd, err := c.physDevice(dev)
	if err != nil {
		return 0, err
	}
	if plane < 0 || plane >= len(pd.planes) {
		return 0, fmt.Errorf("wsi: plane %d out of range", plane)
	}
	var disps []Display
	for i, d := range pd.displays {
		if pd.planes[plane].supports(d) {
			disps = append(disps, pd.handles[i])
		}
	}
	return fill(dst, disps)
}

// ModeParameters are the parameters of a display mode.
type ModeParameters struct {
	Visible Extent
	// Refresh is the refresh rate in millihertz.
	Refresh int
}

// ModeProperties describes a display mode.
type ModeProperties struct {
	Mode       DisplayMode
	Parameters ModeParameters
}

func (c *Context) monitor(disp Display) (*monitor, error) {
	d, err := c.displays.Get(handle.H(disp))
	return d, invalid(err)
}

// DisplayModeProperties returns the modes of disp,
// following the two-call convention.
func (c *Context) DisplayModeProperties(dev driver.Device, disp Display, dst []ModeProperties) (int, error) {
	d, err := c.monitor(disp)
	if err != nil {
		return 0, err
	}
	if d.dev.dev != dev {
		return 0, ErrInvalidHandle
	}
	if dst == nil {
		return len(d.modes), nil
	}
	props := make([]ModeProperties, 0, len(d.modes))
	for _, h := range d.modes {
		m, err := c.modes.Get(handle.H(h))
		if err != nil {
			continue
		}
		props = append(props, ModeProperties{
			Mode: h,
			Parameters: ModeParameters{
				Visible: Extent{m.mode.Width, m.mode.Height},
				Refresh: m.mode.Refresh * 1000,
			},
		})
	}
	return fill(dst, props)
}

// CreateDisplayMode creates a mode for disp matching params.
// The parameters must match a mode the output supports.
func (c *Context) CreateDisplayMode(dev driver.Device, disp Display, params ModeParameters) (DisplayMode, error) {
	d, err := c.monitor(disp)
	if err != nil {
		return 0, err
	}
	if d.dev.dev != dev {
		return 0, ErrInvalidHandle
	}
	want := display.Mode{
		Width:   params.Visible.Width,
		Height:  params.Visible.Height,
		Refresh: params.Refresh / 1000,
	}
	m, ok := display.FindMode(d.out, want)
	if !ok {
		return 0, fmt.Errorf("%w: no %v mode on %s", driver.ErrInitFailed, want, d.out.Name())
	}
	return DisplayMode(c.modes.Add(&displayMode{disp: d, mode: m})), nil
}

// PlaneCapabilities describes how a plane can show a mode.
type PlaneCapabilities struct {
	SupportedAlpha CompositeAlpha
	MinSrcPos      Offset
	MaxSrcPos      Offset
	MinSrcExtent   Extent
	MaxSrcExtent   Extent
	MinDstPos      Offset
	MaxDstPos      Offset
	MinDstExtent   Extent
	MaxDstExtent   Extent
}

// Offset is a position in pixels.
type Offset struct {
	X, Y int
}

// DisplayPlaneCapabilities returns the capabilities of
// plane when showing mode.
func (c *Context) DisplayPlaneCapabilities(dev driver.Device, mode DisplayMode, plane int) (PlaneCapabilities, error) {
	m, err := c.modes.Get(handle.H(mode))
	if err != nil {
		return PlaneCapabilities{}, invalid(err)
	}
	pd := m.disp.dev
	if pd.dev != dev {
		return PlaneCapabilities{}, ErrInvalidHandle
	}
	if plane < 0 || plane >= len(pd.planes) {
		return PlaneCapabilities{}, fmt.Errorf("wsi: plane %d out of range", plane)
	}
	ext := Extent{m.mode.Width, m.mode.Height}
	caps := PlaneCapabilities{
		SupportedAlpha: AlphaOpaque,
		MinSrcExtent:   Extent{1, 1},
		MaxSrcExtent:   ext,
		MinDstExtent:   ext,
		MaxDstExtent:   ext,
	}
	if pd.planes[plane].layer.Caps()&display.CapOverlay != 0 {
		caps.SupportedAlpha |= AlphaPreMultiplied
	}
	if pd.planes[plane].layer.Caps()&display.CapScale != 0 {
		caps.MinDstExtent = Extent{1, 1}
		caps.MaxDstPos = Offset{ext.Width - 1, ext.Height - 1}
	}
	return caps, nil
}
