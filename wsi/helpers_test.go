// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/display"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/driver/soft"
)

const testDev driver.Device = 1

func newContext(t *testing.T, b driver.Bridge, cfg Config) *Context {
	t.Helper()
	c, err := New(b, cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newWindowSurface(t *testing.T, c *Context, cfg compositor.HeadlessConfig) (Surface, *compositor.Headless) {
	t.Helper()
	h := compositor.NewHeadless(cfg)
	sf, err := c.CreateWindowSurface(&WindowSurfaceInfo{
		Platform: Headless,
		Session:  h,
		Window:   &compositor.MemWindow{Width: 32, Height: 16},
	})
	require.NoError(t, err)
	h.Unref()
	return sf, h
}

func windowSwapchainInfo(sf Surface, n int) *SwapchainInfo {
	return &SwapchainInfo{
		Surface:        sf,
		MinImageCount:  n,
		Format:         gputypes.TextureFormatBGRA8Unorm,
		ColorSpace:     ColorSpaceSRGBNonlinear,
		Extent:         Extent{32, 16},
		Usage:          gputypes.TextureUsageRenderAttachment,
		CompositeAlpha: AlphaOpaque,
		PresentMode:    PresentFIFO,
	}
}

func testVirtual(deferred bool) *display.Virtual {
	return display.NewVirtual(display.VirtualConfig{
		Outputs: []display.OutputConfig{{
			Name:       "TEST-1",
			PhysWidth:  300,
			PhysHeight: 200,
			Modes: []display.Mode{
				{Name: "64x32", Width: 64, Height: 32, Refresh: 60, Preferred: true},
				{Name: "32x16", Width: 32, Height: 16, Refresh: 30},
			},
			Layers: 2,
			DPMS:   display.DPMSOff,
		}},
		Deferred: deferred,
	})
}

// newDisplaySurface initializes testDev with v and
// creates a surface for plane 0 with the preferred mode.
func newDisplaySurface(t *testing.T, c *Context, v *display.Virtual) Surface {
	t.Helper()
	require.NoError(t, c.InitPhysicalDevice(testDev, v))
	var disp [1]DisplayProperties
	n, err := c.DisplayProperties(testDev, disp[:])
	require.NoError(t, err)
	require.Equal(t, 1, n)
	modes := make([]ModeProperties, 2)
	_, err = c.DisplayModeProperties(testDev, disp[0].Display, modes)
	require.NoError(t, err)
	sf, err := c.CreateDisplayPlaneSurface(&DisplaySurfaceInfo{
		Mode:      modes[0].Mode,
		Plane:     0,
		Transform: TransformIdentity,
		Alpha:     AlphaOpaque,
	})
	require.NoError(t, err)
	return sf
}

func displaySwapchainInfo(sf Surface, n int) *SwapchainInfo {
	return &SwapchainInfo{
		Surface:        sf,
		MinImageCount:  n,
		Format:         gputypes.TextureFormatRGBA8Unorm,
		Extent:         Extent{64, 32},
		Usage:          gputypes.TextureUsageRenderAttachment,
		CompositeAlpha: AlphaOpaque,
		PresentMode:    PresentFIFO,
	}
}

// failBridge fails the image import numbered failAt.
type failBridge struct {
	*soft.Bridge
	failAt int
	n      int
}

func (b *failBridge) NewImage(dev driver.Device, buf *bufq.Buffer, info *driver.ImageInfo) (driver.Image, error) {
	b.n++
	if b.n == b.failAt {
		return 0, driver.ErrNoDeviceMemory
	}
	return b.Bridge.NewImage(dev, buf, info)
}

func present(t *testing.T, c *Context, sc Swapchain, idx int) {
	t.Helper()
	require.NoError(t, c.QueuePresent(0, &PresentInfo{
		Swapchains:   []Swapchain{sc},
		ImageIndices: []int{idx},
	}))
}

const long = 5 * time.Second
