// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/driver/soft"
)

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, driver.ErrNotInstalled)
	_, err = New(soft.New(), Config{ReleasePolicy: 7})
	assert.Error(t, err)
	c, err := New(soft.New(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "soft", c.Bridge().Name())
	c.Close()
}

func TestCreateWindowSurfacePlatform(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	h := compositor.NewHeadless(compositor.HeadlessConfig{})
	defer h.Unref()
	win := &compositor.MemWindow{Width: 8, Height: 8}
	for _, p := range [...]Platform{None, DisplayPlane, Platform(99)} {
		_, err := c.CreateWindowSurface(&WindowSurfaceInfo{Platform: p, Session: h, Window: win})
		if !errors.Is(err, driver.ErrExtensionNotPresent) {
			t.Fatalf("CreateWindowSurface(%v)\nhave %v\nwant %v", p, err, driver.ErrExtensionNotPresent)
		}
	}
	assert.Equal(t, 1, h.Refs())
	_, err := c.CreateWindowSurface(&WindowSurfaceInfo{Platform: XCB, Session: h})
	assert.ErrorIs(t, err, driver.ErrSurfaceLost)
	for _, p := range [...]Platform{Wayland, XCB, Headless} {
		sf, err := c.CreateWindowSurface(&WindowSurfaceInfo{Platform: p, Session: h, Window: win})
		require.NoError(t, err)
		assert.Equal(t, 2, h.Refs())
		require.NoError(t, c.DestroySurface(sf))
		assert.Equal(t, 1, h.Refs())
		assert.ErrorIs(t, c.DestroySurface(sf), ErrInvalidHandle)
	}
}

func TestSurfaceQueries(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})

	ok, err := c.SurfaceSupport(testDev, 0, sf)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.SurfaceSupport(testDev, -1, sf)
	assert.False(t, ok)

	caps, err := c.SurfaceCapabilities(testDev, sf)
	require.NoError(t, err)
	assert.Equal(t, MinImageCount, caps.MinImageCount)
	assert.Equal(t, MaxImageCount, caps.MaxImageCount)
	assert.Equal(t, Extent{32, 16}, caps.CurrentExtent)
	assert.NotZero(t, caps.Usage&gputypes.TextureUsageRenderAttachment)
	assert.NotZero(t, caps.CompositeAlpha&AlphaOpaque)

	n, err := c.SurfaceFormats(testDev, sf, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 2)
	fmts := make([]SurfaceFormat, n)
	n, err = c.SurfaceFormats(testDev, sf, fmts)
	require.NoError(t, err)
	assert.Equal(t, len(fmts), n)
	assert.Contains(t, fmts, SurfaceFormat{gputypes.TextureFormatBGRA8Unorm, ColorSpaceSRGBNonlinear})
	assert.Contains(t, fmts, SurfaceFormat{gputypes.TextureFormatRGBA8Unorm, ColorSpaceSRGBNonlinear})

	short := make([]SurfaceFormat, 1)
	n, err = c.SurfaceFormats(testDev, sf, short)
	assert.ErrorIs(t, err, driver.ErrIncomplete)
	assert.Equal(t, 1, n)
	assert.Equal(t, fmts[0], short[0])

	n, err = c.SurfacePresentModes(testDev, sf, nil)
	require.NoError(t, err)
	modes := make([]PresentMode, n)
	_, err = c.SurfacePresentModes(testDev, sf, modes)
	require.NoError(t, err)
	assert.ElementsMatch(t, []PresentMode{PresentImmediate, PresentMailbox, PresentFIFO, PresentFIFORelaxed}, modes)
}

func TestSurfaceInvalidHandle(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	const bad = Surface(0xbad)
	_, err := c.SurfaceCapabilities(testDev, bad)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.SurfaceFormats(testDev, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.SurfacePresentModes(testDev, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.SurfaceSupport(testDev, 0, bad)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.CreateSwapchain(testDev, windowSwapchainInfo(bad, 2))
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestDestroySurfaceInUse(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	sc, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 2))
	require.NoError(t, err)
	assert.ErrorIs(t, c.DestroySurface(sf), ErrSurfaceInUse)
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	assert.NoError(t, c.DestroySurface(sf))
}

func TestPlatformString(t *testing.T) {
	assert.Equal(t, "display-plane", DisplayPlane.String())
	assert.Equal(t, "Platform(9)", Platform(9).String())
}
