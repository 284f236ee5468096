// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/driver/soft"
)

func TestCreateSwapchain(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	sf, h := newWindowSurface(t, c, compositor.HeadlessConfig{})

	var n int
	for _, f := range [...]gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8Unorm} {
		info := windowSwapchainInfo(sf, 3)
		info.Format = f
		sc, err := c.CreateSwapchain(testDev, info)
		require.NoError(t, err)
		n, err = c.SwapchainImages(testDev, sc, nil)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 3)
		imgs := make([]driver.Image, n)
		_, err = c.SwapchainImages(testDev, sc, imgs)
		require.NoError(t, err)
		for _, img := range imgs {
			x, ok := b.Lookup(img)
			require.True(t, ok)
			assert.Equal(t, f, x.Info.Format)
			assert.Equal(t, 32, x.Info.Width)
			assert.Equal(t, 16, x.Info.Height)
			assert.Equal(t, x.Buffer.Format(), x.Info.Native)
			assert.False(t, x.Info.Native.HasAlpha())
		}
		require.NoError(t, c.DestroySwapchain(testDev, sc))
	}
	created, destroyed := b.Stats()
	assert.Equal(t, 2*n, created)
	assert.Equal(t, created, destroyed)
	assert.Equal(t, 1, h.Refs())
}

func TestSwapchainImagesIncomplete(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	for n := MinImageCount; n <= MaxImageCount; n++ {
		sc, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, n))
		require.NoError(t, err)
		all := make([]driver.Image, n)
		cnt, err := c.SwapchainImages(testDev, sc, all)
		require.NoError(t, err)
		require.Equal(t, n, cnt)
		for m := 0; m < n; m++ {
			part := make([]driver.Image, m)
			cnt, err := c.SwapchainImages(testDev, sc, part)
			if cnt != m || !errors.Is(err, driver.ErrIncomplete) {
				t.Fatalf("SwapchainImages(%d of %d)\nhave %d, %v\nwant %d, %v", m, n, cnt, err, m, driver.ErrIncomplete)
			}
			assert.Equal(t, all[:m], part)
		}
		require.NoError(t, c.DestroySwapchain(testDev, sc))
	}
}

func TestCreateSwapchainInvalid(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{MaxBuffers: 2})

	info := windowSwapchainInfo(sf, 0)
	_, err := c.CreateSwapchain(testDev, info)
	assert.ErrorIs(t, err, driver.ErrInitFailed)

	info = windowSwapchainInfo(sf, 2)
	info.Extent = Extent{}
	_, err = c.CreateSwapchain(testDev, info)
	assert.ErrorIs(t, err, driver.ErrInitFailed)

	info = windowSwapchainInfo(sf, 2)
	info.Format = gputypes.TextureFormatRGBA16Float
	_, err = c.CreateSwapchain(testDev, info)
	assert.ErrorIs(t, err, driver.ErrSurfaceLost)

	info = windowSwapchainInfo(sf, 2)
	info.PresentMode = PresentSharedDemandRefresh
	_, err = c.CreateSwapchain(testDev, info)
	assert.ErrorIs(t, err, driver.ErrDeviceLost)

	// The compositor cannot allocate more than two buffers.
	_, err = c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 3))
	assert.ErrorIs(t, err, driver.ErrNoDeviceMemory)
}

func TestCreateSwapchainUnwind(t *testing.T) {
	b := &failBridge{Bridge: soft.New(), failAt: 3}
	c := newContext(t, b, Config{})
	sf, h := newWindowSurface(t, c, compositor.HeadlessConfig{})
	_, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 4))
	assert.ErrorIs(t, err, driver.ErrNoDeviceMemory)
	created, destroyed := b.Stats()
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, destroyed)
	assert.Equal(t, 1, h.Refs())
}

func TestDestroySwapchainTwice(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	sc, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 3))
	require.NoError(t, err)
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	if err := c.DestroySwapchain(testDev, sc); err != ErrInvalidHandle {
		t.Fatalf("DestroySwapchain (twice)\nhave %v\nwant %v", err, ErrInvalidHandle)
	}
	_, destroyed := b.Stats()
	assert.Equal(t, 3, destroyed)
	_, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.SwapchainImages(testDev, sc, nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestAcquireTimeout(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	const n = 3
	sc, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, n))
	require.NoError(t, err)

	seen := make(map[int]bool)
	for range n {
		idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
		require.NoError(t, err)
		require.True(t, idx >= 0 && idx < n, "index %d", idx)
		require.False(t, seen[idx], "index %d acquired twice", idx)
		seen[idx] = true
	}
	live := b.Live()
	idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
	if err != driver.ErrTimeout || idx != -1 {
		t.Fatalf("AcquireNextImage (no free image)\nhave %d, %v\nwant -1, %v", idx, err, driver.ErrTimeout)
	}
	start := time.Now()
	_, err = c.AcquireNextImage(testDev, sc, 20*time.Millisecond, 0, 0)
	assert.ErrorIs(t, err, driver.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, live, b.Live())
}

func TestPresentCycle(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	sf, h := newWindowSurface(t, c, compositor.HeadlessConfig{Refresh: time.Millisecond})
	for _, mode := range windowPresentModes {
		info := windowSwapchainInfo(sf, 3)
		info.PresentMode = mode
		sc, err := c.CreateSwapchain(testDev, info)
		require.NoError(t, err)
		for range 20 {
			idx, err := c.AcquireNextImage(testDev, sc, long, 0, 0)
			require.NoError(t, err, "%v", mode)
			present(t, c, sc, idx)
		}
		require.NoError(t, c.DestroySwapchain(testDev, sc))
	}
	assert.Equal(t, 0, b.Live())
	assert.Equal(t, 1, h.Refs())
}

func TestPresentNotAcquired(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	sc, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 2))
	require.NoError(t, err)
	err = c.QueuePresent(0, &PresentInfo{Swapchains: []Swapchain{sc}, ImageIndices: []int{0}})
	assert.ErrorIs(t, err, ErrNotAcquired)
	err = c.QueuePresent(0, &PresentInfo{Swapchains: []Swapchain{sc}, ImageIndices: []int{2}})
	assert.Error(t, err)
	err = c.QueuePresent(0, &PresentInfo{Swapchains: []Swapchain{sc}})
	assert.Error(t, err)
}

func TestPresentIndependent(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf1, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	sf2, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	scs, err := c.CreateSharedSwapchains(testDev, []SwapchainInfo{
		*windowSwapchainInfo(sf1, 2),
		*windowSwapchainInfo(sf2, 2),
	})
	require.NoError(t, err)
	require.Len(t, scs, 2)

	idx, err := c.AcquireNextImage(testDev, scs[1], 0, 0, 0)
	require.NoError(t, err)
	res := make([]error, 2)
	err = c.QueuePresent(0, &PresentInfo{
		Swapchains:   scs,
		ImageIndices: []int{0, idx},
		Results:      res,
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, res[0], ErrNotAcquired)
	assert.NoError(t, res[1])

	// The image went back to the compositor.
	err = c.QueuePresent(0, &PresentInfo{Swapchains: scs[1:], ImageIndices: []int{idx}})
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestCreateSharedSwapchainsUnwind(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	bad := *windowSwapchainInfo(sf, 2)
	bad.Format = gputypes.TextureFormatR8Unorm
	_, err := c.CreateSharedSwapchains(testDev, []SwapchainInfo{*windowSwapchainInfo(sf, 2), bad})
	assert.ErrorIs(t, err, driver.ErrSurfaceLost)
	assert.Equal(t, 0, b.Live())
}

func TestOldSwapchainRetired(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{})
	old, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 2))
	require.NoError(t, err)
	info := windowSwapchainInfo(sf, 2)
	info.OldSwapchain = old
	sc, err := c.CreateSwapchain(testDev, info)
	require.NoError(t, err)
	_, err = c.AcquireNextImage(testDev, old, 0, 0, 0)
	assert.ErrorIs(t, err, driver.ErrSurfaceLost)
	_, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	assert.NoError(t, err)
	require.NoError(t, c.DestroySwapchain(testDev, old))
}

func TestAcquireWithSync(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	sf, _ := newWindowSurface(t, c, compositor.HeadlessConfig{Refresh: time.Millisecond})
	sc, err := c.CreateSwapchain(testDev, windowSwapchainInfo(sf, 2))
	require.NoError(t, err)

	sem := b.NewSemaphore()
	fen := b.NewFence()
	idx, err := c.AcquireNextImage(testDev, sc, long, sem, fen)
	require.NoError(t, err)
	require.True(t, b.WaitFence(fen, long))
	require.True(t, b.WaitSemaphore(sem, long))

	// The release fence only signals after the render
	// semaphore does.
	render := b.NewSemaphore()
	err = c.QueuePresent(0, &PresentInfo{
		WaitSemaphores: []driver.Semaphore{render},
		Swapchains:     []Swapchain{sc},
		ImageIndices:   []int{idx},
	})
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		b.Signal(render)
	}()
	for range 4 {
		b.ResetFence(fen)
		idx, err := c.AcquireNextImage(testDev, sc, long, 0, fen)
		require.NoError(t, err)
		require.True(t, b.WaitFence(fen, long))
		err = c.QueuePresent(0, &PresentInfo{
			WaitSemaphores: []driver.Semaphore{render},
			Swapchains:     []Swapchain{sc},
			ImageIndices:   []int{idx},
		})
		require.NoError(t, err)
	}
	wg.Wait()
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	b.Flush()
}

func TestContextClose(t *testing.T) {
	b := soft.New()
	c, err := New(b, Config{})
	require.NoError(t, err)
	h := compositor.NewHeadless(compositor.HeadlessConfig{})
	sf, err := c.CreateWindowSurface(&WindowSurfaceInfo{
		Platform: Headless,
		Session:  h,
		Window:   &compositor.MemWindow{Width: 4, Height: 4},
	})
	require.NoError(t, err)
	info := windowSwapchainInfo(sf, 2)
	info.Extent = Extent{4, 4}
	_, err = c.CreateSwapchain(testDev, info)
	require.NoError(t, err)
	require.NoError(t, c.InitPhysicalDevice(testDev, testVirtual(false)))
	c.Close()
	assert.Equal(t, 0, b.Live())
	assert.Equal(t, 1, h.Refs())
	n, err := c.DisplayProperties(testDev, nil)
	assert.ErrorIs(t, err, ErrNoDisplay)
	assert.Zero(t, n)
	h.Unref()
}
