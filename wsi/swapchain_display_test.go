// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/present/display"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/driver/soft"
)

func displayBackendOf(t *testing.T, c *Context, sc Swapchain) *displayBackend {
	t.Helper()
	x, err := c.swapchain(sc)
	require.NoError(t, err)
	return x.be.(*displayBackend)
}

// values returns the timeline values of every buffer.
func (b *displayBackend) values() []uint64 {
	vs := make([]uint64, len(b.bufs))
	for i, db := range b.bufs {
		vs[i] = db.timeline.Value()
	}
	return vs
}

func TestDisplaySwapchain(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	v := testVirtual(false)
	sf := newDisplaySurface(t, c, v)
	out := v.Outputs()[0]
	layer := out.Layers()[0]

	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 3))
	require.NoError(t, err)
	be := displayBackendOf(t, c, sc)

	dpms, _ := out.DPMS()
	assert.Equal(t, display.DPMSOn, dpms)
	m, ok := out.Mode()
	require.True(t, ok)
	assert.Equal(t, 64, m.Width)
	info := layer.Info()
	assert.Equal(t, 64, info.SrcWidth)
	assert.Equal(t, 32, info.SrcHeight)
	assert.Equal(t, display.Rect{Width: 64, Height: 32}, info.DstPos)

	var imgs [3]driver.Image
	n, err := c.SwapchainImages(testDev, sc, imgs[:])
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for i := range 10 {
		idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
		require.NoError(t, err, "iteration %d", i)
		present(t, c, sc, idx)
		img, _ := b.Lookup(imgs[idx])
		if have := display.Scanout(layer); have != img.Buffer {
			t.Fatalf("display.Scanout\nhave %v\nwant %v", have, img.Buffer)
		}
	}
	assert.Equal(t, 10, display.Commits(out))
	b.Flush()

	q := be.q
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	assert.True(t, q.Destroyed())
	assert.ErrorIs(t, c.DestroySwapchain(testDev, sc), ErrInvalidHandle)
	created, destroyed := b.Stats()
	assert.Equal(t, 3, created)
	assert.Equal(t, 3, destroyed)
	dpms, _ = out.DPMS()
	assert.Equal(t, display.DPMSOff, dpms)
}

func TestDisplaySwapchainInvalid(t *testing.T) {
	c := newContext(t, soft.New(), Config{ReleasePolicy: ReleaseOnScanout})
	sf := newDisplaySurface(t, c, testVirtual(false))

	info := displaySwapchainInfo(sf, 2)
	info.PresentMode = PresentMailbox
	_, err := c.CreateSwapchain(testDev, info)
	assert.ErrorIs(t, err, driver.ErrInitFailed)

	info = displaySwapchainInfo(sf, 2)
	info.Extent = Extent{}
	_, err = c.CreateSwapchain(testDev, info)
	assert.ErrorIs(t, err, driver.ErrInitFailed)
}

// A commit only advances the timeline of the buffer it
// takes off the screen.
func TestDisplayTimeline(t *testing.T) {
	c := newContext(t, soft.New(), Config{})
	v := testVirtual(true)
	sf := newDisplaySurface(t, c, v)
	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 3))
	require.NoError(t, err)
	be := displayBackendOf(t, c, sc)

	acquire := func(want int) {
		t.Helper()
		idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
		require.NoError(t, err)
		require.Equal(t, want, idx)
	}

	acquire(0)
	present(t, c, sc, 0)
	assert.Equal(t, []uint64{0, 0, 0}, be.values())
	require.Equal(t, 1, v.Deliver(1))
	assert.Equal(t, []uint64{0, 0, 0}, be.values())

	acquire(1)
	present(t, c, sc, 1)
	acquire(2)
	present(t, c, sc, 2)
	// Both commits are pending.
	assert.Equal(t, []uint64{0, 0, 0}, be.values())
	assert.Equal(t, 2, v.Pending())

	require.Equal(t, 1, v.Deliver(1))
	assert.Equal(t, []uint64{1, 0, 0}, be.values())
	require.Equal(t, 1, v.Deliver(1))
	assert.Equal(t, []uint64{1, 1, 0}, be.values())
	assert.Equal(t, 0, v.Pending())

	// Buffer 0 left the screen, so it is ready.
	acquire(0)
	present(t, c, sc, 0)
	v.Deliver(1)
	assert.Equal(t, []uint64{1, 1, 1}, be.values())
}

// Without a signaling bridge, acquisition waits for the
// buffer to leave the screen and gives it back on timeout.
func TestDisplayAcquireWaitsFence(t *testing.T) {
	b := soft.New()
	c := newContext(t, soft.Basic(b), Config{})
	v := testVirtual(true)
	sf := newDisplaySurface(t, c, v)
	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 2))
	require.NoError(t, err)

	idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	present(t, c, sc, 0)
	v.Deliver(1)

	idx, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	present(t, c, sc, 1)

	// Buffer 0 is still on screen.
	start := time.Now()
	idx, err = c.AcquireNextImage(testDev, sc, 10*time.Millisecond, 0, 0)
	if err != driver.ErrTimeout || idx != -1 {
		t.Fatalf("AcquireNextImage (on screen)\nhave %d, %v\nwant -1, %v", idx, err, driver.ErrTimeout)
	}
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	v.Deliver(1)
	// Buffer 1 replaced buffer 0 on screen.
	_, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	assert.ErrorIs(t, err, driver.ErrTimeout)
	idx, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestDisplayAcquireSignal(t *testing.T) {
	b := soft.New()
	c := newContext(t, b, Config{})
	v := testVirtual(true)
	sf := newDisplaySurface(t, c, v)
	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 2))
	require.NoError(t, err)

	idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	present(t, c, sc, idx)
	v.Deliver(1)
	idx, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	present(t, c, sc, idx)

	sem := b.NewSemaphore()
	fen := b.NewFence()
	idx, err = c.AcquireNextImage(testDev, sc, 0, sem, fen)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.False(t, b.WaitFence(fen, 10*time.Millisecond))

	v.Deliver(1)
	assert.True(t, b.WaitFence(fen, long))
	assert.True(t, b.WaitSemaphore(sem, long))
	present(t, c, sc, idx)
	v.Deliver(1)
	b.Flush()
}

func TestDisplayReleaseOnScanout(t *testing.T) {
	c := newContext(t, soft.New(), Config{ReleasePolicy: ReleaseOnScanout})
	v := testVirtual(true)
	sf := newDisplaySurface(t, c, v)
	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 2))
	require.NoError(t, err)

	idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	present(t, c, sc, idx)
	v.Deliver(1)
	idx, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	present(t, c, sc, idx)

	// Buffer 0 is on screen and buffer 1 is pending.
	_, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	assert.ErrorIs(t, err, driver.ErrTimeout)

	v.Deliver(1)
	idx, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	_, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	assert.ErrorIs(t, err, driver.ErrTimeout)
}

func TestDisplayDestroyWakesAcquire(t *testing.T) {
	c := newContext(t, soft.New(), Config{ReleasePolicy: ReleaseOnScanout})
	sf := newDisplaySurface(t, c, testVirtual(true))
	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 2))
	require.NoError(t, err)
	for range 2 {
		_, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
		require.NoError(t, err)
	}
	be := displayBackendOf(t, c, sc)
	done := make(chan error, 1)
	go func() {
		_, _, err := be.acquire(WaitForever, false)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, driver.ErrSurfaceLost)
	case <-time.After(long):
		t.Fatal("acquire not woken by destroy")
	}
}

func TestDisplayDestroyFlush(t *testing.T) {
	c := newContext(t, soft.New(), Config{FlushTimeout: 20 * time.Millisecond})
	v := testVirtual(true)
	sf := newDisplaySurface(t, c, v)
	layer := v.Outputs()[0].Layers()[0]
	out := v.Outputs()[0]

	// Completed while flushing.
	sc, err := c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 2))
	require.NoError(t, err)
	idx, err := c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	present(t, c, sc, idx)
	go func() {
		time.Sleep(2 * time.Millisecond)
		v.Deliver(1)
	}()
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	assert.Equal(t, 0, v.Pending())
	assert.Equal(t, 1, display.Commits(out))
	dpms, _ := out.DPMS()
	assert.Equal(t, display.DPMSOff, dpms)
	assert.NotNil(t, display.Scanout(layer))

	// Never completed.
	sc, err = c.CreateSwapchain(testDev, displaySwapchainInfo(sf, 2))
	require.NoError(t, err)
	idx, err = c.AcquireNextImage(testDev, sc, 0, 0, 0)
	require.NoError(t, err)
	present(t, c, sc, idx)
	start := time.Now()
	require.NoError(t, c.DestroySwapchain(testDev, sc))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Equal(t, 1, v.Pending())
	// A late completion is ignored.
	assert.Equal(t, 1, v.Deliver(1))
}
