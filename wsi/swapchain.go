// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/handle"
	"github.com/gviegas/present/syncfd"
)

// Swapchain is a handle to a swapchain.
type Swapchain handle.H

// SwapchainInfo describes a swapchain.
type SwapchainInfo struct {
	Surface        Surface
	MinImageCount  int
	Format         gputypes.TextureFormat
	ColorSpace     ColorSpace
	Extent         Extent
	Usage          gputypes.TextureUsage
	Transform      Transform
	CompositeAlpha CompositeAlpha
	PresentMode    PresentMode
	Clipped        bool
	// OldSwapchain, if not zero, is retired by the new
	// swapchain. Its images can no longer be acquired.
	OldSwapchain Swapchain
}

// backend is the interface of a presentation backend.
type backend interface {
	// buffers materializes the native buffers.
	// It is called once, right after the backend is
	// created.
	buffers() ([]*bufq.Buffer, error)

	// acquire blocks until a buffer can be handed to the
	// application or timeout elapses. If withSync is true, the
	// returned fence descriptor, owned by the caller, may
	// be used instead of blocking until the buffer is
	// ready. Otherwise, it is always syncfd.NoFence.
	acquire(timeout time.Duration, withSync bool) (*bufq.Buffer, int, error)

	// present hands buf back to the backend for display.
	// The backend takes ownership of fence. If present
	// fails, buf is no longer owned by the application.
	present(q driver.Queue, buf *bufq.Buffer, fence int) error

	// cancel takes back a buffer returned by acquire that
	// will not be presented.
	cancel(buf *bufq.Buffer)

	// deinit releases every backend resource.
	deinit()
}

// buffer pairs a native buffer with its imported image.
type buffer struct {
	native   *bufq.Buffer
	image    driver.Image
	acquired bool
}

type swapchain struct {
	dev     driver.Device
	surface Surface
	be      backend
	info    SwapchainInfo
	native  bufq.Format
	images  []driver.Image

	// mu guards the acquired flags and retired.
	mu      sync.Mutex
	bufs    []buffer
	retired bool
}

func (sc *swapchain) isRetired() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.retired
}

// CreateSwapchain creates a swapchain for info.Surface.
// The image count, which may exceed info.MinImageCount,
// is given by SwapchainImages. It is never less than
// MinImageCount, since a single image cannot be both on
// screen and acquired.
func (c *Context) CreateSwapchain(dev driver.Device, info *SwapchainInfo) (Swapchain, error) {
	s, err := c.surface(info.Surface)
	if err != nil {
		return 0, err
	}
	if info.MinImageCount < 1 || info.MinImageCount > MaxImageCount {
		return 0, fmt.Errorf("%w: image count %d", driver.ErrInitFailed, info.MinImageCount)
	}
	if info.MinImageCount < MinImageCount {
		x := *info
		x.MinImageCount = MinImageCount
		info = &x
	}
	if info.Extent.Width < 1 || info.Extent.Height < 1 {
		return 0, fmt.Errorf("%w: extent %v", driver.ErrInitFailed, info.Extent)
	}
	native, err := NativeFormat(info.Format, info.CompositeAlpha)
	if err != nil {
		c.log.Error("swapchain format rejected", "format", info.Format, "alpha", info.CompositeAlpha)
		return 0, err
	}
	if info.OldSwapchain != 0 {
		old, err := c.swapchains.Get(handle.H(info.OldSwapchain))
		if err != nil {
			return 0, invalid(err)
		}
		old.mu.Lock()
		old.retired = true
		old.mu.Unlock()
	}

	var be backend
	switch {
	case s.platform.window():
		be, err = c.newCompositorBackend(s, info, native)
	case s.platform == DisplayPlane:
		be, err = c.newDisplayBackend(s, info, native)
	default:
		err = driver.ErrExtensionNotPresent
	}
	if err != nil {
		return 0, err
	}

	nbufs, err := be.buffers()
	if err != nil {
		be.deinit()
		return 0, err
	}
	sc := &swapchain{
		dev:     dev,
		surface: info.Surface,
		be:      be,
		info:    *info,
		native:  native,
		bufs:    make([]buffer, 0, len(nbufs)),
		images:  make([]driver.Image, 0, len(nbufs)),
	}
	for _, nb := range nbufs {
		img, err := c.bridge.NewImage(dev, nb, &driver.ImageInfo{
			Format: info.Format,
			Width:  nb.Width(),
			Height: nb.Height(),
			Usage:  info.Usage,
			Native: nb.Format(),
			Stride: nb.Stride(),
		})
		if err != nil {
			c.log.Error("image import failed", "call", "driver.Bridge.NewImage", "error", err)
			sc.destroyImages(c.bridge)
			be.deinit()
			return 0, err
		}
		sc.bufs = append(sc.bufs, buffer{native: nb, image: img})
		sc.images = append(sc.images, img)
	}
	h := Swapchain(c.swapchains.Add(sc))
	c.log.Info("swapchain created",
		"platform", s.platform,
		"images", len(sc.bufs),
		"format", info.Format,
		"native", native,
		"extent", fmt.Sprintf("%dx%d", info.Extent.Width, info.Extent.Height),
		"mode", info.PresentMode)
	return h, nil
}

// CreateSharedSwapchains creates a swapchain for each
// element of infos. If any creation fails, the swapchains
// already created are destroyed.
func (c *Context) CreateSharedSwapchains(dev driver.Device, infos []SwapchainInfo) ([]Swapchain, error) {
	scs := make([]Swapchain, 0, len(infos))
	for i := range infos {
		sc, err := c.CreateSwapchain(dev, &infos[i])
		if err != nil {
			for j := len(scs) - 1; j >= 0; j-- {
				c.DestroySwapchain(dev, scs[j])
			}
			return nil, err
		}
		scs = append(scs, sc)
	}
	return scs, nil
}

// destroyImages destroys the images of sc in reverse
// order of creation.
func (sc *swapchain) destroyImages(b driver.Bridge) {
	for i := len(sc.bufs) - 1; i >= 0; i-- {
		b.DestroyImage(sc.dev, sc.bufs[i].image)
	}
	sc.bufs = nil
	sc.images = nil
}

// DestroySwapchain destroys a swapchain.
// Destroying the same swapchain twice fails with
// ErrInvalidHandle.
func (c *Context) DestroySwapchain(dev driver.Device, sc Swapchain) error {
	x, err := c.swapchains.Remove(handle.H(sc))
	if err != nil {
		c.log.Warn("swapchain destroyed twice or never created", "error", err)
		return invalid(err)
	}
	x.destroyImages(c.bridge)
	x.be.deinit()
	c.log.Info("swapchain destroyed")
	return nil
}

func (c *Context) swapchain(sc Swapchain) (*swapchain, error) {
	x, err := c.swapchains.Get(handle.H(sc))
	return x, invalid(err)
}

// SwapchainImages returns the images of sc, following the
// two-call convention.
func (c *Context) SwapchainImages(dev driver.Device, sc Swapchain, dst []driver.Image) (int, error) {
	x, err := c.swapchain(sc)
	if err != nil {
		return 0, err
	}
	return fill(dst, x.images)
}

// AcquireNextImage acquires an image of sc for rendering
// and returns its index.
// It blocks until an image is available or timeout
// elapses, in which case driver.ErrTimeout is returned.
// WaitForever disables the timeout.
// sem and fen, if not zero, are signaled once the image
// is ready. If the bridge cannot signal them, the call
// instead blocks until the image is ready.
func (c *Context) AcquireNextImage(dev driver.Device, sc Swapchain, timeout time.Duration, sem driver.Semaphore, fen driver.Fence) (int, error) {
	x, err := c.swapchain(sc)
	if err != nil {
		return -1, err
	}
	if x.isRetired() {
		return -1, fmt.Errorf("%w: swapchain retired", driver.ErrSurfaceLost)
	}
	as, canSignal := c.bridge.(driver.AcquireSignaler)
	withSync := canSignal && (sem != 0 || fen != 0)

	nb, fd, err := x.be.acquire(timeout, withSync)
	if err != nil {
		if !errors.Is(err, driver.ErrTimeout) {
			c.log.Error("acquire failed", "error", err)
		}
		return -1, err
	}
	x.mu.Lock()
	idx := -1
	for i := range x.bufs {
		if x.bufs[i].native == nb {
			idx = i
			break
		}
	}
	if idx < 0 || x.bufs[idx].acquired {
		x.mu.Unlock()
		syncfd.Close(fd)
		c.log.Error("backend returned an unexpected buffer", "buffer", nb.Handle(), "index", idx)
		return -1, fmt.Errorf("%w: unexpected buffer", driver.ErrSurfaceLost)
	}
	x.bufs[idx].acquired = true
	x.mu.Unlock()
	if withSync {
		if err := as.AcquireImage(dev, x.bufs[idx].image, fd, sem, fen); err != nil {
			c.log.Error("acquire signal failed", "call", "driver.AcquireSignaler.AcquireImage", "error", err)
			x.mu.Lock()
			x.bufs[idx].acquired = false
			x.mu.Unlock()
			x.be.cancel(nb)
			return -1, err
		}
	}
	c.log.Debug("image acquired", "index", idx, "sync", withSync)
	return idx, nil
}

// PresentInfo describes a presentation request.
type PresentInfo struct {
	// WaitSemaphores must signal before the images are
	// read by the presentation engine.
	WaitSemaphores []driver.Semaphore
	Swapchains     []Swapchain
	ImageIndices   []int
	// Results, if not nil, receives the outcome of each
	// swapchain's presentation.
	Results []error
}

// ErrNotAcquired means that an image was presented
// without having been acquired.
var ErrNotAcquired = errors.New("wsi: image not acquired")

// QueuePresent presents an image of each swapchain in
// info. A failure on one swapchain does not prevent the
// others from being presented. The first failure, if
// any, is returned.
func (c *Context) QueuePresent(q driver.Queue, info *PresentInfo) error {
	if len(info.ImageIndices) != len(info.Swapchains) {
		return errors.New("wsi: image index count does not match swapchain count")
	}
	if info.Results != nil && len(info.Results) != len(info.Swapchains) {
		return errors.New("wsi: result count does not match swapchain count")
	}
	rs, canSignal := c.bridge.(driver.ReleaseSignaler)
	var first error
	for i, sc := range info.Swapchains {
		err := c.present(q, rs, canSignal, sc, info.ImageIndices[i], info.WaitSemaphores)
		if err != nil {
			c.log.Error("present failed", "swapchain", i, "error", err)
			if first == nil {
				first = err
			}
		}
		if info.Results != nil {
			info.Results[i] = err
		}
	}
	return first
}

func (c *Context) present(q driver.Queue, rs driver.ReleaseSignaler, canSignal bool, sc Swapchain, idx int, wait []driver.Semaphore) error {
	x, err := c.swapchain(sc)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(x.bufs) {
		return fmt.Errorf("wsi: image index %d out of range", idx)
	}
	x.mu.Lock()
	b := x.bufs[idx]
	if !b.acquired {
		x.mu.Unlock()
		return ErrNotAcquired
	}
	x.bufs[idx].acquired = false
	x.mu.Unlock()
	fence := syncfd.NoFence
	if canSignal {
		fence, err = rs.SignalReleaseImage(q, wait, b.image)
		if err != nil {
			c.log.Error("release signal failed", "call", "driver.ReleaseSignaler.SignalReleaseImage", "error", err)
			x.mu.Lock()
			x.bufs[idx].acquired = true
			x.mu.Unlock()
			return err
		}
	}
	if err := x.be.present(q, b.native, fence); err != nil {
		return err
	}
	c.log.Debug("image presented", "index", idx)
	return nil
}
