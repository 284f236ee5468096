// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/compositor"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/syncfd"
)

// compositorBackend presents through a compositor surface.
type compositorBackend struct {
	log     *slog.Logger
	session compositor.Session
	surf    compositor.Surface
}

// compositorError converts err, logging it with the name of
// the failing call. Out of memory conditions map to
// driver.ErrNoDeviceMemory and everything else to kind.
func compositorError(log *slog.Logger, call string, err error, kind error) error {
	log.Error("compositor call failed", "call", call, "error", err)
	if errors.Is(err, compositor.ErrOutOfMemory) {
		kind = driver.ErrNoDeviceMemory
	}
	return fmt.Errorf("%w: %s: %v", kind, call, err)
}

func (c *Context) newCompositorBackend(s *surface, info *SwapchainInfo, native bufq.Format) (backend, error) {
	log := c.log.With("backend", "compositor")
	mode, ok := compositorMode(info.PresentMode)
	if !ok {
		log.Error("unsupported present mode", "mode", info.PresentMode)
		return nil, fmt.Errorf("%w: present mode %v", driver.ErrDeviceLost, info.PresentMode)
	}
	s.session.Ref()
	surf, err := s.session.CreateSurface(s.win, compositor.SurfaceWindow, native)
	if err != nil {
		s.session.Unref()
		return nil, compositorError(log, "compositor.Session.CreateSurface", err, driver.ErrDeviceLost)
	}
	err = surf.CreateSwapchain(native, info.Extent.Width, info.Extent.Height, info.MinImageCount, mode)
	if err != nil {
		surf.Unref()
		s.session.Unref()
		return nil, compositorError(log, "compositor.Surface.CreateSwapchain", err, driver.ErrDeviceLost)
	}
	return &compositorBackend{log: log, session: s.session, surf: surf}, nil
}

func (b *compositorBackend) buffers() ([]*bufq.Buffer, error) {
	bufs, err := b.surf.SwapchainBuffers()
	if err != nil {
		return nil, compositorError(b.log, "compositor.Surface.SwapchainBuffers", err, driver.ErrSurfaceLost)
	}
	return bufs, nil
}

func (b *compositorBackend) acquire(timeout time.Duration, withSync bool) (*bufq.Buffer, int, error) {
	var (
		buf *bufq.Buffer
		fd  = syncfd.NoFence
		err error
	)
	if withSync {
		buf, fd, err = b.surf.DequeueBufferWithSync(timeout)
	} else {
		buf, err = b.surf.DequeueBuffer(timeout)
	}
	switch {
	case err == nil:
		return buf, fd, nil
	case errors.Is(err, compositor.ErrTimeout):
		return nil, syncfd.NoFence, driver.ErrTimeout
	}
	return nil, syncfd.NoFence, compositorError(b.log, "compositor.Surface.DequeueBuffer", err, driver.ErrSurfaceLost)
}

func (b *compositorBackend) present(_ driver.Queue, buf *bufq.Buffer, fence int) error {
	if err := b.surf.EnqueueBuffer(buf, fence); err != nil {
		b.cancel(buf)
		return compositorError(b.log, "compositor.Surface.EnqueueBuffer", err, driver.ErrDeviceLost)
	}
	return nil
}

func (b *compositorBackend) cancel(buf *bufq.Buffer) {
	if err := b.surf.CancelDequeueBuffer(buf); err != nil {
		b.log.Warn("buffer not returned", "call", "compositor.Surface.CancelDequeueBuffer", "error", err)
	}
}

func (b *compositorBackend) deinit() {
	if err := b.surf.DestroySwapchain(); err != nil {
		b.log.Warn("compositor swapchain not destroyed", "call", "compositor.Surface.DestroySwapchain", "error", err)
	}
	b.surf.Unref()
	b.session.Unref()
}
