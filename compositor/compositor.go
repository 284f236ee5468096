// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package compositor defines the interface to a windowing
// compositor that owns the buffer queue of a window, and
// implements a headless compositor.
package compositor

import (
	"errors"
	"fmt"
	"time"

	"github.com/gviegas/present/bufq"
)

var (
	// ErrOutOfMemory means that the compositor could not
	// allocate buffers.
	ErrOutOfMemory = errors.New("compositor: out of memory")

	// ErrTimeout means that no buffer became available
	// in time.
	ErrTimeout = errors.New("compositor: timeout")

	// ErrLost means that the session or surface can no
	// longer be used.
	ErrLost = errors.New("compositor: lost")

	// ErrNoSwapchain means that a surface has no
	// swapchain.
	ErrNoSwapchain = errors.New("compositor: no swapchain")

	// ErrInvalid means that a call was made with invalid
	// arguments.
	ErrInvalid = errors.New("compositor: invalid argument")
)

// PresentMode is a presentation mode.
type PresentMode int

// Presentation modes.
const (
	// Immediate shows enqueued buffers as soon as
	// possible.
	Immediate PresentMode = iota
	// Mailbox shows the newest enqueued buffer on each
	// refresh, dropping older ones.
	Mailbox
	// FIFO shows one enqueued buffer per refresh, in
	// order.
	FIFO
	// FIFORelaxed behaves like FIFO, except that a buffer
	// enqueued after a refresh found nothing to show is
	// shown immediately.
	FIFORelaxed
)

func (m PresentMode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Mailbox:
		return "mailbox"
	case FIFO:
		return "fifo"
	case FIFORelaxed:
		return "fifo-relaxed"
	}
	return fmt.Sprintf("PresentMode(%d)", int(m))
}

// SurfaceType is the type of a compositor surface.
type SurfaceType int

// Surface types.
const (
	SurfaceWindow SurfaceType = iota
	SurfacePixmap
)

// Window is a native window.
type Window interface {
	// Size returns the current size of the window.
	Size() (width, height int)
}

// Sink receives the buffers a compositor shows.
type Sink interface {
	Show(win Window, buf *bufq.Buffer) error
}

// Session is the interface to a compositor connection.
// Sessions are reference counted. A new session has one
// reference.
type Session interface {
	Ref()
	Unref()

	// CreateSurface creates a surface for win.
	CreateSurface(win Window, typ SurfaceType, format bufq.Format) (Surface, error)
}

// Surface is the interface to a compositor surface.
// Surfaces are reference counted. A new surface has one
// reference.
type Surface interface {
	Ref()
	Unref()

	// CreateSwapchain creates the buffer queue of the
	// surface.
	CreateSwapchain(format bufq.Format, width, height, count int, mode PresentMode) error

	// SwapchainBuffers returns the buffers of the
	// swapchain.
	SwapchainBuffers() ([]*bufq.Buffer, error)

	// DequeueBuffer blocks until a buffer is free or
	// timeout elapses. A negative timeout waits forever.
	DequeueBuffer(timeout time.Duration) (*bufq.Buffer, error)

	// DequeueBufferWithSync is like DequeueBuffer, but
	// also returns a fence descriptor that signals once
	// the compositor no longer reads the buffer.
	// The caller owns the descriptor.
	DequeueBufferWithSync(timeout time.Duration) (*bufq.Buffer, int, error)

	// EnqueueBuffer hands buf over to the compositor.
	// The compositor waits on fence before reading buf
	// and takes ownership of it.
	EnqueueBuffer(buf *bufq.Buffer, fence int) error

	// CancelDequeueBuffer returns a dequeued buffer to
	// the free list without showing it.
	CancelDequeueBuffer(buf *bufq.Buffer) error

	// DestroySwapchain destroys the buffer queue.
	DestroySwapchain() error
}

// MemWindow is a Window of fixed size.
type MemWindow struct {
	Width, Height int
}

// Size implements Window.
func (w *MemWindow) Size() (int, int) { return w.Width, w.Height }
