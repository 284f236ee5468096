// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"github.com/gogpu/gputypes"

	"github.com/gviegas/present/bufq"
)

// Device is an opaque device handle owned by the driver.
type Device uintptr

// Queue is an opaque queue handle owned by the driver.
type Queue uintptr

// Image is an image handle created by a Bridge.
// The zero Image is never valid.
type Image uint64

// Semaphore is an opaque semaphore handle.
// The zero Semaphore means "no semaphore".
type Semaphore uint64

// Fence is an opaque fence handle.
// The zero Fence means "no fence".
type Fence uint64

// ImageInfo describes an image to be created from a
// native buffer.
type ImageInfo struct {
	Format gputypes.TextureFormat
	Width  int
	Height int
	Usage  gputypes.TextureUsage

	// Native is the pixel format tag of the buffer.
	Native bufq.Format
	// Stride is the length of a buffer row in bytes.
	Stride int
}

// Bridge is the interface that a vendor driver implements
// to import native buffers.
type Bridge interface {
	// Name returns the name of the driver.
	Name() string

	// NewImage imports buf as an image.
	// The image must be destroyed before buf.
	NewImage(dev Device, buf *bufq.Buffer, info *ImageInfo) (Image, error)

	// DestroyImage destroys an image created by NewImage.
	DestroyImage(dev Device, img Image)
}

// ReleaseSignaler is the interface that a Bridge may
// implement to relinquish ownership of an image on
// presentation.
type ReleaseSignaler interface {
	// SignalReleaseImage arranges for the returned fence
	// descriptor to signal once img is no longer accessed
	// by q, after every semaphore in wait has signaled.
	// The caller owns the descriptor. A negative value
	// means that the image is already released.
	SignalReleaseImage(q Queue, wait []Semaphore, img Image) (fd int, err error)
}

// AcquireSignaler is the interface that a Bridge may
// implement to signal a semaphore and/or a fence once an
// acquired image is ready for rendering.
type AcquireSignaler interface {
	// AcquireImage arranges for sem and fen to signal
	// once fd signals. It takes ownership of fd, which
	// may be negative to mean "ready now".
	// Signaling may happen after AcquireImage returns.
	AcquireImage(dev Device, img Image, fd int, sem Semaphore, fen Fence) error
}
