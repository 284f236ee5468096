// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package wsi implements a presentation engine.
//
// A Context binds a vendor driver.Bridge to native
// presentation backends. Surfaces are created either for
// a compositor window or for a plane of a directly driven
// display, and swapchains created for a surface turn the
// native buffers of the backend into driver images that
// can be acquired, rendered into and presented.
//
// Objects are referred to by opaque handles. Using a
// handle after the object was destroyed fails with
// ErrInvalidHandle.
package wsi

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/handle"
	"github.com/gviegas/present/internal/logging"
)

// ErrInvalidHandle means that a handle does not refer to
// a live object.
var ErrInvalidHandle = errors.New("wsi: invalid handle")

// WaitForever is the timeout value that waits without
// bound.
const WaitForever time.Duration = -1

// ReleasePolicy selects when a buffer presented on a
// direct display becomes available for acquisition again.
type ReleasePolicy int

// Release policies.
const (
	// ReleaseOnHandoff releases a buffer as soon as it is
	// handed to the display. Scan-out completion is only
	// tracked by the buffer's fence timeline.
	ReleaseOnHandoff ReleasePolicy = iota
	// ReleaseOnScanout releases a buffer once the display
	// stops scanning it out.
	ReleaseOnScanout
)

func (p ReleasePolicy) String() string {
	switch p {
	case ReleaseOnHandoff:
		return "handoff"
	case ReleaseOnScanout:
		return "scanout"
	}
	return "invalid"
}

// Config configures a Context.
type Config struct {
	// Logger defaults to the shared logger (see SetLogger).
	Logger *slog.Logger

	// ReleasePolicy applies to direct-display swapchains.
	ReleasePolicy ReleasePolicy

	// FenceWait bounds the wait on a present fence in the
	// direct-display backend. Zero means two seconds.
	FenceWait time.Duration

	// FlushTimeout bounds the wait for outstanding display
	// commits when a direct-display swapchain is destroyed.
	// Zero means one second.
	FlushTimeout time.Duration
}

// SetLogger sets the logger used by every Context whose
// Config does not name one, and by the rest of the module.
// A nil l disables logging.
func SetLogger(l *slog.Logger) { logging.Set(l) }

// Context is a presentation engine instance.
// Its methods are safe for concurrent use, except that
// calls on the same swapchain must be externally
// synchronized.
type Context struct {
	bridge driver.Bridge
	cfg    Config
	log    *slog.Logger

	surfaces   handle.Registry[*surface]
	swapchains handle.Registry[*swapchain]
	displays   handle.Registry[*monitor]
	modes      handle.Registry[*displayMode]

	mu   sync.Mutex
	devs map[driver.Device]*physDevice
}

// New creates a Context that imports images through b.
func New(b driver.Bridge, cfg Config) (*Context, error) {
	if b == nil {
		return nil, driver.ErrNotInstalled
	}
	if cfg.FenceWait <= 0 {
		cfg.FenceWait = 2 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = time.Second
	}
	if cfg.ReleasePolicy != ReleaseOnHandoff && cfg.ReleasePolicy != ReleaseOnScanout {
		return nil, errors.New("wsi: invalid release policy")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.L()
	}
	c := &Context{
		bridge: b,
		cfg:    cfg,
		log:    log.With("bridge", b.Name()),
		devs:   make(map[driver.Device]*physDevice),
	}
	_, rel := b.(driver.ReleaseSignaler)
	_, acq := b.(driver.AcquireSignaler)
	c.log.Info("presentation engine created", "release-signal", rel, "acquire-signal", acq, "release-policy", cfg.ReleasePolicy)
	return c, nil
}

// Bridge returns the driver.Bridge of c.
func (c *Context) Bridge() driver.Bridge { return c.bridge }

// Close destroys every object still alive in c.
func (c *Context) Close() {
	type live struct {
		dev driver.Device
		sc  Swapchain
	}
	var scs []live
	c.swapchains.Each(func(h handle.H, x *swapchain) { scs = append(scs, live{x.dev, Swapchain(h)}) })
	for _, x := range scs {
		c.DestroySwapchain(x.dev, x.sc)
	}
	var sfs []Surface
	c.surfaces.Each(func(h handle.H, _ *surface) { sfs = append(sfs, Surface(h)) })
	for _, sf := range sfs {
		c.DestroySurface(sf)
	}
	c.mu.Lock()
	devs := make([]driver.Device, 0, len(c.devs))
	for dev := range c.devs {
		devs = append(devs, dev)
	}
	c.mu.Unlock()
	for _, dev := range devs {
		c.DeinitPhysicalDevice(dev)
	}
}

// invalid converts a registry error.
func invalid(err error) error {
	if errors.Is(err, handle.ErrInvalid) {
		return ErrInvalidHandle
	}
	return err
}

// fill implements the two-call enumeration convention.
// A nil dst yields the length of src. Otherwise src is
// copied into dst, and driver.ErrIncomplete is returned
// if it does not fit.
func fill[T any](dst, src []T) (int, error) {
	if dst == nil {
		return len(src), nil
	}
	n := copy(dst, src)
	if n < len(src) {
		return n, driver.ErrIncomplete
	}
	return n, nil
}
