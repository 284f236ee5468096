// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package driver defines the interface that a vendor
// graphics driver exposes to the presentation engine.
// A driver imports native buffers as renderable images
// and, optionally, synchronizes the ownership handoff of
// those images with the presentation engine.
package driver

import (
	"errors"
	"sync"

	"github.com/gviegas/present/internal/logging"
)

// Driver is the interface that provides methods for
// loading and unloading an underlying implementation.
type Driver interface {
	// Open initializes the driver.
	// If it succeeds, further calls with the same receiver
	// have no effect and must return the same Bridge.
	// Callers should assume that Open is not safe for
	// parallel execution.
	Open() (Bridge, error)

	// Name returns the name of the driver.
	// It must not cause the driver to be opened.
	Name() string

	// Close deinitializes the driver.
	// Closing a driver that is not open has no effect.
	Close()
}

// ErrNotInstalled means that a platform-specific library
// required for the driver to work is not present in the
// system.
var ErrNotInstalled = errors.New("driver: missing required library")

// ErrNoHostMemory means that host memory could not be
// allocated.
var ErrNoHostMemory = errors.New("driver: out of host memory")

// ErrNoDeviceMemory means that device memory could not
// be allocated.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrDeviceLost means that the device can no longer be
// used.
var ErrDeviceLost = errors.New("driver: device lost")

// ErrSurfaceLost means that a native presentation call
// failed, or returned state inconsistent with the
// swapchain. The surface must be recreated.
var ErrSurfaceLost = errors.New("driver: surface lost")

// ErrTimeout means that a bounded wait expired.
// It is a status, not a failure: nothing was leaked and
// the call can be retried.
var ErrTimeout = errors.New("driver: timeout")

// ErrIncomplete means that an enumeration result was
// truncated to the length of the destination.
// The copied prefix is valid.
var ErrIncomplete = errors.New("driver: incomplete")

// ErrExtensionNotPresent means that the surface platform
// is not supported.
var ErrExtensionNotPresent = errors.New("driver: extension not present")

// ErrFormatUnsupported means that a pixel format is not
// supported by the surface or the driver.
var ErrFormatUnsupported = errors.New("driver: format not supported")

// ErrInitFailed means that the driver could not be
// initialized.
var ErrInitFailed = errors.New("driver: initialization failed")

// Drivers returns the registered Drivers.
// Client code imports specific driver packages, which
// register themselves from init.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Find returns the registered Driver with the given name,
// or nil if there is none.
func Find(name string) Driver {
	mu.Lock()
	defer mu.Unlock()
	for _, d := range drivers {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Register registers a Driver.
// Driver implementations are expected to call Register
// exactly once, from an init function.
// If a driver with the same name has already been
// registered, it will be replaced by drv.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			logging.L().Warn("driver replaced", "driver", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
	logging.L().Debug("driver registered", "driver", drv.Name())
}

var (
	mu      sync.Mutex
	drivers = make([]Driver, 0, 2)
)
