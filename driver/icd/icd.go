// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package icd loads a vendor Vulkan driver (ICD) and
// exposes its native buffer import entry points as a
// driver.Bridge.
//
// The library is given by the VK_WSI_ICD environment
// variable, or by Driver.Path.
package icd

import (
	"os"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/logging"
)

// EnvVar is the environment variable that names the
// ICD library.
const EnvVar = "VK_WSI_ICD"

const name = "icd"

// Entry point names.
const (
	symGetProcAddr   = "vk_icdGetInstanceProcAddr"
	symCreateImage   = "vkCreateImageFromNativeBufferTIZEN"
	symSignalRelease = "vkQueueSignalReleaseImageTIZEN"
	symAcquireImage  = "vkAcquireImageTIZEN"
	symDestroyImage  = "vkDestroyImage"
)

func init() { driver.Register(&Driver{}) }

// Driver implements driver.Driver.
type Driver struct {
	// Path overrides EnvVar when not empty.
	Path string

	b driver.Bridge
	c func()
}

// Open loads the ICD library.
// It fails with driver.ErrNotInstalled if no library is
// given or it cannot be loaded.
func (d *Driver) Open() (driver.Bridge, error) {
	if d.b != nil {
		return d.b, nil
	}
	path := d.Path
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		logging.L().Warn("no ICD library given", "env", EnvVar)
		return nil, driver.ErrNotInstalled
	}
	b, c, err := load(path)
	if err != nil {
		logging.L().Warn("ICD not loaded", "path", path, "error", err)
		return nil, err
	}
	logging.L().Info("ICD loaded", "path", path)
	d.b, d.c = b, c
	return b, nil
}

// Name returns "icd".
func (d *Driver) Name() string { return name }

// Close unloads the ICD library.
func (d *Driver) Close() {
	if d.c != nil {
		d.c()
	}
	d.b, d.c = nil, nil
}

// VkFormat values.
const (
	vkFormatUndefined     = 0
	vkFormatR8G8B8A8Unorm = 37
	vkFormatR8G8B8A8Srgb  = 43
	vkFormatB8G8R8A8Unorm = 44
	vkFormatB8G8R8A8Srgb  = 50
)

// vkFormat converts f to a VkFormat.
func vkFormat(f gputypes.TextureFormat) (int32, bool) {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return vkFormatR8G8B8A8Unorm, true
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return vkFormatR8G8B8A8Srgb, true
	case gputypes.TextureFormatBGRA8Unorm:
		return vkFormatB8G8R8A8Unorm, true
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return vkFormatB8G8R8A8Srgb, true
	}
	return vkFormatUndefined, false
}

// VkImageUsageFlagBits values.
const (
	vkUsageTransferSrc     = 0x01
	vkUsageTransferDst     = 0x02
	vkUsageSampled         = 0x04
	vkUsageColorAttachment = 0x10
)

// vkUsage converts u to VkImageUsageFlags.
func vkUsage(u gputypes.TextureUsage) uint32 {
	var x uint32
	if u&gputypes.TextureUsageCopySrc != 0 {
		x |= vkUsageTransferSrc
	}
	if u&gputypes.TextureUsageCopyDst != 0 {
		x |= vkUsageTransferDst
	}
	if u&gputypes.TextureUsageTextureBinding != 0 {
		x |= vkUsageSampled
	}
	if u&gputypes.TextureUsageRenderAttachment != 0 {
		x |= vkUsageColorAttachment
	}
	return x
}

// VkResult values.
const (
	vkSuccess                  = 0
	vkTimeout                  = 2
	vkIncomplete               = 5
	vkErrorOutOfHostMemory     = -1
	vkErrorOutOfDeviceMemory   = -2
	vkErrorInitializationFail  = -3
	vkErrorDeviceLost          = -4
	vkErrorExtensionNotPresent = -7
	vkErrorFormatNotSupported  = -11
	vkErrorSurfaceLost         = -1000000000
)

// checkResult converts a VkResult to an error.
func checkResult(res int32) error {
	switch res {
	case vkSuccess:
		return nil
	case vkTimeout:
		return driver.ErrTimeout
	case vkIncomplete:
		return driver.ErrIncomplete
	case vkErrorOutOfHostMemory:
		return driver.ErrNoHostMemory
	case vkErrorOutOfDeviceMemory:
		return driver.ErrNoDeviceMemory
	case vkErrorInitializationFail:
		return driver.ErrInitFailed
	case vkErrorExtensionNotPresent:
		return driver.ErrExtensionNotPresent
	case vkErrorFormatNotSupported:
		return driver.ErrFormatUnsupported
	case vkErrorSurfaceLost:
		return driver.ErrSurfaceLost
	}
	return driver.ErrDeviceLost
}
