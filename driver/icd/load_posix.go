// Copyright 2022 Gustavo C. Viegas. All rights reserved.

//go:build cgo && unix

package icd

// #cgo linux LDFLAGS: -ldl
// #include <dlfcn.h>
// #include <stdlib.h>
// #include "icd.h"
import "C"

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/logging"
)

// lib holds the loaded library and its entry points.
type lib struct {
	h   unsafe.Pointer
	gpa unsafe.Pointer

	create  unsafe.Pointer
	release unsafe.Pointer
	acquire unsafe.Pointer
	destroy unsafe.Pointer

	mu   sync.Mutex
	bufs map[driver.Image]*C.wsiNativeBuffer
}

// load opens the library at path and resolves its entry
// points. It returns the bridge and a function that unloads
// the library.
func load(path string) (driver.Bridge, func(), error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.dlopen(cpath, C.RTLD_LAZY|C.RTLD_LOCAL)
	if h == nil {
		return nil, nil, errors.Join(driver.ErrNotInstalled, errors.New(C.GoString(C.dlerror())))
	}
	sym := C.CString(symGetProcAddr)
	defer C.free(unsafe.Pointer(sym))
	gpa := C.dlsym(h, sym)
	if gpa == nil {
		C.dlclose(h)
		return nil, nil, driver.ErrNotInstalled
	}
	l := &lib{
		h:    h,
		gpa:  gpa,
		bufs: make(map[driver.Image]*C.wsiNativeBuffer),
	}
	l.create = l.proc(symCreateImage)
	if l.create == nil {
		l.close()
		logging.L().Error("entry point not present", "call", symCreateImage)
		return nil, nil, driver.ErrNotInstalled
	}
	l.release = l.proc(symSignalRelease)
	l.acquire = l.proc(symAcquireImage)
	l.destroy = l.proc(symDestroyImage)

	var b driver.Bridge
	switch {
	case l.release != nil && l.acquire != nil:
		b = bridgeRA{l}
	case l.release != nil:
		b = bridgeR{l}
	case l.acquire != nil:
		b = bridgeA{l}
	default:
		b = l
	}
	return b, l.close, nil
}

func (l *lib) proc(name string) unsafe.Pointer {
	s := C.CString(name)
	defer C.free(unsafe.Pointer(s))
	return C.icdGetProcAddr(l.gpa, s)
}

func (l *lib) close() {
	l.mu.Lock()
	for img, p := range l.bufs {
		C.free(unsafe.Pointer(p))
		delete(l.bufs, img)
	}
	l.mu.Unlock()
	if l.h != nil {
		C.dlclose(l.h)
	}
	l.h, l.gpa = nil, nil
	l.create, l.release, l.acquire, l.destroy = nil, nil, nil, nil
}

// Name returns "icd".
func (l *lib) Name() string { return name }

// NewImage implements driver.Bridge.
func (l *lib) NewImage(dev driver.Device, buf *bufq.Buffer, info *driver.ImageInfo) (driver.Image, error) {
	f, ok := vkFormat(info.Format)
	if !ok {
		return 0, driver.ErrFormatUnsupported
	}
	nb := (*C.wsiNativeBuffer)(C.malloc(C.sizeof_wsiNativeBuffer))
	if nb == nil {
		return 0, driver.ErrNoHostMemory
	}
	nb.handle = C.uint64_t(buf.Handle())
	nb.width = C.uint32_t(buf.Width())
	nb.height = C.uint32_t(buf.Height())
	nb.stride = C.uint32_t(buf.Stride())
	nb.format = C.uint32_t(buf.Format())

	ci := C.VkImageCreateInfo{
		sType:       14, // VK_STRUCTURE_TYPE_IMAGE_CREATE_INFO
		imageType:   1,  // VK_IMAGE_TYPE_2D
		format:      C.int32_t(f),
		extent:      C.VkExtent3D{C.uint32_t(info.Width), C.uint32_t(info.Height), 1},
		mipLevels:   1,
		arrayLayers: 1,
		samples:     1,
		usage:       C.VkFlags(vkUsage(info.Usage)),
	}
	var img C.VkImage
	res := C.icdCreateImage(l.create, C.uintptr_t(dev), nb, &ci, &img)
	if err := checkResult(int32(res)); err != nil {
		C.free(unsafe.Pointer(nb))
		return 0, logging.CallFailed(nil, symCreateImage, err)
	}
	l.mu.Lock()
	l.bufs[driver.Image(img)] = nb
	l.mu.Unlock()
	return driver.Image(img), nil
}

// DestroyImage implements driver.Bridge.
func (l *lib) DestroyImage(dev driver.Device, img driver.Image) {
	if l.destroy != nil {
		C.icdDestroyImage(l.destroy, C.uintptr_t(dev), C.VkImage(img))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.bufs[img]; ok {
		C.free(unsafe.Pointer(p))
		delete(l.bufs, img)
	}
}

func (l *lib) signalRelease(q driver.Queue, wait []driver.Semaphore, img driver.Image) (int, error) {
	var p *C.VkSemaphore
	if len(wait) > 0 {
		p = (*C.VkSemaphore)(unsafe.Pointer(&wait[0]))
	}
	fd := C.int(-1)
	res := C.icdSignalRelease(l.release, C.uintptr_t(q), C.uint32_t(len(wait)), p, C.VkImage(img), &fd)
	if err := checkResult(int32(res)); err != nil {
		return -1, logging.CallFailed(nil, symSignalRelease, err)
	}
	return int(fd), nil
}

func (l *lib) acquireImage(dev driver.Device, img driver.Image, fd int, sem driver.Semaphore, fen driver.Fence) error {
	res := C.icdAcquireImage(l.acquire, C.uintptr_t(dev), C.VkImage(img), C.int(fd), C.VkSemaphore(sem), C.VkFence(fen))
	if err := checkResult(int32(res)); err != nil {
		return logging.CallFailed(nil, symAcquireImage, err)
	}
	return nil
}

type bridgeR struct{ *lib }

func (b bridgeR) SignalReleaseImage(q driver.Queue, wait []driver.Semaphore, img driver.Image) (int, error) {
	return b.signalRelease(q, wait, img)
}

type bridgeA struct{ *lib }

func (b bridgeA) AcquireImage(dev driver.Device, img driver.Image, fd int, sem driver.Semaphore, fen driver.Fence) error {
	return b.acquireImage(dev, img, fd, sem, fen)
}

type bridgeRA struct{ *lib }

func (b bridgeRA) SignalReleaseImage(q driver.Queue, wait []driver.Semaphore, img driver.Image) (int, error) {
	return b.signalRelease(q, wait, img)
}

func (b bridgeRA) AcquireImage(dev driver.Device, img driver.Image, fd int, sem driver.Semaphore, fen driver.Fence) error {
	return b.acquireImage(dev, img, fd, sem, fen)
}
