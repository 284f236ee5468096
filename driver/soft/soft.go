// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package soft implements an in-process driver.Bridge.
// Images alias the pixel storage of the native buffers
// they are created from, and semaphores and fences are
// signaled by goroutines.
package soft

import (
	"errors"
	"sync"
	"time"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/internal/logging"
	"github.com/gviegas/present/syncfd"
)

const name = "soft"

func init() { driver.Register(&Driver{}) }

// Driver implements driver.Driver.
type Driver struct {
	b *Bridge
}

// Open creates the Bridge on first call.
func (d *Driver) Open() (driver.Bridge, error) {
	if d.b == nil {
		d.b = New()
	}
	return d.b, nil
}

// Name returns "soft".
func (d *Driver) Name() string { return name }

// Close drops the Bridge.
func (d *Driver) Close() { d.b = nil }

// Bridge implements driver.Bridge, driver.ReleaseSignaler
// and driver.AcquireSignaler.
type Bridge struct {
	mu      sync.Mutex
	next    uint64
	images  map[driver.Image]*Image
	sems    map[driver.Semaphore]*signal
	fences  map[driver.Fence]*signal
	created int
	freed   int
	wg      sync.WaitGroup
}

// Image is an image created by the soft bridge.
type Image struct {
	Buffer *bufq.Buffer
	Info   driver.ImageInfo
}

// New creates a Bridge.
func New() *Bridge {
	return &Bridge{
		images: make(map[driver.Image]*Image),
		sems:   make(map[driver.Semaphore]*signal),
		fences: make(map[driver.Fence]*signal),
	}
}

// Basic wraps b in a value that implements only
// driver.Bridge, so callers fall back to blocking
// semantics.
func Basic(b *Bridge) driver.Bridge { return basic{b} }

type basic struct{ b *Bridge }

func (x basic) Name() string { return x.b.Name() }
func (x basic) NewImage(dev driver.Device, buf *bufq.Buffer, info *driver.ImageInfo) (driver.Image, error) {
	return x.b.NewImage(dev, buf, info)
}
func (x basic) DestroyImage(dev driver.Device, img driver.Image) { x.b.DestroyImage(dev, img) }

// Name returns "soft".
func (b *Bridge) Name() string { return name }

// NewImage implements driver.Bridge.
func (b *Bridge) NewImage(_ driver.Device, buf *bufq.Buffer, info *driver.ImageInfo) (driver.Image, error) {
	if buf == nil || info == nil {
		return 0, driver.ErrInitFailed
	}
	if info.Width != buf.Width() || info.Height != buf.Height() {
		return 0, driver.ErrFormatUnsupported
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	img := driver.Image(b.next)
	b.images[img] = &Image{Buffer: buf, Info: *info}
	b.created++
	return img, nil
}

// DestroyImage implements driver.Bridge.
func (b *Bridge) DestroyImage(_ driver.Device, img driver.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.images[img]; !ok {
		panic("soft: invalid call to DestroyImage")
	}
	delete(b.images, img)
	b.freed++
}

// Lookup returns the Image img refers to.
func (b *Bridge) Lookup(img driver.Image) (*Image, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	x, ok := b.images[img]
	return x, ok
}

// Stats returns the number of images created and
// destroyed so far.
func (b *Bridge) Stats() (created, destroyed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created, b.freed
}

// Live returns the number of images not yet destroyed.
func (b *Bridge) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.images)
}

// SignalReleaseImage implements driver.ReleaseSignaler.
// The fence signals once every wait semaphore signals.
// The semaphores stay signaled.
func (b *Bridge) SignalReleaseImage(_ driver.Queue, wait []driver.Semaphore, img driver.Image) (int, error) {
	b.mu.Lock()
	if _, ok := b.images[img]; !ok {
		b.mu.Unlock()
		return syncfd.NoFence, driver.ErrDeviceLost
	}
	sigs := make([]*signal, 0, len(wait))
	for _, s := range wait {
		x, ok := b.sems[s]
		if !ok {
			b.mu.Unlock()
			return syncfd.NoFence, errors.New("soft: invalid semaphore")
		}
		sigs = append(sigs, x)
	}
	b.mu.Unlock()

	tl := new(syncfd.Timeline)
	fd, err := tl.Fence(1)
	if err != nil {
		return syncfd.NoFence, logging.CallFailed(nil, "syncfd.Timeline.Fence", err)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, s := range sigs {
			s.wait(-1)
		}
		tl.Inc(1)
	}()
	return fd, nil
}

// AcquireImage implements driver.AcquireSignaler.
func (b *Bridge) AcquireImage(_ driver.Device, img driver.Image, fd int, sem driver.Semaphore, fen driver.Fence) error {
	b.mu.Lock()
	_, ok := b.images[img]
	s := b.sems[sem]
	f := b.fences[fen]
	b.mu.Unlock()
	if !ok {
		syncfd.Close(fd)
		return driver.ErrDeviceLost
	}
	if fd < 0 {
		s.signal()
		f.signal()
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := syncfd.Wait(fd, -1); err != nil {
			logging.L().Warn("fence wait failed", "call", "syncfd.Wait", "error", err)
		}
		syncfd.Close(fd)
		s.signal()
		f.signal()
	}()
	return nil
}

// Flush waits for every pending signal operation.
func (b *Bridge) Flush() { b.wg.Wait() }

// NewSemaphore creates an unsignaled semaphore.
func (b *Bridge) NewSemaphore() driver.Semaphore {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := driver.Semaphore(b.next)
	b.sems[s] = newSignal()
	return s
}

// DestroySemaphore destroys s.
func (b *Bridge) DestroySemaphore(s driver.Semaphore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sems, s)
}

// Signal signals s, as a rendering submission would.
func (b *Bridge) Signal(s driver.Semaphore) {
	b.mu.Lock()
	x := b.sems[s]
	b.mu.Unlock()
	x.signal()
}

// WaitSemaphore waits for s to signal and unsignals it.
// It reports whether s signaled before timeout.
func (b *Bridge) WaitSemaphore(s driver.Semaphore, timeout time.Duration) bool {
	b.mu.Lock()
	x := b.sems[s]
	b.mu.Unlock()
	if x == nil || !x.wait(timeout) {
		return false
	}
	x.reset()
	return true
}

// NewFence creates an unsignaled fence.
func (b *Bridge) NewFence() driver.Fence {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	f := driver.Fence(b.next)
	b.fences[f] = newSignal()
	return f
}

// DestroyFence destroys f.
func (b *Bridge) DestroyFence(f driver.Fence) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fences, f)
}

// WaitFence reports whether f signaled before timeout.
// A negative timeout waits forever.
func (b *Bridge) WaitFence(f driver.Fence, timeout time.Duration) bool {
	b.mu.Lock()
	x := b.fences[f]
	b.mu.Unlock()
	return x != nil && x.wait(timeout)
}

// ResetFence unsignals f.
func (b *Bridge) ResetFence(f driver.Fence) {
	b.mu.Lock()
	x := b.fences[f]
	b.mu.Unlock()
	x.reset()
}

// signal is a binary signal. Methods on a nil *signal
// do nothing.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
	on bool
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

func (s *signal) signal() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on {
		s.on = true
		close(s.ch)
	}
}

func (s *signal) reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.on {
		s.on = false
		s.ch = make(chan struct{})
	}
}

func (s *signal) wait(timeout time.Duration) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
	}
	if timeout < 0 {
		<-ch
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
