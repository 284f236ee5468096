// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package wsi

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/display"
	"github.com/gviegas/present/driver"
	"github.com/gviegas/present/syncfd"
)

// displayBuffer is a buffer of a direct-display swapchain.
type displayBuffer struct {
	native *bufq.Buffer

	// timeline advances by one each time the buffer stops
	// being scanned out.
	timeline syncfd.Timeline

	// presents counts the commits that showed the buffer.
	// Guarded by displayBackend.frontMu.
	presents uint64
}

// displayBackend drives a display plane directly.
//
// A presented buffer goes through the native queue to the
// layer, and the output commit reports when it reaches the
// screen. Two locks are used: freeMu pairs with freeCond
// to wait for free buffers, and frontMu guards the buffer
// being scanned out, which the commit handler updates from
// the display event goroutine.
type displayBackend struct {
	log      *slog.Logger
	disp     display.Display
	out      display.Output
	layer    display.Layer
	mode     display.Mode
	policy   ReleasePolicy
	fenceMax time.Duration
	flushMax time.Duration

	count  int
	width  int
	height int
	native bufq.Format

	q    *bufq.Queue
	bufs []*displayBuffer

	freeMu   sync.Mutex
	freeCond *sync.Cond
	freeDone bool

	frontMu   sync.Mutex
	flushCond *sync.Cond
	front     *displayBuffer
	inflight  int
	closed    bool

	dpms      display.DPMS
	dpmsSaved bool
}

func (c *Context) newDisplayBackend(s *surface, info *SwapchainInfo, native bufq.Format) (backend, error) {
	if !slices.Contains(displayPresentModes, info.PresentMode) {
		return nil, fmt.Errorf("%w: present mode %v", driver.ErrInitFailed, info.PresentMode)
	}
	m := s.mode
	b := &displayBackend{
		log:      c.log.With("backend", "display", "output", m.disp.out.Name()),
		disp:     m.disp.dev.disp,
		out:      m.disp.out,
		layer:    s.plane.layer,
		mode:     m.mode,
		policy:   c.cfg.ReleasePolicy,
		fenceMax: c.cfg.FenceWait,
		flushMax: c.cfg.FlushTimeout,
		count:    info.MinImageCount,
		width:    info.Extent.Width,
		height:   info.Extent.Height,
		native:   native,
	}
	b.freeCond = sync.NewCond(&b.freeMu)
	b.flushCond = sync.NewCond(&b.frontMu)
	return b, nil
}

func (b *displayBackend) buffers() ([]*bufq.Buffer, error) {
	q, err := bufq.New(b.count, b.width, b.height, b.native, bufq.UsageScanout)
	if err != nil {
		b.log.Error("buffer queue not created", "call", "bufq.New", "error", err)
		return nil, fmt.Errorf("%w: %v", driver.ErrNoDeviceMemory, err)
	}
	b.q = q

	// Cycle every buffer once.
	nbufs := make([]*bufq.Buffer, 0, b.count)
	for range b.count {
		nb, err := q.Dequeue()
		if err != nil {
			return nil, b.fail("bufq.Queue.Dequeue", err)
		}
		nbufs = append(nbufs, nb)
	}
	for _, nb := range nbufs {
		if err := q.Release(nb); err != nil {
			return nil, b.fail("bufq.Queue.Release", err)
		}
	}
	b.bufs = make([]*displayBuffer, b.count)
	for _, nb := range q.Buffers() {
		b.bufs[nb.ID()] = &displayBuffer{native: nb}
	}

	nb := q.Buffers()[0]
	err = b.layer.SetInfo(display.LayerInfo{
		SrcWidth:  nb.Stride() / nb.Format().Bpp(),
		SrcHeight: nb.Height(),
		SrcPos:    display.Rect{Width: nb.Width(), Height: nb.Height()},
		Format:    nb.Format(),
		DstPos:    display.Rect{Width: nb.Width(), Height: nb.Height()},
		Transform: display.TransformNormal,
	})
	if err != nil {
		return nil, b.fail("display.Layer.SetInfo", err)
	}

	dpms, err := b.out.DPMS()
	if err != nil {
		return nil, b.fail("display.Output.DPMS", err)
	}
	b.dpms, b.dpmsSaved = dpms, true
	if err := b.out.SetDPMS(display.DPMSOn); err != nil {
		return nil, b.fail("display.Output.SetDPMS", err)
	}
	if err := b.out.SetMode(b.mode); err != nil {
		return nil, b.fail("display.Output.SetMode", err)
	}
	return q.Buffers(), nil
}

func (b *displayBackend) fail(call string, err error) error {
	b.log.Error("display call failed", "call", call, "error", err)
	return fmt.Errorf("%w: %s: %v", driver.ErrSurfaceLost, call, err)
}

// waitFree waits until the queue has a free buffer. It
// must be called with freeMu held.
func (b *displayBackend) waitFree(timeout time.Duration, deadline time.Time) error {
	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()
	for !b.q.CanDequeue(false) {
		if b.freeDone {
			return fmt.Errorf("%w: swapchain destroyed", driver.ErrSurfaceLost)
		}
		if timeout == 0 || (timeout > 0 && !time.Now().Before(deadline)) {
			return driver.ErrTimeout
		}
		if timeout > 0 && t == nil {
			t = time.AfterFunc(time.Until(deadline), func() {
				b.freeMu.Lock()
				b.freeCond.Broadcast()
				b.freeMu.Unlock()
			})
		}
		b.freeCond.Wait()
	}
	return nil
}

// release returns nb to the free list and wakes waiters.
func (b *displayBackend) release(nb *bufq.Buffer) error {
	b.freeMu.Lock()
	defer b.freeMu.Unlock()
	if err := b.q.Release(nb); err != nil {
		return err
	}
	b.freeCond.Broadcast()
	return nil
}

func (b *displayBackend) acquire(timeout time.Duration, withSync bool) (*bufq.Buffer, int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	b.freeMu.Lock()
	if err := b.waitFree(timeout, deadline); err != nil {
		b.freeMu.Unlock()
		return nil, syncfd.NoFence, err
	}
	nb, err := b.q.Dequeue()
	b.freeMu.Unlock()
	if err != nil {
		return nil, syncfd.NoFence, b.fail("bufq.Queue.Dequeue", err)
	}

	db := b.bufs[nb.ID()]
	b.frontMu.Lock()
	target := db.presents
	b.frontMu.Unlock()
	if target == 0 || db.timeline.Value() >= target {
		return nb, syncfd.NoFence, nil
	}
	fd, err := db.timeline.Fence(target)
	if err != nil {
		b.release(nb)
		return nil, syncfd.NoFence, b.fail("syncfd.Timeline.Fence", err)
	}
	if withSync {
		return nb, fd, nil
	}

	// Nobody can wait on the fence for the caller.
	wait := timeout
	if timeout > 0 {
		if wait = time.Until(deadline); wait < 0 {
			wait = 0
		}
	}
	err = syncfd.Wait(fd, wait)
	syncfd.Close(fd)
	switch {
	case err == nil:
		return nb, syncfd.NoFence, nil
	case errors.Is(err, syncfd.ErrTimeout):
		b.release(nb)
		return nil, syncfd.NoFence, driver.ErrTimeout
	}
	b.release(nb)
	return nil, syncfd.NoFence, b.fail("syncfd.Wait", err)
}

func (b *displayBackend) present(_ driver.Queue, nb *bufq.Buffer, fence int) error {
	if fence >= 0 {
		if err := syncfd.Wait(fence, b.fenceMax); err != nil {
			b.log.Warn("present fence wait failed", "call", "syncfd.Wait", "error", err)
		}
		syncfd.Close(fence)
	}
	if err := b.q.Enqueue(nb); err != nil {
		b.cancel(nb)
		return b.fail("bufq.Queue.Enqueue", err)
	}
	next, err := b.q.Acquire()
	if err != nil {
		return b.fail("bufq.Queue.Acquire", err)
	}
	db := b.bufs[next.ID()]
	if err := b.layer.SetBuffer(next); err != nil {
		b.release(next)
		return b.fail("display.Layer.SetBuffer", err)
	}

	b.frontMu.Lock()
	db.presents++
	b.inflight++
	b.frontMu.Unlock()
	if err := b.out.Commit(func(seq uint64, _ time.Time) { b.committed(db, seq) }); err != nil {
		b.frontMu.Lock()
		db.presents--
		b.inflight--
		b.flushCond.Broadcast()
		b.frontMu.Unlock()
		b.release(next)
		return b.fail("display.Output.Commit", err)
	}
	if err := b.disp.HandleEvents(); err != nil {
		b.log.Warn("display events not handled", "call", "display.Display.HandleEvents", "error", err)
	}
	if b.policy == ReleaseOnHandoff {
		if err := b.release(next); err != nil {
			return b.fail("bufq.Queue.Release", err)
		}
	}
	return nil
}

func (b *displayBackend) cancel(nb *bufq.Buffer) {
	if b.q.State(nb) != bufq.Dequeued {
		return
	}
	if err := b.release(nb); err != nil {
		b.log.Warn("buffer not returned", "call", "bufq.Queue.Release", "error", err)
	}
}

// committed is the commit handler. db is the buffer the
// commit put on screen. Only the buffer it replaces has
// its timeline advanced.
func (b *displayBackend) committed(db *displayBuffer, seq uint64) {
	b.frontMu.Lock()
	defer b.frontMu.Unlock()
	b.inflight--
	b.flushCond.Broadcast()
	if b.closed {
		return
	}
	prev := b.front
	b.front = db
	if prev == nil {
		return
	}
	prev.timeline.Inc(1)
	if b.policy == ReleaseOnScanout {
		if err := b.release(prev.native); err != nil {
			b.log.Warn("scanout buffer not released", "call", "bufq.Queue.Release", "error", err)
		}
	}
	b.log.Debug("commit completed", "seq", seq, "front", db.native.ID(), "released", prev.native.ID())
}

// flush waits for outstanding commits, pumping display
// events, for at most flushMax.
func (b *displayBackend) flush() {
	deadline := time.Now().Add(b.flushMax)
	b.frontMu.Lock()
	defer b.frontMu.Unlock()
	for b.inflight > 0 {
		if !time.Now().Before(deadline) {
			b.log.Warn("commits still pending on teardown", "pending", b.inflight)
			break
		}
		b.frontMu.Unlock()
		b.disp.HandleEvents()
		time.Sleep(time.Millisecond)
		b.frontMu.Lock()
	}
	b.closed = true
}

func (b *displayBackend) deinit() {
	if b.q != nil {
		b.flush()
		if err := b.layer.SetBuffer(nil); err != nil {
			b.log.Warn("layer not cleared", "call", "display.Layer.SetBuffer", "error", err)
		}
	}
	if b.dpmsSaved {
		if err := b.out.SetDPMS(b.dpms); err != nil {
			b.log.Warn("power state not restored", "call", "display.Output.SetDPMS", "error", err)
		}
	}
	b.freeMu.Lock()
	b.freeDone = true
	b.freeCond.Broadcast()
	b.freeMu.Unlock()
	for _, db := range b.bufs {
		db.timeline.Close()
	}
	if b.q != nil {
		if err := b.q.Destroy(); err != nil {
			b.log.Warn("buffer queue not destroyed", "call", "bufq.Queue.Destroy", "error", err)
		}
	}
}
