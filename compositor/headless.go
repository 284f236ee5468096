// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package compositor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gviegas/present/bufq"
	"github.com/gviegas/present/internal/logging"
	"github.com/gviegas/present/syncfd"
)

// HeadlessConfig configures a Headless session.
type HeadlessConfig struct {
	// Refresh is the refresh period. Zero means 16ms.
	Refresh time.Duration

	// MaxBuffers bounds the buffer count of a swapchain.
	// Zero means 8.
	MaxBuffers int

	// FenceWait bounds the wait on enqueue fences.
	// Zero means one second.
	FenceWait time.Duration

	// Sink, if not nil, receives every buffer shown.
	Sink Sink

	// Logger defaults to the shared logger.
	Logger *slog.Logger
}

// Headless is an in-process compositor Session.
// Each swapchain is driven by its own goroutine, which
// latches enqueued buffers according to the present mode.
type Headless struct {
	cfg  HeadlessConfig
	log  *slog.Logger
	refs atomic.Int32
	lost atomic.Bool
}

// NewHeadless creates a Headless session with one
// reference.
func NewHeadless(cfg HeadlessConfig) *Headless {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 16 * time.Millisecond
	}
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = 8
	}
	if cfg.FenceWait <= 0 {
		cfg.FenceWait = time.Second
	}
	h := &Headless{cfg: cfg, log: cfg.Logger}
	if h.log == nil {
		h.log = logging.L()
	}
	h.refs.Store(1)
	return h
}

// Ref implements Session.
func (h *Headless) Ref() { h.refs.Add(1) }

// Unref implements Session.
func (h *Headless) Unref() {
	switch n := h.refs.Add(-1); {
	case n == 0:
		h.lost.Store(true)
		h.log.Debug("compositor session released")
	case n < 0:
		panic("compositor: invalid call to Unref")
	}
}

// Refs returns the reference count.
func (h *Headless) Refs() int { return int(h.refs.Load()) }

// CreateSurface implements Session.
func (h *Headless) CreateSurface(win Window, typ SurfaceType, format bufq.Format) (Surface, error) {
	if h.lost.Load() {
		return nil, ErrLost
	}
	if win == nil || typ != SurfaceWindow || format.Bpp() == 0 {
		return nil, ErrInvalid
	}
	h.Ref()
	s := &hSurface{h: h, win: win, format: format}
	s.refs.Store(1)
	return s, nil
}

type hSurface struct {
	h      *Headless
	win    Window
	format bufq.Format
	refs   atomic.Int32

	mu sync.Mutex
	sc *hSwapchain
}

func (s *hSurface) Ref() { s.refs.Add(1) }

func (s *hSurface) Unref() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		s.DestroySwapchain()
		s.h.Unref()
	case n < 0:
		panic("compositor: invalid call to Unref")
	}
}

func (s *hSurface) swapchain() (*hSwapchain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.lost.Load() {
		return nil, ErrLost
	}
	if s.sc == nil {
		return nil, ErrNoSwapchain
	}
	return s.sc, nil
}

func (s *hSurface) CreateSwapchain(format bufq.Format, width, height, count int, mode PresentMode) error {
	if mode < Immediate || mode > FIFORelaxed || width < 1 || height < 1 || count < 1 {
		return ErrInvalid
	}
	if count > s.h.cfg.MaxBuffers {
		return ErrOutOfMemory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.lost.Load() {
		return ErrLost
	}
	if s.sc != nil {
		s.sc.destroy()
		s.sc = nil
	}
	q, err := bufq.New(count, width, height, format, bufq.UsageDefault)
	if err != nil {
		return ErrInvalid
	}
	sc := &hSwapchain{
		s:      s,
		q:      q,
		mode:   mode,
		fences: make([]int, count),
		frame:  make(chan struct{}, 1),
		avail:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range sc.fences {
		sc.fences[i] = syncfd.NoFence
	}
	sc.wg.Add(1)
	go sc.run()
	s.sc = sc
	s.h.log.Debug("compositor swapchain created", "count", count, "mode", mode, "format", format)
	return nil
}

func (s *hSurface) SwapchainBuffers() ([]*bufq.Buffer, error) {
	sc, err := s.swapchain()
	if err != nil {
		return nil, err
	}
	return sc.q.Buffers(), nil
}

func (s *hSurface) DequeueBuffer(timeout time.Duration) (*bufq.Buffer, error) {
	sc, err := s.swapchain()
	if err != nil {
		return nil, err
	}
	return sc.dequeue(timeout)
}

func (s *hSurface) DequeueBufferWithSync(timeout time.Duration) (*bufq.Buffer, int, error) {
	sc, err := s.swapchain()
	if err != nil {
		return nil, syncfd.NoFence, err
	}
	buf, err := sc.dequeue(timeout)
	if err != nil {
		return nil, syncfd.NoFence, err
	}
	// Buffers reach the free list only after the sink is
	// done reading them.
	return buf, syncfd.NoFence, nil
}

func (s *hSurface) EnqueueBuffer(buf *bufq.Buffer, fence int) error {
	sc, err := s.swapchain()
	if err != nil {
		syncfd.Close(fence)
		return err
	}
	return sc.enqueue(buf, fence)
}

func (s *hSurface) CancelDequeueBuffer(buf *bufq.Buffer) error {
	sc, err := s.swapchain()
	if err != nil {
		return err
	}
	return sc.cancel(buf)
}

func (s *hSurface) DestroySwapchain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sc == nil {
		return ErrNoSwapchain
	}
	s.sc.destroy()
	s.sc = nil
	return nil
}

// Stats returns the number of buffers shown and dropped
// by the swapchain of sf, which must be a surface of a
// Headless session.
func Stats(sf Surface) (shown, dropped int) {
	sc, err := sf.(*hSurface).swapchain()
	if err != nil {
		return 0, 0
	}
	return int(sc.shown.Load()), int(sc.dropped.Load())
}

type hSwapchain struct {
	s    *hSurface
	q    *bufq.Queue
	mode PresentMode

	fmu    sync.Mutex
	fences []int

	frame chan struct{}
	avail chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	// Owned by run.
	front *bufq.Buffer

	shown   atomic.Int64
	dropped atomic.Int64
}

func poke(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

func (sc *hSwapchain) dequeue(timeout time.Duration) (*bufq.Buffer, error) {
	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	for {
		buf, err := sc.q.Dequeue()
		switch err {
		case nil:
			if sc.q.CanDequeue(false) {
				poke(sc.avail)
			}
			return buf, nil
		case bufq.ErrEmpty:
		default:
			return nil, ErrLost
		}
		if timeout == 0 {
			return nil, ErrTimeout
		}
		select {
		case <-sc.avail:
		case <-sc.done:
			return nil, ErrLost
		case <-expire:
			return nil, ErrTimeout
		}
	}
}

func (sc *hSwapchain) enqueue(buf *bufq.Buffer, fence int) error {
	if err := sc.q.Enqueue(buf); err != nil {
		syncfd.Close(fence)
		return ErrInvalid
	}
	sc.fmu.Lock()
	syncfd.Close(sc.fences[buf.ID()])
	sc.fences[buf.ID()] = fence
	sc.fmu.Unlock()
	poke(sc.frame)
	return nil
}

func (sc *hSwapchain) cancel(buf *bufq.Buffer) error {
	if buf == nil || sc.q.State(buf) != bufq.Dequeued {
		return ErrInvalid
	}
	if err := sc.q.Release(buf); err != nil {
		return ErrInvalid
	}
	poke(sc.avail)
	return nil
}

// run is the compositor loop of the swapchain.
func (sc *hSwapchain) run() {
	defer sc.wg.Done()
	tick := time.NewTicker(sc.s.h.cfg.Refresh)
	defer tick.Stop()
	late := false
	for {
		select {
		case <-sc.done:
			return
		case <-sc.frame:
			switch sc.mode {
			case Immediate:
				sc.latch(false)
			case FIFORelaxed:
				if late && sc.latch(false) {
					late = false
				}
			}
		case <-tick.C:
			switch sc.mode {
			case Immediate:
				sc.latch(false)
			case Mailbox:
				sc.latch(true)
			case FIFO:
				sc.latch(false)
			case FIFORelaxed:
				late = !sc.latch(false)
			}
		}
	}
}

// latch shows the next enqueued buffer. If newest is true,
// older enqueued buffers are dropped instead.
// It reports whether a buffer was shown.
func (sc *hSwapchain) latch(newest bool) bool {
	buf, err := sc.q.Acquire()
	if err != nil {
		return false
	}
	for newest {
		next, err := sc.q.Acquire()
		if err != nil {
			break
		}
		sc.waitFence(buf)
		sc.q.Release(buf)
		sc.dropped.Add(1)
		buf = next
	}
	sc.waitFence(buf)
	if sink := sc.s.h.cfg.Sink; sink != nil {
		if err := sink.Show(sc.s.win, buf); err != nil {
			sc.s.h.log.Warn("compositor sink failed", "call", "Sink.Show", "error", err)
		}
	}
	if sc.front != nil {
		sc.q.Release(sc.front)
	}
	sc.front = buf
	sc.shown.Add(1)
	poke(sc.avail)
	if sc.mode == Immediate && sc.q.CanAcquire(false) {
		poke(sc.frame)
	}
	return true
}

func (sc *hSwapchain) waitFence(buf *bufq.Buffer) {
	sc.fmu.Lock()
	fd := sc.fences[buf.ID()]
	sc.fences[buf.ID()] = syncfd.NoFence
	sc.fmu.Unlock()
	if fd < 0 {
		return
	}
	if err := syncfd.Wait(fd, sc.s.h.cfg.FenceWait); err != nil {
		sc.s.h.log.Warn("enqueue fence wait failed", "call", "syncfd.Wait", "error", err)
	}
	syncfd.Close(fd)
}

func (sc *hSwapchain) destroy() {
	close(sc.done)
	sc.wg.Wait()
	sc.fmu.Lock()
	for i, fd := range sc.fences {
		syncfd.Close(fd)
		sc.fences[i] = syncfd.NoFence
	}
	sc.fmu.Unlock()
	sc.q.Destroy()
}
