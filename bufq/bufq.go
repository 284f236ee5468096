// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package bufq implements a native buffer queue.
//
// A queue owns a fixed set of pixel buffers and moves each of
// them through four states. A producer dequeues a free buffer,
// fills it and enqueues it. A consumer acquires the oldest
// enqueued buffer, displays it and releases it back to the free
// list. Every method is safe for concurrent use.
package bufq

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrEmpty means that no buffer is available for the
	// requested transition.
	ErrEmpty = errors.New("bufq: no buffer available")

	// ErrState means that a buffer is not in the state
	// the transition requires.
	ErrState = errors.New("bufq: invalid buffer state")

	// ErrDestroyed means that the queue was destroyed.
	ErrDestroyed = errors.New("bufq: queue destroyed")

	// ErrParam means that New was called with invalid
	// arguments.
	ErrParam = errors.New("bufq: invalid parameter")
)

// State is the state of a buffer within its queue.
type State int

// Buffer states.
const (
	Free State = iota
	Dequeued
	Enqueued
	Acquired
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Dequeued:
		return "dequeued"
	case Enqueued:
		return "enqueued"
	case Acquired:
		return "acquired"
	}
	return "invalid"
}

var nextHandle atomic.Uint64

// Buffer is a pixel buffer owned by a Queue.
type Buffer struct {
	q      *Queue
	id     int
	handle uint64
	width  int
	height int
	stride int
	format Format
	data   []byte

	// Guarded by q.mu.
	state State
}

// ID returns the index of b within its queue.
func (b *Buffer) ID() int { return b.id }

// Handle returns a process-wide unique identifier for b.
func (b *Buffer) Handle() uint64 { return b.handle }

// Width returns the width of b in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the height of b in pixels.
func (b *Buffer) Height() int { return b.height }

// Stride returns the length of a row of b in bytes.
func (b *Buffer) Stride() int { return b.stride }

// Format returns the pixel format of b.
func (b *Buffer) Format() Format { return b.format }

// Bytes returns the pixel storage of b.
// Only the current owner of b may access it.
func (b *Buffer) Bytes() []byte { return b.data }

// Size returns len(b.Bytes()).
func (b *Buffer) Size() int { return len(b.data) }

// Queue is a native buffer queue.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	bufs      []*Buffer
	free      []*Buffer
	enqueued  []*Buffer
	usage     Usage
	destroyed bool
}

// New creates a queue with count buffers of the given
// dimensions and format.
func New(count, width, height int, format Format, usage Usage) (*Queue, error) {
	bpp := format.Bpp()
	if count < 1 || width < 1 || height < 1 || bpp == 0 {
		return nil, ErrParam
	}
	q := &Queue{
		bufs:  make([]*Buffer, count),
		free:  make([]*Buffer, 0, count),
		usage: usage,
	}
	q.cond = sync.NewCond(&q.mu)
	stride := width * bpp
	for i := range q.bufs {
		b := &Buffer{
			q:      q,
			id:     i,
			handle: nextHandle.Add(1),
			width:  width,
			height: height,
			stride: stride,
			format: format,
			data:   make([]byte, stride*height),
		}
		q.bufs[i] = b
		q.free = append(q.free, b)
	}
	return q, nil
}

// Size returns the number of buffers in q.
func (q *Queue) Size() int { return len(q.bufs) }

// Usage returns the usage flags q was created with.
func (q *Queue) Usage() Usage { return q.usage }

// Buffers returns every buffer of q, indexed by ID.
func (q *Queue) Buffers() []*Buffer {
	bufs := make([]*Buffer, len(q.bufs))
	copy(bufs, q.bufs)
	return bufs
}

// State returns the current state of b.
func (q *Queue) State(b *Buffer) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return b.state
}

func (q *Queue) check(b *Buffer) error {
	if q.destroyed {
		return ErrDestroyed
	}
	if b == nil || b.q != q {
		return ErrParam
	}
	return nil
}

// Dequeue removes the oldest free buffer from q.
// It fails with ErrEmpty if no buffer is free.
func (q *Queue) Dequeue() (*Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return nil, ErrDestroyed
	}
	if len(q.free) == 0 {
		return nil, ErrEmpty
	}
	b := q.free[0]
	q.free = q.free[1:]
	b.state = Dequeued
	return b, nil
}

// Enqueue hands a dequeued buffer over to the consumer side.
func (q *Queue) Enqueue(b *Buffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.check(b); err != nil {
		return err
	}
	if b.state != Dequeued {
		return ErrState
	}
	b.state = Enqueued
	q.enqueued = append(q.enqueued, b)
	q.cond.Broadcast()
	return nil
}

// Acquire removes the oldest enqueued buffer from q.
// It fails with ErrEmpty if nothing was enqueued.
func (q *Queue) Acquire() (*Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return nil, ErrDestroyed
	}
	if len(q.enqueued) == 0 {
		return nil, ErrEmpty
	}
	b := q.enqueued[0]
	q.enqueued = q.enqueued[1:]
	b.state = Acquired
	return b, nil
}

// Release returns b to the free list.
// b must have been acquired or dequeued.
func (q *Queue) Release(b *Buffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.check(b); err != nil {
		return err
	}
	if b.state != Acquired && b.state != Dequeued {
		return ErrState
	}
	b.state = Free
	q.free = append(q.free, b)
	q.cond.Broadcast()
	return nil
}

// CanDequeue reports whether a buffer is free.
// If wait is true, it blocks until a buffer becomes free or
// q is destroyed.
func (q *Queue) CanDequeue(wait bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for wait && len(q.free) == 0 && !q.destroyed {
		q.cond.Wait()
	}
	return len(q.free) > 0 && !q.destroyed
}

// CanAcquire reports whether a buffer is enqueued.
// If wait is true, it blocks until a buffer is enqueued or
// q is destroyed.
func (q *Queue) CanAcquire(wait bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for wait && len(q.enqueued) == 0 && !q.destroyed {
		q.cond.Wait()
	}
	return len(q.enqueued) > 0 && !q.destroyed
}

// Destroy destroys q.
// Blocked CanDequeue/CanAcquire calls return false.
// Destroying q twice fails with ErrDestroyed.
func (q *Queue) Destroy() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return ErrDestroyed
	}
	q.destroyed = true
	q.free = nil
	q.enqueued = nil
	for _, b := range q.bufs {
		b.data = nil
	}
	q.cond.Broadcast()
	return nil
}

// Destroyed reports whether Destroy was called.
func (q *Queue) Destroyed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destroyed
}
