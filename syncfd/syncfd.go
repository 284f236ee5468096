// Copyright 2022 Gustavo C. Viegas. All rights reserved.

//go:build unix

// Package syncfd implements sync fences as file descriptors.
//
// A fence descriptor becomes readable once signaled. Fences are
// created from a Timeline, which signals every fence whose
// target value has been reached.
package syncfd

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// NoFence is the descriptor value meaning "no fence".
const NoFence = -1

var (
	// ErrTimeout means that a fence did not signal in time.
	ErrTimeout = errors.New("syncfd: timeout")

	// ErrClosed means that a timeline was closed.
	ErrClosed = errors.New("syncfd: timeline closed")
)

// signal makes the event behind fd readable.
func signal(fd int) error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	for {
		_, err := unix.Write(fd, b[:])
		if err != unix.EINTR {
			return err
		}
	}
}

// NewSignaled returns a fence descriptor that is already
// signaled.
func NewSignaled() (int, error) {
	wait, sig, err := newEvent()
	if err != nil {
		return NoFence, err
	}
	defer unix.Close(sig)
	if err := signal(sig); err != nil {
		unix.Close(wait)
		return NoFence, err
	}
	return wait, nil
}

// Wait blocks until fd signals or timeout elapses.
// A negative timeout waits forever.
// Waiting on NoFence returns immediately.
func Wait(fd int, timeout time.Duration) error {
	if fd < 0 {
		return nil
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		ms := -1
		if timeout >= 0 {
			rem := time.Until(deadline)
			if rem < 0 {
				rem = 0
			}
			ms = int((rem + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(pfd, ms)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return err
		case n > 0:
			return nil
		case timeout >= 0 && !time.Now().Before(deadline):
			return ErrTimeout
		}
	}
}

// Signaled reports whether fd has signaled.
func Signaled(fd int) bool { return Wait(fd, 0) == nil }

// Close closes fd.
// Closing NoFence has no effect.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// Timeline is a monotonic counter that fence descriptors
// can be created against.
// The zero value is ready to use, starting at zero.
// It is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	value   uint64
	pending []pending
	closed  bool
}

type pending struct {
	target uint64
	sig    int
}

// Value returns the current value of t.
func (t *Timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Pending returns the number of fences not yet signaled.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Fence returns a descriptor that signals once t reaches
// value. The caller owns the descriptor and must close it.
func (t *Timeline) Fence(value uint64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return NoFence, ErrClosed
	}
	wait, sig, err := newEvent()
	if err != nil {
		return NoFence, err
	}
	if value <= t.value {
		err = signal(sig)
		unix.Close(sig)
		if err != nil {
			unix.Close(wait)
			return NoFence, err
		}
		return wait, nil
	}
	t.pending = append(t.pending, pending{value, sig})
	return wait, nil
}

// Inc advances t by n, signaling every fence whose target
// has been reached.
func (t *Timeline) Inc(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value += n
	t.flush(false)
}

func (t *Timeline) flush(all bool) {
	keep := t.pending[:0]
	for _, p := range t.pending {
		if all || p.target <= t.value {
			signal(p.sig)
			unix.Close(p.sig)
			continue
		}
		keep = append(keep, p)
	}
	t.pending = keep
}

// Close signals every pending fence and invalidates t for
// further Fence calls.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush(true)
	t.closed = true
}
