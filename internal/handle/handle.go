// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package handle implements a registry that maps opaque
// handles to values.
// Handles carry a generation counter, so a handle whose
// value was removed is never mistaken for a live one, even
// after its slot is reused.
package handle

import (
	"errors"
	"sync"
)

// H is an opaque handle.
// The zero H is never valid.
type H uint64

// ErrInvalid means that a handle does not refer to a live
// value in the registry.
var ErrInvalid = errors.New("handle: invalid handle")

func (h H) index() int     { return int(uint32(h)) - 1 }
func (h H) gen() uint32    { return uint32(h >> 32) }
func mk(i int, g uint32) H { return H(uint64(g)<<32 | uint64(uint32(i+1))) }

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// Registry stores values of type T behind handles.
// It is safe for concurrent use.
// The zero value is ready to use.
type Registry[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []int
	n     int
}

// Add stores v and returns a new handle for it.
func (r *Registry[T]) Add(v T) H {
	r.mu.Lock()
	defer r.mu.Unlock()
	var i int
	if n := len(r.free); n > 0 {
		i = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		i = len(r.slots)
		r.slots = append(r.slots, slot[T]{})
	}
	s := &r.slots[i]
	s.gen++
	s.val = v
	s.live = true
	r.n++
	return mk(i, s.gen)
}

func (r *Registry[T]) lookup(h H) (*slot[T], error) {
	i := h.index()
	if i < 0 || i >= len(r.slots) {
		return nil, ErrInvalid
	}
	s := &r.slots[i]
	if !s.live || s.gen != h.gen() {
		return nil, ErrInvalid
	}
	return s, nil
}

// Get returns the value h refers to.
func (r *Registry[T]) Get(h H) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.val, nil
}

// Remove invalidates h and returns the value it referred to.
// Removing the same handle twice fails with ErrInvalid.
func (r *Registry[T]) Remove(h H) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	s, err := r.lookup(h)
	if err != nil {
		return zero, err
	}
	v := s.val
	s.val = zero
	s.live = false
	r.free = append(r.free, h.index())
	r.n--
	return v, nil
}

// Len returns the number of live values.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Each calls f for every live value, in slot order.
// f must not call methods of r.
func (r *Registry[T]) Each(f func(H, T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if s := &r.slots[i]; s.live {
			f(mk(i, s.gen), s.val)
		}
	}
}
