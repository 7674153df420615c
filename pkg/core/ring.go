// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

// Ring is a fixed-capacity FIFO buffer. Pushing into a full ring evicts the
// oldest element. Ring is not safe for concurrent use; owners guard it with
// their own lock.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// NewRing creates a ring holding at most capacity elements. A capacity below
// one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v and reports whether an element was evicted.
func (r *Ring[T]) Push(v T) (evicted bool) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th element, oldest first.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Items returns a copy of the elements, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Last returns up to n most recent elements, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - n + i)
	}
	return out
}

// Filter keeps only elements for which keep returns true and returns how many
// were dropped. Order is preserved.
func (r *Ring[T]) Filter(keep func(T) bool) int {
	items := r.Items()
	r.Clear()
	dropped := 0
	for _, v := range items {
		if keep(v) {
			r.Push(v)
			continue
		}
		dropped++
	}
	return dropped
}

// Clear removes every element.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.size = 0
}
