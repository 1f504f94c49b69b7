// Package ringchan provides a bounded, overwrite-oldest channel used to
// publish events to observers without ever blocking the publisher.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full, the oldest element is
// discarded. Consumers read from C() like a normal channel.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	// rc.C() now yields 7, 8, 9
type RingChannel[T any] struct {
	ch     chan T
	closed atomic.Bool

	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest if the buffer is full.
// Reports whether an element was dropped. Send on a closed channel is a no-op.
//
// Concurrent senders are safe; at worst a sender racing a full buffer drops
// one extra element.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	if rc.closed.Load() {
		return false
	}
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Later sends are dropped silently.
// The caller must ensure no Send is in flight.
func (rc *RingChannel[T]) Close() {
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// Written returns the number of elements ever accepted.
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}

// Overwritten returns the number of elements discarded to make room.
func (rc *RingChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}
