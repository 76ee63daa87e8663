package can

import "sync/atomic"

// DefaultRingCapacity is the number of frames buffered between the interrupt
// path and the consumer when no capacity is configured.
const DefaultRingCapacity = 30

// Ring is a fixed-capacity FIFO of frames with exactly one writer (the
// receive dispatcher) and one reader (the consumer).
//
// The writer owns tail, the reader owns head. Occupancy is the only field
// both sides touch and it is accessed atomically: the writer publishes a slot
// by incrementing it after the store, the reader releases a slot by
// decrementing it after the load.
type Ring struct {
	buf  []Frame
	head uint32
	tail uint32
	size atomic.Uint32
}

// NewRing creates a ring holding up to capacity frames.
// A capacity below 1 selects DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]Frame, capacity)}
}

// Push appends a frame. When the ring is full the frame is dropped, existing
// entries are left untouched and Push reports false.
func (r *Ring) Push(f Frame) bool {
	n := uint32(len(r.buf))
	if r.size.Load() == n {
		return false
	}
	r.buf[r.tail] = f
	r.tail = (r.tail + 1) % n
	r.size.Add(1)
	return true
}

// Pop removes the oldest frame. The second result is false when the ring is
// empty, in which case the returned frame is the zero value.
func (r *Ring) Pop() (Frame, bool) {
	if r.size.Load() == 0 {
		return Frame{}, false
	}
	f := r.buf[r.head]
	r.head = (r.head + 1) % uint32(len(r.buf))
	r.size.Add(^uint32(0))
	return f, true
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	return int(r.size.Load())
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Full reports whether a Push would be dropped.
func (r *Ring) Full() bool {
	return r.size.Load() == uint32(len(r.buf))
}

// Reset empties the ring. It must not race with Push or Pop; callers run it
// during initialization, before the interrupt handler is armed or while the
// interrupt source is masked.
func (r *Ring) Reset() {
	r.head = 0
	r.tail = 0
	r.size.Store(0)
}
