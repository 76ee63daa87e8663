package mcp2515

import (
	"mcpcan/can"
	"mcpcan/core"
)

// Dispatch drains every pending receive buffer. It is the body of the
// controller's interrupt handler and must run with the main context
// excluded: from the interrupt itself on the MCU, or with the Guard held
// when the interrupt is emulated on another goroutine.
//
// When both buffers are pending channel 1 is serviced first. Each frame is
// queued for the attached Handler if there is one, otherwise appended to
// the receive ring. A frame that does not fit is still read, which clears
// the controller's flag, and then discarded.
//
// Dispatch returns only once the controller reports nothing pending, since
// the interrupt line stays asserted while any receive flag is set.
func (d *Device) Dispatch() error {
	for {
		st, err := d.chip.RxStatus()
		if err != nil {
			return err
		}
		avail := st.Available()
		if avail == 0 {
			return nil
		}
		n, _ := bufferFor(avail)

		var f can.Frame
		if err := d.chip.recv(n, &f); err != nil {
			return err
		}
		d.deliver(uint8(n+1), f)
	}
}

// DrainPending runs Dispatch with the Guard held if INT is still asserted,
// and does nothing otherwise. An edge-triggered handler gets no new edge
// after a drain cut short by a bus error, so the main loop calls this to
// finish it.
func (d *Device) DrainPending() error {
	if !d.InterruptPending() {
		return nil
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.Dispatch()
}

func (d *Device) deliver(channel uint8, f can.Frame) {
	if d.attached.Load() {
		if d.cbq.Push(f) {
			d.trace.Record(core.EvtCallback, channel, f.ID, f.Len)
			return
		}
	} else if d.rx.Push(f) {
		d.trace.Record(core.EvtRecv, channel, f.ID, f.Len)
		return
	}
	d.dropped.Add(1)
	d.trace.Record(core.EvtDrop, channel, f.ID, f.Len)
}

// Dropped returns how many frames were discarded for lack of room since
// the Device was created. It wraps at 2^32.
func (d *Device) Dropped() uint32 {
	return d.dropped.Load()
}

// Read pops the oldest buffered frame. ok is false when none is buffered.
func (d *Device) Read() (f can.Frame, ok bool) {
	return d.rx.Pop()
}

// Buffered returns the number of frames waiting in the receive ring.
func (d *Device) Buffered() int {
	return d.rx.Len()
}

// Attach routes every frame dispatched from now on to h instead of the
// receive ring. The interrupt path only queues frames; h runs from
// ServiceCallbacks in the main context.
func (d *Device) Attach(h Handler) {
	if h == nil {
		d.Detach()
		return
	}
	s := d.guard.Enter()
	d.handler = h
	d.attached.Store(true)
	d.guard.Exit(s)
}

// Detach returns to ring delivery for frames dispatched from now on.
// Frames already queued for a handler are still handed to the last
// attached handler by ServiceCallbacks.
func (d *Device) Detach() {
	s := d.guard.Enter()
	d.attached.Store(false)
	d.guard.Exit(s)
}

// ServiceCallbacks invokes the attached handler for every queued frame and
// returns how many were delivered. Call it from the main loop, never from
// inside Dispatch. Attach, Detach and ServiceCallbacks share the handler
// without locking, so they belong to one goroutine or are ordered by the
// caller.
func (d *Device) ServiceCallbacks() int {
	delivered := 0
	for {
		f, ok := d.cbq.Pop()
		if !ok {
			break
		}
		if d.handler != nil {
			d.handler(f)
			delivered++
		}
	}
	if !d.attached.Load() && d.cbq.Len() == 0 {
		d.handler = nil
	}
	return delivered
}

// Attached reports whether a handler receives dispatched frames.
func (d *Device) Attached() bool {
	return d.attached.Load()
}
