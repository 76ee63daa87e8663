// Package mcp2515 drives a Microchip MCP2515 CAN controller over SPI.
//
// A Device has two callers. The interrupt handler calls Dispatch whenever
// the controller pulls its interrupt line low; everything else runs in the
// main context. Main-context calls hold the Device's Guard for their bus
// transactions so they never interleave with one issued by Dispatch.
package mcp2515

import (
	"errors"
	"sync/atomic"
	"time"

	"mcpcan/can"
	"mcpcan/core"
)

// DefaultResetDelay is how long the controller is given to come out of reset.
const DefaultResetDelay = 10 * time.Millisecond

// Config describes how a Device reaches its controller.
type Config struct {
	Bus    core.SPIBus     // Byte-transfer primitive
	GPIO   core.GPIODriver // Drives chip select, reads the interrupt line
	CSPin  core.GPIOPin    // Chip select, active low
	IntPin core.GPIOPin    // Controller INT output, active low

	// Guard masks the interrupt handler around main-context transactions.
	// Defaults to core.IRQGuard.
	Guard core.Guard

	// BufferSize is the receive ring capacity. Defaults to can.DefaultRingCapacity.
	BufferSize int

	// ResetDelay defaults to DefaultResetDelay.
	ResetDelay time.Duration

	// Sleep is the busy-wait primitive used after reset. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Handler receives frames when attached with Attach.
type Handler func(can.Frame)

// Device is one MCP2515 with its receive buffering.
type Device struct {
	chip   *Chip
	gpio   core.GPIODriver
	intPin core.GPIOPin
	guard  core.Guard

	rx  *can.Ring // Dispatch writes, Read drains
	cbq *can.Ring // Dispatch writes, ServiceCallbacks drains

	attached atomic.Bool // read by Dispatch
	handler  Handler     // main context only
	dropped  atomic.Uint32

	trace      *core.TraceRing
	resetDelay time.Duration
	sleep      func(time.Duration)
}

// New configures chip select and the interrupt input and returns a Device.
// No controller registers are touched until Initialize.
func New(cfg Config) (*Device, error) {
	spi, err := core.NewSPIDevice(cfg.Bus, cfg.GPIO, cfg.CSPin, 0)
	if err != nil {
		return nil, err
	}
	if err := cfg.GPIO.ConfigureInputPullUp(cfg.IntPin); err != nil {
		return nil, err
	}

	d := &Device{
		chip:       NewChip(spi),
		gpio:       cfg.GPIO,
		intPin:     cfg.IntPin,
		guard:      cfg.Guard,
		rx:         can.NewRing(cfg.BufferSize),
		cbq:        can.NewRing(cfg.BufferSize),
		trace:      core.NewTraceRing(),
		resetDelay: cfg.ResetDelay,
		sleep:      cfg.Sleep,
	}
	if d.guard == nil {
		d.guard = core.IRQGuard{}
	}
	if d.resetDelay == 0 {
		d.resetDelay = DefaultResetDelay
	}
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	return d, nil
}

// Initialize optionally resets the controller, programs the bit rate,
// enables receive interrupts for both buffers and enters normal mode.
// The receive ring is emptied.
//
// An unsupported rate is rejected before anything is written.
func (d *Device) Initialize(khz int, reset bool) error {
	if _, ok := LookupTiming(khz); !ok {
		return ErrUnsupportedBitrate
	}
	if reset {
		if err := d.HardReset(); err != nil {
			return err
		}
	}

	s := d.guard.Enter()
	defer d.guard.Exit(s)

	if err := d.chip.setBitrate(khz); err != nil {
		return err
	}
	if err := d.chip.Write(CANINTE, IntRX0IE|IntRX1IE); err != nil {
		return err
	}
	if err := d.chip.Write(CANCTRL, ModeNormal); err != nil {
		return err
	}
	d.rx.Reset()
	d.cbq.Reset()

	core.DebugPrintln("[CAN] initialized at " + core.Itoa(khz) + " kbit/s")
	return nil
}

// SetBitrate programs the timing registers for a rate in kbit/s.
// The controller only accepts timing changes in configuration mode.
func (d *Device) SetBitrate(khz int) error {
	if _, ok := LookupTiming(khz); !ok {
		return ErrUnsupportedBitrate
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.setBitrate(khz)
}

// HardReset sends the reset instruction and waits for the controller to
// restart. The bus is only held for the reset transaction itself.
func (d *Device) HardReset() error {
	s := d.guard.Enter()
	_, err := d.chip.Reset()
	d.trace.Record(core.EvtReset, 0, 0, 0)
	d.guard.Exit(s)
	if err != nil {
		return err
	}
	d.sleep(d.resetDelay)
	return nil
}

// AvailableChannels reports pending receive channels: 0 none, 1 channel 1,
// 2 channel 2, 3 both.
func (d *Device) AvailableChannels() (int, error) {
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	st, err := d.chip.RxStatus()
	if err != nil {
		return 0, err
	}
	return st.Available(), nil
}

// InterruptPending reports whether the controller is asserting INT.
func (d *Device) InterruptPending() bool {
	return !d.gpio.ReadPin(d.intPin)
}

// Send queues a frame in the first free transmit buffer and requests its
// transmission. Payloads longer than 8 bytes are truncated. An identifier
// above 11 bits returns can.ErrInvalidID without touching the bus.
// ErrTxBusy means every buffer is still pending; retrying is up to the
// caller.
func (d *Device) Send(f can.Frame) error {
	if f.ID > can.MaxID {
		return can.ErrInvalidID
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	n, err := d.chip.send(&f)
	if errors.Is(err, ErrTxBusy) {
		d.trace.Record(core.EvtSendBusy, 0, f.ID, f.Len)
		return err
	}
	if err != nil {
		return err
	}
	d.trace.Record(core.EvtSend, uint8(n), f.ID, f.Len)
	return nil
}

// Receive reads the frame held by a receive channel. Channel 3 is read as
// channel 1, so the result of AvailableChannels can be passed directly.
// The caller must know a frame is pending; otherwise stale buffer contents
// are returned.
func (d *Device) Receive(channel int, f *can.Frame) error {
	n, err := bufferFor(channel)
	if err != nil {
		return err
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.recv(n, f)
}

// bufferFor maps a receive channel to its hardware buffer index.
func bufferFor(channel int) (int, error) {
	switch channel {
	case 1, 3:
		return 0, nil
	case 2:
		return 1, nil
	default:
		return 0, ErrInvalidChannel
	}
}

// SetFilter programs acceptance filter index of a channel with id.
// Channel 1 has filters 1-2, channel 2 has filters 1-4.
func (d *Device) SetFilter(channel, index int, id uint16) error {
	reg, err := filterRegister(channel, index)
	if err != nil {
		return err
	}
	if id > can.MaxID {
		return can.ErrInvalidID
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.writeID(reg, id)
}

// SetMask programs the acceptance mask of a channel. A zero mask accepts
// every identifier.
func (d *Device) SetMask(channel int, id uint16) error {
	reg, err := maskRegister(channel)
	if err != nil {
		return err
	}
	if id > can.MaxID {
		return can.ErrInvalidID
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.writeID(reg, id)
}

// EnableFiltering makes both receive buffers honor their filters and masks.
func (d *Device) EnableFiltering() error {
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.setFiltering(true)
}

// DisableFiltering makes both receive buffers accept every message, with
// rollover from buffer 0 into buffer 1.
func (d *Device) DisableFiltering() error {
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.setFiltering(false)
}

// SetConfigMode enters configuration mode, or returns to normal mode.
func (d *Device) SetConfigMode(enable bool) error {
	mode := byte(ModeNormal)
	if enable {
		mode = ModeConfig
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.Write(CANCTRL, mode)
}

// SetSilentMode selects listen-only mode, or normal mode.
func (d *Device) SetSilentMode(silent bool) error {
	mode := byte(ModeNormal)
	if silent {
		mode = ModeListenOnly
	}
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.Write(CANCTRL, mode)
}

// RxErrorCount returns the receive error counter.
func (d *Device) RxErrorCount() (uint8, error) {
	return d.readCounter(REC)
}

// TxErrorCount returns the transmit error counter.
func (d *Device) TxErrorCount() (uint8, error) {
	return d.readCounter(TEC)
}

func (d *Device) readCounter(reg Register) (uint8, error) {
	s := d.guard.Enter()
	defer d.guard.Exit(s)
	return d.chip.Read(reg)
}

// Trace returns the event trace. Read it with the guard held or after the
// interrupt handler has been detached.
func (d *Device) Trace() *core.TraceRing {
	return d.trace
}
