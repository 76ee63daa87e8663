// Package irq emulates the controller interrupt on hosts where the INT line
// cannot raise a real interrupt. A Poller samples the line and runs the
// driver's Dispatch with the main context excluded, the way the MCU's
// interrupt handler would.
package irq

import (
	"context"
	"errors"
	"time"

	"mcpcan/core"
	"mcpcan/host/logging"
	"mcpcan/host/metrics"
	"mcpcan/mcp2515"
)

// DefaultInterval is the line sampling period.
const DefaultInterval = 5 * time.Millisecond

// Poller is the emulated interrupt context of one Device.
type Poller struct {
	dev      *mcp2515.Device
	guard    core.Guard
	interval time.Duration
	dropped  uint32
}

// New returns a poller for dev. guard must be the Guard dev was created with.
func New(dev *mcp2515.Device, guard core.Guard, interval time.Duration) (*Poller, error) {
	if dev == nil || guard == nil {
		return nil, errors.New("irq: device and guard are required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{dev: dev, guard: guard, interval: interval}, nil
}

// Poll runs one interrupt: if the line is asserted, Dispatch runs under the
// guard. Queued callbacks are then serviced outside the guard. It returns
// the number of callbacks delivered.
func (p *Poller) Poll() (int, error) {
	var err error
	if p.dev.InterruptPending() {
		err = p.dispatch()
	}
	return p.dev.ServiceCallbacks(), err
}

func (p *Poller) dispatch() error {
	s := p.guard.Enter()
	err := p.dev.Dispatch()
	p.guard.Exit(s)

	d := p.dev.Dropped()
	metrics.AddDropped(uint64(d - p.dropped))
	p.dropped = d
	if err != nil {
		metrics.IncError(metrics.ErrDispatch)
		return err
	}
	return nil
}

// Run drains frames that arrived before it started, then polls every
// interval until ctx is done. Dispatch errors are logged and polling
// continues.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.dispatch(); err != nil {
		logging.L().Warn("dispatch_error", "error", err)
	}
	p.dev.ServiceCallbacks()

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := p.Poll(); err != nil {
				logging.L().Warn("dispatch_error", "error", err)
			}
		}
	}
}
