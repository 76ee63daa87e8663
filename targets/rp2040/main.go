//go:build rp2040

// Firmware that brings up an MCP2515 on SPI0 and prints every received
// frame on the debug UART.
package main

import (
	"machine"
	"sync/atomic"
	"time"

	"mcpcan/can"
	"mcpcan/core"
	"mcpcan/mcp2515"
)

// Board wiring
const (
	canBus     = "spi0c"
	canSPIFreq = 8000000
	canCS      = core.GPIOPin(machine.GPIO17)
	canInt     = core.GPIOPin(machine.GPIO20)
	canBitrate = 500 // kbit/s
)

var (
	dev            *mcp2515.Device
	dispatchErrors atomic.Uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitDebugUART()

	spi, err := configureSPI(canBus, canSPIFreq)
	if err != nil {
		halt("spi: " + err.Error())
	}
	gpio := NewRPGPIODriver()

	dev, err = mcp2515.New(mcp2515.Config{
		Bus:    spi,
		GPIO:   gpio,
		CSPin:  canCS,
		IntPin: canInt,
		Guard:  core.IRQGuard{},
	})
	if err != nil {
		halt("mcp2515: " + err.Error())
	}
	if err := dev.Initialize(canBitrate, true); err != nil {
		halt("mcp2515 init: " + err.Error())
	}
	if err := dev.DisableFiltering(); err != nil {
		halt("mcp2515 filters: " + err.Error())
	}

	if err := gpio.OnFallingEdge(canInt, onCANInterrupt); err != nil {
		halt("irq: " + err.Error())
	}
	// Frames that arrived before the edge handler was installed keep INT
	// low and would never produce another falling edge.
	state := core.IRQGuard{}.Enter()
	onCANInterrupt()
	core.IRQGuard{}.Exit(state)

	core.DebugPrintln("[CAN] ready")

	lastDrops := dev.Dropped()
	var lastErrors uint32
	for {
		// A failed interrupt-time drain leaves INT low with no further edge.
		if dev.DrainPending() != nil {
			dispatchErrors.Add(1)
		}
		for {
			f, ok := dev.Read()
			if !ok {
				break
			}
			printFrame(f)
		}
		dev.ServiceCallbacks()

		if d := dev.Dropped(); d != lastDrops {
			core.DebugPrintln("[CAN] dropped " + core.Itoa(int(d-lastDrops)))
			lastDrops = d
			state := core.IRQGuard{}.Enter()
			dev.Trace().Dump()
			core.IRQGuard{}.Exit(state)
		}
		if e := dispatchErrors.Load(); e != lastErrors {
			core.DebugPrintln("[CAN] dispatch errors " + core.Itoa(int(e)))
			lastErrors = e
		}
		time.Sleep(time.Millisecond)
	}
}

// onCANInterrupt runs in interrupt context.
func onCANInterrupt() {
	if dev.Dispatch() != nil {
		dispatchErrors.Add(1)
	}
}

func printFrame(f can.Frame) {
	core.DebugAsync("[CAN] rx " + f.String())
}

func halt(msg string) {
	for {
		core.DebugPrintln("[CAN] fatal: " + msg)
		time.Sleep(time.Second)
	}
}
