//go:build rp2040

package main

import (
	"machine"

	"mcpcan/core"
)

var debugUART *machine.UART

// InitDebugUART initializes UART0 on GPIO0 (TX) and GPIO1 (RX) at 115200
// and routes core debug output to it.
func InitDebugUART() {
	debugUART = machine.UART0
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		debugUART = nil
		return
	}
	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
}
