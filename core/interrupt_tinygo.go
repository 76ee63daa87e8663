//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts disables interrupts and returns the previous state
func disableInterrupts() IRQState {
	return IRQState(interrupt.Disable())
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(state IRQState) {
	interrupt.Restore(interrupt.State(state))
}
