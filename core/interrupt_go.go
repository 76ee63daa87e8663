//go:build !tinygo

package core

// disableInterrupts is a no-op on regular Go (for testing)
func disableInterrupts() IRQState {
	return 0
}

// restoreInterrupts is a no-op on regular Go (for testing)
func restoreInterrupts(state IRQState) {
	// No-op
}
