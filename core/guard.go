package core

import "sync"

// IRQState carries whatever a Guard needs to undo its Enter.
type IRQState uintptr

// Guard is the bus critical section. Main-context code holds it around every
// transaction so the interrupt handler cannot start a transaction on the same
// bus and chip select line in the middle of it.
//
// Enter/Exit pairs must not be nested for MutexGuard.
type Guard interface {
	Enter() IRQState
	Exit(state IRQState)
}

// IRQGuard masks interrupts on the MCU for the guarded span.
// On non-TinyGo builds it does nothing.
type IRQGuard struct{}

// Enter disables interrupts and returns the previous interrupt state.
func (IRQGuard) Enter() IRQState { return disableInterrupts() }

// Exit restores the interrupt state returned by Enter.
func (IRQGuard) Exit(state IRQState) { restoreInterrupts(state) }

// MutexGuard serializes main-context calls with an emulated interrupt
// context running on another goroutine. The emulated handler must hold the
// same guard while it runs.
type MutexGuard struct {
	mu sync.Mutex
}

// Enter locks the guard. The returned state is always zero.
func (g *MutexGuard) Enter() IRQState {
	g.mu.Lock()
	return 0
}

// Exit unlocks the guard.
func (g *MutexGuard) Exit(IRQState) {
	g.mu.Unlock()
}
