package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures a bus event for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Channel   uint8  // Receive channel or transmit buffer
	Seq       uint32 // Monotonic sequence number
	ID        uint16 // Frame identifier
	Len       uint8  // Frame length
}

// Event type codes
const (
	EvtSend     = 1 // Frame loaded and request-to-send issued
	EvtSendBusy = 2 // All transmit buffers pending
	EvtRecv     = 3 // Frame delivered to the ring buffer
	EvtCallback = 4 // Frame queued for the receive callback
	EvtDrop     = 5 // Frame read and discarded, buffer full
	EvtReset    = 6 // Reset opcode issued
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16) // Buffer 16 messages
	go debugOutputWorker()
}

// debugOutputWorker runs in background, drains debug channel
func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
			// Channel full, drop message (non-blocking)
		}
	}
}

// TraceRing is a fixed-size record of recent bus events. Recording never
// blocks or allocates, so it is usable from the interrupt handler.
// Callers serialize access through the bus Guard.
type TraceRing struct {
	events  [TraceRingSize]TraceEvent
	head    uint8 // Next write position
	seq     uint32
	Enabled bool
}

// NewTraceRing returns an enabled, empty trace ring.
func NewTraceRing() *TraceRing {
	return &TraceRing{Enabled: true}
}

// Record captures an event in the ring buffer
func (t *TraceRing) Record(eventType, channel uint8, id uint16, length uint8) {
	if t == nil || !t.Enabled {
		return
	}
	t.seq++
	idx := t.head
	t.events[idx] = TraceEvent{
		EventType: eventType,
		Channel:   channel,
		Seq:       t.seq,
		ID:        id,
		Len:       length,
	}
	t.head = (idx + 1) % TraceRingSize
}

// Events returns the recorded events, oldest first.
func (t *TraceRing) Events() []TraceEvent {
	out := make([]TraceEvent, 0, TraceRingSize)
	start := t.head
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := t.events[(start+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// Dump outputs the trace ring through the debug writer
func (t *TraceRing) Dump() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Trace Ring Dump ===")
	for _, evt := range t.Events() {
		debugPrintln("[TRACE] " + EventName(evt.EventType) +
			" seq=" + utoa(evt.Seq) +
			" ch=" + itoa(int(evt.Channel)) +
			" id=" + itoa(int(evt.ID)) +
			" len=" + itoa(int(evt.Len)))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// Clear clears the trace buffer
func (t *TraceRing) Clear() {
	for i := range t.events {
		t.events[i] = TraceEvent{}
	}
	t.head = 0
}

// EventName returns the display name of an event type code
func EventName(eventType uint8) string {
	switch eventType {
	case EvtSend:
		return "SEND"
	case EvtSendBusy:
		return "SEND_BUSY!"
	case EvtRecv:
		return "RECV"
	case EvtCallback:
		return "RECV_CB"
	case EvtDrop:
		return "DROP!"
	case EvtReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}
