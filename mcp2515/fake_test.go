package mcp2515

import (
	"errors"
	"testing"
	"time"

	"mcpcan/can"
	"mcpcan/core"
)

const (
	testCS  core.GPIOPin = 10
	testInt core.GPIOPin = 11
)

// countingGuard tracks whether a guarded span is open
type countingGuard struct {
	depth  int
	enters int
}

func (g *countingGuard) Enter() core.IRQState {
	g.depth++
	g.enters++
	return 0
}

func (g *countingGuard) Exit(core.IRQState) {
	g.depth--
}

// fakeChip simulates the MCP2515 end of the SPI bus. It implements both the
// byte-transfer primitive and the GPIO driver so it sees chip select edges
// and decodes instructions byte by byte like the real controller.
type fakeChip struct {
	guard *countingGuard

	selected  bool
	cur       []byte
	txns      [][]byte
	unguarded int // transactions started with no guard held

	regs      [128]byte
	rxb       [2][13]byte // SIDH, SIDL, EID8, EID0, DLC, D0..D7
	txb       [3][13]byte
	txreq     [3]bool
	pendingIn []can.Frame
	sent      []can.Frame

	holdTx  bool  // keep TXREQ set after RTS
	failTx  error // returned by every Tx
	outputs map[core.GPIOPin]bool
	inputs  map[core.GPIOPin]bool
}

func newFakeChip() *fakeChip {
	c := &fakeChip{
		guard:   &countingGuard{},
		outputs: make(map[core.GPIOPin]bool),
		inputs:  make(map[core.GPIOPin]bool),
	}
	c.reset()
	return c
}

func (c *fakeChip) reset() {
	c.regs = [128]byte{}
	c.regs[CANCTRL] = 0x87
	c.regs[CANSTAT] = 0x80
	c.rxb = [2][13]byte{}
	c.txreq = [3]bool{}
}

// GPIO driver

func (c *fakeChip) ConfigureOutput(pin core.GPIOPin) error {
	c.outputs[pin] = true
	return nil
}

func (c *fakeChip) ConfigureInputPullUp(pin core.GPIOPin) error {
	c.inputs[pin] = true
	return nil
}

func (c *fakeChip) SetPin(pin core.GPIOPin, value bool) error {
	if pin != testCS {
		return nil
	}
	if !value && !c.selected {
		c.selected = true
		c.cur = nil
		if c.guard.depth == 0 {
			c.unguarded++
		}
	} else if value && c.selected {
		c.selected = false
		c.txns = append(c.txns, c.cur)
	}
	return nil
}

func (c *fakeChip) ReadPin(pin core.GPIOPin) bool {
	if pin == testInt {
		return c.regs[CANINTF]&c.regs[CANINTE]&0x03 == 0
	}
	return true
}

// SPI bus

func (c *fakeChip) Tx(w, r []byte) error {
	if c.failTx != nil {
		return c.failTx
	}
	if !c.selected {
		return errors.New("fake: transfer without chip select")
	}
	for i, b := range w {
		v := c.clock(b)
		if r != nil {
			r[i] = v
		}
	}
	return nil
}

func (c *fakeChip) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := c.Tx([]byte{b}, r[:])
	return r[0], err
}

func (c *fakeChip) clock(b byte) byte {
	idx := len(c.cur)
	c.cur = append(c.cur, b)
	op := c.cur[0]

	if idx == 0 {
		switch {
		case op == OpReset:
			c.reset()
		case op&0xF8 == OpRTS:
			for n := 0; n < 3; n++ {
				if op&(1<<uint(n)) != 0 {
					c.requestToSend(n)
				}
			}
		}
		return 0
	}

	switch {
	case op == OpRead && idx >= 2:
		return c.regs[(int(c.cur[1])+idx-2)&0x7F]
	case op == OpWrite && idx >= 2:
		c.regs[(int(c.cur[1])+idx-2)&0x7F] = b
	case op == OpModify && idx == 3:
		a := c.cur[1] & 0x7F
		m := c.cur[2]
		c.regs[a] = c.regs[a]&^m | b&m
		if Register(a) == CANINTF {
			c.refill()
		}
	case op == OpReadStatus:
		return c.status()
	case op == OpRxStatus:
		return c.rxStatus()
	case op == 0x40 || op == 0x42 || op == 0x44:
		if idx-1 < 13 {
			c.txb[(op-0x40)>>1][idx-1] = b
		}
	case op == OpReadRx0 || op == OpReadRx1:
		if idx-1 < 13 {
			return c.rxb[(op-0x90)>>2][idx-1]
		}
	}
	return 0
}

func (c *fakeChip) requestToSend(n int) {
	b := c.txb[n]
	f := can.Frame{ID: DecodeID(b[0], b[1]), Len: b[4] & 0x0F}
	copy(f.Data[:], b[5:5+f.Len])
	c.sent = append(c.sent, f)
	c.txreq[n] = c.holdTx
}

func (c *fakeChip) status() byte {
	intf := c.regs[CANINTF]
	s := intf & 0x03
	for n := 0; n < 3; n++ {
		if c.txreq[n] {
			s |= 0x04 << uint(2*n)
		}
	}
	return s
}

func (c *fakeChip) rxStatus() byte {
	intf := c.regs[CANINTF]
	return (intf & 0x03) << 6
}

// inject queues frames arriving from the bus
func (c *fakeChip) inject(frames ...can.Frame) {
	c.pendingIn = append(c.pendingIn, frames...)
	c.refill()
}

// refill moves arrived frames into free receive buffers, buffer 0 first.
// Buffer 0 is not refilled while buffer 1 still holds an older frame.
func (c *fakeChip) refill() {
	for n := 0; n < 2 && len(c.pendingIn) > 0; n++ {
		if c.regs[CANINTF]&(1<<uint(n)) != 0 {
			continue
		}
		if n == 0 && c.regs[CANINTF]&0x02 != 0 {
			continue
		}
		f := c.pendingIn[0]
		c.pendingIn = c.pendingIn[1:]
		sidh, sidl := EncodeID(f.ID)
		c.rxb[n] = [13]byte{sidh, sidl, 0, 0, f.Len}
		copy(c.rxb[n][5:], f.Data[:f.Len])
		c.regs[CANINTF] |= 1 << uint(n)
	}
}

func (c *fakeChip) clearLog() {
	c.txns = nil
	c.unguarded = 0
}

func mustSPI(t *testing.T, chip *fakeChip) *core.SPIDevice {
	t.Helper()
	spi, err := core.NewSPIDevice(chip, chip, testCS, 0)
	if err != nil {
		t.Fatalf("NewSPIDevice failed: %v", err)
	}
	return spi
}

// newTestDevice returns a device wired to a fresh fake controller
func newTestDevice(t *testing.T, bufferSize int) (*Device, *fakeChip, *[]time.Duration) {
	t.Helper()
	chip := newFakeChip()
	var sleeps []time.Duration
	dev, err := New(Config{
		Bus:        chip,
		GPIO:       chip,
		CSPin:      testCS,
		IntPin:     testInt,
		Guard:      chip.guard,
		BufferSize: bufferSize,
		Sleep:      func(d time.Duration) { sleeps = append(sleeps, d) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return dev, chip, &sleeps
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func expectTxns(t *testing.T, got [][]byte, want ...[]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %d transactions, got %d: % X", len(want), len(got), got)
	}
	for i := range want {
		if !equalBytes(got[i], want[i]) {
			t.Errorf("Transaction %d: expected % X, got % X", i, want[i], got[i])
		}
	}
}
