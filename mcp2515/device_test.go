package mcp2515

import (
	"errors"
	"testing"
	"time"

	"mcpcan/can"
)

func TestNewConfiguresPins(t *testing.T) {
	_, chip, _ := newTestDevice(t, 0)
	if !chip.outputs[testCS] {
		t.Error("Expected chip select configured as output")
	}
	if !chip.inputs[testInt] {
		t.Error("Expected interrupt pin configured as input")
	}
	if chip.selected {
		t.Error("Expected chip select released")
	}
	if len(chip.txns) != 0 {
		t.Errorf("Expected no transactions, got % X", chip.txns)
	}
}

func TestInitializeWithReset(t *testing.T) {
	dev, chip, sleeps := newTestDevice(t, 0)
	if err := dev.Initialize(500, true); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	expectTxns(t, chip.txns,
		[]byte{OpReset},
		[]byte{OpWrite, byte(CNF1), 0x00},
		[]byte{OpWrite, byte(CNF2), 0xB6},
		[]byte{OpWrite, byte(CNF3), 0x04},
		[]byte{OpWrite, byte(CANINTE), 0x03},
		[]byte{OpWrite, byte(CANCTRL), 0x00},
	)
	if len(*sleeps) != 1 || (*sleeps)[0] != 10*time.Millisecond {
		t.Errorf("Expected one 10ms delay after reset, got %v", *sleeps)
	}
	if chip.regs[CANCTRL] != ModeNormal {
		t.Errorf("Expected normal mode, got 0x%02X", chip.regs[CANCTRL])
	}
}

func TestInitializeWithoutReset(t *testing.T) {
	dev, chip, sleeps := newTestDevice(t, 0)
	if err := dev.Initialize(125, false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	expectTxns(t, chip.txns,
		[]byte{OpWrite, byte(CNF1), 0x03},
		[]byte{OpWrite, byte(CNF2), 0xBA},
		[]byte{OpWrite, byte(CNF3), 0x07},
		[]byte{OpWrite, byte(CANINTE), 0x03},
		[]byte{OpWrite, byte(CANCTRL), 0x00},
	)
	if len(*sleeps) != 0 {
		t.Errorf("Expected no delay, got %v", *sleeps)
	}
}

func TestInitializeUnsupportedWritesNothing(t *testing.T) {
	dev, chip, sleeps := newTestDevice(t, 0)
	for _, reset := range []bool{false, true} {
		if err := dev.Initialize(100, reset); !errors.Is(err, ErrUnsupportedBitrate) {
			t.Errorf("Expected ErrUnsupportedBitrate, got %v", err)
		}
	}
	if len(chip.txns) != 0 {
		t.Errorf("Expected no transactions, got % X", chip.txns)
	}
	if len(*sleeps) != 0 {
		t.Errorf("Expected no delay, got %v", *sleeps)
	}
}

func TestInitializeEmptiesRing(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	chip.inject(can.NewFrame(1, nil), can.NewFrame(2, nil))
	if err := dev.Dispatch(); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if dev.Buffered() != 2 {
		t.Fatalf("Expected 2 buffered, got %d", dev.Buffered())
	}
	if err := dev.Initialize(250, false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if dev.Buffered() != 0 {
		t.Errorf("Expected empty ring, got %d", dev.Buffered())
	}
}

func TestHardResetCustomDelay(t *testing.T) {
	chip := newFakeChip()
	var slept time.Duration
	dev, err := New(Config{
		Bus:        chip,
		GPIO:       chip,
		CSPin:      testCS,
		IntPin:     testInt,
		Guard:      chip.guard,
		ResetDelay: 3 * time.Millisecond,
		Sleep:      func(d time.Duration) { slept += d },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	chip.regs[CANCTRL] = 0x00
	if err := dev.HardReset(); err != nil {
		t.Fatalf("HardReset failed: %v", err)
	}
	if slept != 3*time.Millisecond {
		t.Errorf("Expected 3ms delay, got %v", slept)
	}
	if chip.regs[CANCTRL] != 0x87 {
		t.Errorf("Expected reset CANCTRL 0x87, got 0x%02X", chip.regs[CANCTRL])
	}
	if chip.guard.depth != 0 {
		t.Error("Guard still held after reset")
	}
}

func TestAvailableChannels(t *testing.T) {
	tests := []struct {
		frames int
		want   int
	}{
		{0, 0},
		{1, 1},
		{2, 3},
	}
	for _, tt := range tests {
		dev, chip, _ := newTestDevice(t, 0)
		for i := 0; i < tt.frames; i++ {
			chip.inject(can.NewFrame(uint16(i), nil))
		}
		got, err := dev.AvailableChannels()
		if err != nil {
			t.Fatalf("AvailableChannels failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("%d frames: expected %d, got %d", tt.frames, tt.want, got)
		}
	}
}

func TestAvailableChannelTwoOnly(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	chip.regs[CANINTF] = 0x02
	got, err := dev.AvailableChannels()
	if err != nil {
		t.Fatalf("AvailableChannels failed: %v", err)
	}
	if got != 2 {
		t.Errorf("Expected 2, got %d", got)
	}
}

func TestInterruptPending(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	if err := dev.Initialize(500, false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if dev.InterruptPending() {
		t.Error("Expected no interrupt")
	}
	chip.inject(can.NewFrame(0x42, nil))
	if !dev.InterruptPending() {
		t.Error("Expected interrupt asserted")
	}
	if err := dev.Dispatch(); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if dev.InterruptPending() {
		t.Error("Expected interrupt released after dispatch")
	}
}

func TestSetFilterRegisters(t *testing.T) {
	tests := []struct {
		channel, index int
		reg            Register
	}{
		{1, 1, 0x00},
		{1, 2, 0x04},
		{2, 1, 0x08},
		{2, 2, 0x10},
		{2, 3, 0x14},
		{2, 4, 0x18},
	}
	for _, tt := range tests {
		dev, chip, _ := newTestDevice(t, 0)
		if err := dev.SetFilter(tt.channel, tt.index, 0x123); err != nil {
			t.Fatalf("SetFilter(%d, %d) failed: %v", tt.channel, tt.index, err)
		}
		expectTxns(t, chip.txns,
			[]byte{OpWrite, byte(tt.reg), 0x24},
			[]byte{OpWrite, byte(tt.reg + 1), 0x60},
		)
	}
}

func TestSetFilterInvalid(t *testing.T) {
	tests := []struct {
		channel, index int
		want           error
	}{
		{0, 1, ErrInvalidChannel},
		{3, 1, ErrInvalidChannel},
		{1, 0, ErrInvalidFilter},
		{1, 3, ErrInvalidFilter},
		{2, 5, ErrInvalidFilter},
		{2, -1, ErrInvalidFilter},
	}
	dev, chip, _ := newTestDevice(t, 0)
	for _, tt := range tests {
		if err := dev.SetFilter(tt.channel, tt.index, 1); !errors.Is(err, tt.want) {
			t.Errorf("SetFilter(%d, %d): expected %v, got %v", tt.channel, tt.index, tt.want, err)
		}
	}
	if len(chip.txns) != 0 {
		t.Errorf("Expected no transactions, got % X", chip.txns)
	}
}

func TestSetMask(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	if err := dev.SetMask(1, 0x7FF); err != nil {
		t.Fatalf("SetMask(1) failed: %v", err)
	}
	if err := dev.SetMask(2, 0); err != nil {
		t.Fatalf("SetMask(2) failed: %v", err)
	}
	expectTxns(t, chip.txns,
		[]byte{OpWrite, byte(RXM0SIDH), 0xFF},
		[]byte{OpWrite, byte(RXM0SIDL), 0xE0},
		[]byte{OpWrite, byte(RXM1SIDH), 0x00},
		[]byte{OpWrite, byte(RXM1SIDL), 0x00},
	)
	chip.clearLog()
	for _, ch := range []int{0, 3} {
		if err := dev.SetMask(ch, 1); !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("SetMask(%d): expected ErrInvalidChannel, got %v", ch, err)
		}
	}
	if len(chip.txns) != 0 {
		t.Error("Invalid mask channel reached the bus")
	}
}

func TestFilterAndMaskRejectWideID(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	if err := dev.SetFilter(1, 1, 0x923); !errors.Is(err, can.ErrInvalidID) {
		t.Errorf("SetFilter: expected ErrInvalidID, got %v", err)
	}
	if err := dev.SetMask(2, 0x800); !errors.Is(err, can.ErrInvalidID) {
		t.Errorf("SetMask: expected ErrInvalidID, got %v", err)
	}
	if len(chip.txns) != 0 {
		t.Errorf("Expected no transactions, got % X", chip.txns)
	}
}

func TestFilteringModes(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	if err := dev.EnableFiltering(); err != nil {
		t.Fatalf("EnableFiltering failed: %v", err)
	}
	if err := dev.DisableFiltering(); err != nil {
		t.Fatalf("DisableFiltering failed: %v", err)
	}
	expectTxns(t, chip.txns,
		[]byte{OpWrite, byte(RXB0CTRL), 0x04},
		[]byte{OpWrite, byte(RXB1CTRL), 0x00},
		[]byte{OpWrite, byte(RXB0CTRL), 0x64},
		[]byte{OpWrite, byte(RXB1CTRL), 0x60},
	)
}

func TestOperatingModes(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	steps := []struct {
		name string
		call func() error
		want byte
	}{
		{"config on", func() error { return dev.SetConfigMode(true) }, 0x80},
		{"config off", func() error { return dev.SetConfigMode(false) }, 0x00},
		{"silent on", func() error { return dev.SetSilentMode(true) }, 0x60},
		{"silent off", func() error { return dev.SetSilentMode(false) }, 0x00},
	}
	for _, s := range steps {
		chip.clearLog()
		if err := s.call(); err != nil {
			t.Fatalf("%s failed: %v", s.name, err)
		}
		expectTxns(t, chip.txns, []byte{OpWrite, byte(CANCTRL), s.want})
		if chip.regs[CANCTRL] != s.want {
			t.Errorf("%s: CANCTRL 0x%02X", s.name, chip.regs[CANCTRL])
		}
	}
}

func TestErrorCounters(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	chip.regs[REC] = 17
	chip.regs[TEC] = 128
	rec, err := dev.RxErrorCount()
	if err != nil || rec != 17 {
		t.Errorf("RxErrorCount: expected 17, got %d (%v)", rec, err)
	}
	tec, err := dev.TxErrorCount()
	if err != nil || tec != 128 {
		t.Errorf("TxErrorCount: expected 128, got %d (%v)", tec, err)
	}
	expectTxns(t, chip.txns,
		[]byte{OpRead, byte(REC), 0xFF},
		[]byte{OpRead, byte(TEC), 0xFF},
	)
}

func TestPublicOperationsAreGuarded(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	ops := []func() error{
		func() error { return dev.Initialize(500, true) },
		func() error { return dev.SetBitrate(250) },
		func() error { _, err := dev.AvailableChannels(); return err },
		func() error { return dev.Send(can.NewFrame(0x100, []byte{1})) },
		func() error {
			chip.inject(can.NewFrame(0x200, nil))
			var f can.Frame
			return dev.Receive(1, &f)
		},
		func() error { return dev.SetFilter(2, 4, 0x10) },
		func() error { return dev.SetMask(1, 0x7F0) },
		dev.EnableFiltering,
		dev.DisableFiltering,
		func() error { return dev.SetConfigMode(true) },
		func() error { return dev.SetSilentMode(true) },
		func() error { _, err := dev.RxErrorCount(); return err },
		func() error { _, err := dev.TxErrorCount(); return err },
	}
	for i, op := range ops {
		chip.clearLog()
		if err := op(); err != nil {
			t.Fatalf("Operation %d failed: %v", i, err)
		}
		if len(chip.txns) == 0 {
			t.Errorf("Operation %d issued no transactions", i)
		}
		if chip.unguarded != 0 {
			t.Errorf("Operation %d issued %d unguarded transactions", i, chip.unguarded)
		}
		if chip.guard.depth != 0 {
			t.Fatalf("Operation %d left the guard held", i)
		}
	}
}

func TestBusErrorPropagates(t *testing.T) {
	busErr := errors.New("bus fault")
	dev, chip, _ := newTestDevice(t, 0)
	chip.failTx = busErr

	if err := dev.Initialize(500, false); !errors.Is(err, busErr) {
		t.Errorf("Initialize: expected bus error, got %v", err)
	}
	if err := dev.Send(can.NewFrame(1, nil)); !errors.Is(err, busErr) {
		t.Errorf("Send: expected bus error, got %v", err)
	}
	var f can.Frame
	if err := dev.Receive(2, &f); !errors.Is(err, busErr) {
		t.Errorf("Receive: expected bus error, got %v", err)
	}
	if err := dev.Dispatch(); !errors.Is(err, busErr) {
		t.Errorf("Dispatch: expected bus error, got %v", err)
	}
	if chip.selected {
		t.Error("Chip select left asserted after a failed transfer")
	}
}

func TestSendTraceEvents(t *testing.T) {
	dev, chip, _ := newTestDevice(t, 0)
	dev.Trace().Enabled = true
	if err := dev.Send(can.NewFrame(0x321, []byte{1, 2})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	chip.txreq = [3]bool{true, true, true}
	if err := dev.Send(can.NewFrame(0x322, nil)); !errors.Is(err, ErrTxBusy) {
		t.Fatalf("Expected ErrTxBusy, got %v", err)
	}
	ev := dev.Trace().Events()
	if len(ev) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(ev))
	}
	if ev[0].ID != 0x321 || ev[0].Len != 2 {
		t.Errorf("Unexpected send event %+v", ev[0])
	}
	if ev[1].ID != 0x322 {
		t.Errorf("Unexpected busy event %+v", ev[1])
	}
}
