package mcp2515

// MCP2515 register map
// Based on MCP2515 datasheet DS20001801J
// Microchip Technology Inc.

// Register is a controller register address.
type Register byte

// Control registers
const (
	BFPCTRL   Register = 0x0C // RXnBF pin control and status
	TXRTSCTRL Register = 0x0D // TXnRTS pin control and status
	CANSTAT   Register = 0x0E // CAN status
	CANCTRL   Register = 0x0F // CAN control (operation mode)
	TEC       Register = 0x1C // Transmit error count
	REC       Register = 0x1D // Receive error count
	CNF3      Register = 0x28 // Bit timing configuration 3
	CNF2      Register = 0x29 // Bit timing configuration 2
	CNF1      Register = 0x2A // Bit timing configuration 1
	CANINTE   Register = 0x2B // Interrupt enable
	CANINTF   Register = 0x2C // Interrupt flags
	EFLG      Register = 0x2D // Error flags
	TXB0CTRL  Register = 0x30 // Transmit buffer 0 control
	TXB1CTRL  Register = 0x40 // Transmit buffer 1 control
	TXB2CTRL  Register = 0x50 // Transmit buffer 2 control
	RXB0CTRL  Register = 0x60 // Receive buffer 0 control
	RXB1CTRL  Register = 0x70 // Receive buffer 1 control
)

// Receive buffer registers
const (
	RXB0SIDH Register = 0x61 // Receive buffer 0 standard ID high
	RXB0SIDL Register = 0x62 // Receive buffer 0 standard ID low
	RXB0EID8 Register = 0x63 // Receive buffer 0 extended ID high
	RXB0EID0 Register = 0x64 // Receive buffer 0 extended ID low
	RXB0DLC  Register = 0x65 // Receive buffer 0 data length code
	RXB0D0   Register = 0x66 // Receive buffer 0 data byte 0
	RXB1SIDH Register = 0x71 // Receive buffer 1 standard ID high
	RXB1SIDL Register = 0x72 // Receive buffer 1 standard ID low
	RXB1EID8 Register = 0x73 // Receive buffer 1 extended ID high
	RXB1EID0 Register = 0x74 // Receive buffer 1 extended ID low
	RXB1DLC  Register = 0x75 // Receive buffer 1 data length code
	RXB1D0   Register = 0x76 // Receive buffer 1 data byte 0
)

// Acceptance filters. Filters 0 and 1 belong to receive buffer 0,
// filters 2 through 5 to receive buffer 1. SIDL follows SIDH.
const (
	RXF0SIDH Register = 0x00
	RXF0SIDL Register = 0x01
	RXF1SIDH Register = 0x04
	RXF1SIDL Register = 0x05
	RXF2SIDH Register = 0x08
	RXF2SIDL Register = 0x09
	RXF3SIDH Register = 0x10
	RXF3SIDL Register = 0x11
	RXF4SIDH Register = 0x14
	RXF4SIDL Register = 0x15
	RXF5SIDH Register = 0x18
	RXF5SIDL Register = 0x19
)

// Acceptance masks
const (
	RXM0SIDH Register = 0x20 // Mask 0 standard ID high
	RXM0SIDL Register = 0x21 // Mask 0 standard ID low
	RXM1SIDH Register = 0x24 // Mask 1 standard ID high
	RXM1SIDL Register = 0x25 // Mask 1 standard ID low
)

// SPI instruction opcodes
const (
	OpReset      = 0xC0 // Reset internal registers to default state
	OpRead       = 0x03 // Read from register
	OpWrite      = 0x02 // Write to register
	OpModify     = 0x05 // Bit modify
	OpReadStatus = 0xA0 // Quick status poll
	OpRxStatus   = 0xB0 // Receive status and filter match
	OpLoadTx0    = 0x40 // Load TX buffer 0 starting at SIDH (buffer n: 0x40 | n<<1)
	OpRTS        = 0x80 // Request-to-send base (buffer n: 0x80 | 1<<n)
	OpReadRx0    = 0x90 // Read RX buffer 0 starting at SIDH
	OpReadRx1    = 0x94 // Read RX buffer 1 starting at SIDH
)

// Register values written by the driver
const (
	ModeNormal     = 0x00 // CANCTRL: normal operation
	ModeListenOnly = 0x60 // CANCTRL: listen-only (silent)
	ModeConfig     = 0x80 // CANCTRL: configuration

	IntRX0IE = 0x01 // CANINTE/CANINTF: receive buffer 0
	IntRX1IE = 0x02 // CANINTE/CANINTF: receive buffer 1

	RXB0FilterOn  = 0x04 // RXB0CTRL: filters active
	RXB1FilterOn  = 0x00 // RXB1CTRL: filters active
	RXB0FilterOff = 0x64 // RXB0CTRL: receive any message, rollover enabled
	RXB1FilterOff = 0x60 // RXB1CTRL: receive any message
)

// Dummy bytes clocked out while reading
const (
	statusDummy = 0xFF
	rxDummy     = 0xAA
)

// Status is the byte returned by the READ STATUS instruction.
//
//	Bit 0: RX buffer 0 full (CANINTF.RX0IF)
//	Bit 1: RX buffer 1 full (CANINTF.RX1IF)
//	Bit 2: TX buffer 0 pending (TXB0CTRL.TXREQ)
//	Bit 3: TX buffer 0 empty (CANINTF.TX0IF)
//	Bit 4: TX buffer 1 pending
//	Bit 5: TX buffer 1 empty
//	Bit 6: TX buffer 2 pending
//	Bit 7: TX buffer 2 empty
type Status byte

// RxFull reports whether receive buffer n (0 or 1) holds a message.
func (s Status) RxFull(n int) bool {
	return s&(1<<uint(n)) != 0
}

// TxPending reports whether transmit buffer n (0..2) awaits transmission.
func (s Status) TxPending(n int) bool {
	return s&(0x04<<uint(2*n)) != 0
}

// FrameKind is the message type reported by RX STATUS.
type FrameKind uint8

const (
	StandardData FrameKind = iota
	StandardRemote
	ExtendedData
	ExtendedRemote
)

// RxStatus is the byte returned by the RX STATUS instruction.
//
//	Bits 2:0 filter match (0 through 5)
//	Bits 4:3 message type
//	Bit 6    message in RX buffer 0
//	Bit 7    message in RX buffer 1
type RxStatus byte

// Available returns the pending receive channels: 0 none, 1 channel 1,
// 2 channel 2, 3 both.
func (s RxStatus) Available() int {
	return int(s>>6) & 0x03
}

// FilterMatch returns the index of the filter that accepted the message.
func (s RxStatus) FilterMatch() int {
	return int(s & 0x07)
}

// Kind returns the type of the received message.
func (s RxStatus) Kind() FrameKind {
	return FrameKind((s >> 3) & 0x03)
}
