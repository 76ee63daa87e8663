package mcp2515

import (
	"fmt"

	"mcpcan/can"
	"mcpcan/core"
)

// Number of transmit buffers on the controller
const txBuffers = 3

// EncodeID splits a standard identifier into SIDH and SIDL register values.
// The extended identifier bits of SIDL are left clear.
func EncodeID(id uint16) (sidh, sidl byte) {
	return byte(id >> 3), byte((id & 0x07) << 5)
}

// DecodeID joins SIDH and SIDL back into an 11-bit identifier.
func DecodeID(sidh, sidl byte) uint16 {
	return (uint16(sidh)<<3 | uint16(sidl)>>5) & can.MaxID
}

// freeTxBuffer returns the first transmit buffer, checked in order 0, 1, 2,
// that is not pending transmission, or -1 when all three are pending.
func freeTxBuffer(st Status) int {
	for n := 0; n < txBuffers; n++ {
		if !st.TxPending(n) {
			return n
		}
	}
	return -1
}

// send loads a free transmit buffer and requests transmission of it.
// It returns the buffer used. When every buffer is pending it writes
// nothing and returns ErrTxBusy.
func (c *Chip) send(f *can.Frame) (int, error) {
	st, err := c.ReadStatus()
	if err != nil {
		return -1, err
	}
	n := freeTxBuffer(st)
	if n < 0 {
		return -1, ErrTxBusy
	}

	length := int(f.Len)
	if length > can.MaxLen {
		length = can.MaxLen
	}
	sidh, sidl := EncodeID(f.ID)
	c.tx[0] = OpLoadTx0 | byte(n<<1)
	c.tx[1] = sidh
	c.tx[2] = sidl
	c.tx[3] = 0 // EID8
	c.tx[4] = 0 // EID0
	c.tx[5] = byte(length) & 0x0F
	copy(c.tx[6:], f.Data[:length])
	if err := c.xfer(6+length, false); err != nil {
		return -1, err
	}

	c.tx[0] = OpRTS | byte(1<<uint(n))
	if err := c.xfer(1, false); err != nil {
		return -1, err
	}
	return n, nil
}

// recv reads receive buffer n (0 or 1) into f and clears the buffer's
// interrupt flag so the controller can signal the next message. It reads
// whether or not a message is pending.
func (c *Chip) recv(n int, f *can.Frame) error {
	op := byte(OpReadRx0)
	if n == 1 {
		op = OpReadRx1
	}
	*f = can.Frame{}
	var hdr [6]byte
	err := c.spi.Do(func(bus core.SPIBus) error {
		// Instruction then SIDH, SIDL, EID8, EID0, DLC
		c.tx[0] = op
		for i := 1; i < 6; i++ {
			c.tx[i] = rxDummy
		}
		if err := bus.Tx(c.tx[:6], hdr[:]); err != nil {
			return err
		}
		length := int(hdr[5] & 0x0F)
		if length > can.MaxLen {
			length = can.MaxLen
		}
		f.Len = uint8(length)
		if length == 0 {
			return nil
		}
		for i := 0; i < length; i++ {
			c.tx[i] = rxDummy
		}
		return bus.Tx(c.tx[:length], f.Data[:length])
	})
	if err != nil {
		return fmt.Errorf("mcp2515: read rx buffer %d: %w", n, err)
	}
	f.ID = DecodeID(hdr[1], hdr[2])

	flag := byte(IntRX0IE)
	if n == 1 {
		flag = IntRX1IE
	}
	return c.Modify(CANINTF, flag, 0x00)
}
