package mcp2515

import (
	"fmt"

	"mcpcan/core"
)

// Chip frames every controller access as one SPI transaction.
//
// Chip keeps scratch buffers so the receive path does not allocate; it is
// not safe for concurrent use. Device serializes access through its Guard.
//
// No transaction is retried. A missing or unpowered controller produces
// whatever the bus floats to, which this layer cannot tell from real data.
type Chip struct {
	spi *core.SPIDevice
	tx  [14]byte
	rx  [14]byte
}

// NewChip wraps an SPI device bound to the controller's chip select.
func NewChip(spi *core.SPIDevice) *Chip {
	return &Chip{spi: spi}
}

func (c *Chip) xfer(n int, read bool) error {
	var rx []byte
	if read {
		rx = c.rx[:n]
	}
	if err := c.spi.Transfer(c.tx[:n], rx); err != nil {
		return fmt.Errorf("mcp2515: spi transfer 0x%02X: %w", c.tx[0], err)
	}
	return nil
}

// Reset issues the reset instruction and returns the byte clocked back.
func (c *Chip) Reset() (byte, error) {
	c.tx[0] = OpReset
	if err := c.xfer(1, true); err != nil {
		return 0, err
	}
	return c.rx[0], nil
}

// Read returns the current value of a register.
func (c *Chip) Read(addr Register) (byte, error) {
	c.tx[0] = OpRead
	c.tx[1] = byte(addr)
	c.tx[2] = statusDummy
	if err := c.xfer(3, true); err != nil {
		return 0, err
	}
	return c.rx[2], nil
}

// Write stores value in a register.
func (c *Chip) Write(addr Register, value byte) error {
	c.tx[0] = OpWrite
	c.tx[1] = byte(addr)
	c.tx[2] = value
	return c.xfer(3, false)
}

// Modify changes only the bits of addr that are set in mask.
func (c *Chip) Modify(addr Register, mask, value byte) error {
	c.tx[0] = OpModify
	c.tx[1] = byte(addr)
	c.tx[2] = mask
	c.tx[3] = value
	return c.xfer(4, false)
}

// ReadStatus polls the receive-full and transmit-pending flags.
func (c *Chip) ReadStatus() (Status, error) {
	c.tx[0] = OpReadStatus
	c.tx[1] = statusDummy
	if err := c.xfer(2, true); err != nil {
		return 0, err
	}
	return Status(c.rx[1]), nil
}

// RxStatus polls which receive buffers hold a message.
func (c *Chip) RxStatus() (RxStatus, error) {
	c.tx[0] = OpRxStatus
	c.tx[1] = statusDummy
	if err := c.xfer(2, true); err != nil {
		return 0, err
	}
	return RxStatus(c.rx[1]), nil
}
