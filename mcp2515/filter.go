package mcp2515

// Channel 1 owns filters 0-1, channel 2 owns filters 2-5.
var filterRegs = [2][]Register{
	{RXF0SIDH, RXF1SIDH},
	{RXF2SIDH, RXF3SIDH, RXF4SIDH, RXF5SIDH},
}

var maskRegs = [2]Register{RXM0SIDH, RXM1SIDH}

// filterRegister resolves (channel, index) to the SIDH register of an
// acceptance filter. Channel 1 accepts index 1-2, channel 2 index 1-4.
func filterRegister(channel, index int) (Register, error) {
	if channel < 1 || channel > 2 {
		return 0, ErrInvalidChannel
	}
	regs := filterRegs[channel-1]
	if index < 1 || index > len(regs) {
		return 0, ErrInvalidFilter
	}
	return regs[index-1], nil
}

// maskRegister resolves a channel to the SIDH register of its mask.
func maskRegister(channel int) (Register, error) {
	if channel < 1 || channel > 2 {
		return 0, ErrInvalidChannel
	}
	return maskRegs[channel-1], nil
}

// writeID stores an identifier in a SIDH/SIDL register pair.
func (c *Chip) writeID(sidh Register, id uint16) error {
	hi, lo := byte(id>>3), byte(id<<5)
	if err := c.Write(sidh, hi); err != nil {
		return err
	}
	return c.Write(sidh+1, lo)
}

// setFiltering switches both receive buffers between filtered reception
// and accept-all reception with rollover.
func (c *Chip) setFiltering(on bool) error {
	b0, b1 := byte(RXB0FilterOff), byte(RXB1FilterOff)
	if on {
		b0, b1 = RXB0FilterOn, RXB1FilterOn
	}
	if err := c.Write(RXB0CTRL, b0); err != nil {
		return err
	}
	return c.Write(RXB1CTRL, b1)
}
