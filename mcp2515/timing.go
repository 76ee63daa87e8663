package mcp2515

// Timing holds the three bit timing register values for one bit rate.
type Timing struct {
	CNF1 byte
	CNF2 byte
	CNF3 byte
}

// Bit timings from the MCP2515 timing calculator for a 20 MHz crystal.
// Keyed by bit rate in kbit/s.
var timingTable = map[int]Timing{
	10:   {0x27, 0xBF, 0x07},
	20:   {0x13, 0xBF, 0x07},
	50:   {0x07, 0xBF, 0x07},
	125:  {0x03, 0xBA, 0x07},
	250:  {0x01, 0xBA, 0x07},
	500:  {0x00, 0xB6, 0x04},
	1000: {0x00, 0xA0, 0x02},
}

// SupportedBitrates lists the accepted rates in kbit/s, ascending.
var SupportedBitrates = []int{10, 20, 50, 125, 250, 500, 1000}

// LookupTiming returns the register values for a bit rate.
func LookupTiming(khz int) (Timing, bool) {
	t, ok := timingTable[khz]
	return t, ok
}

// setBitrate writes CNF1, CNF2, CNF3 in that order. An unsupported rate
// writes nothing and leaves the previous timing in place.
func (c *Chip) setBitrate(khz int) error {
	t, ok := LookupTiming(khz)
	if !ok {
		return ErrUnsupportedBitrate
	}
	if err := c.Write(CNF1, t.CNF1); err != nil {
		return err
	}
	if err := c.Write(CNF2, t.CNF2); err != nil {
		return err
	}
	return c.Write(CNF3, t.CNF3)
}
