package mcp2515

import "errors"

var (
	// ErrInvalidChannel is returned for a receive channel outside 1..3 or a
	// filter/mask channel outside 1..2.
	ErrInvalidChannel = errors.New("mcp2515: invalid channel")
	// ErrInvalidFilter is returned for a filter index the channel does not have.
	ErrInvalidFilter = errors.New("mcp2515: invalid filter index")
	// ErrUnsupportedBitrate is returned for a rate missing from the timing table.
	ErrUnsupportedBitrate = errors.New("mcp2515: unsupported bit rate")
	// ErrTxBusy is returned when all three transmit buffers are pending.
	ErrTxBusy = errors.New("mcp2515: all transmit buffers pending")
)
