// Package can holds the CAN frame model shared by the driver, the firmware
// targets and the host tools.
package can

import "errors"

// Frame limits for classical standard-identifier frames
const (
	MaxID  = 0x7FF // 11-bit identifier
	MaxLen = 8     // Payload bytes per frame
)

var (
	// ErrInvalidID is returned for an identifier above MaxID.
	ErrInvalidID = errors.New("can: identifier exceeds 11 bits")
	// ErrInvalidLen is returned for a length above MaxLen.
	ErrInvalidLen = errors.New("can: data length exceeds 8 bytes")
)

// Frame is a standard (11-bit identifier) CAN data frame.
// Only the first Len bytes of Data are meaningful.
type Frame struct {
	ID   uint16
	Len  uint8
	Data [MaxLen]byte
}

// NewFrame builds a frame from an identifier and up to 8 payload bytes.
// Extra payload bytes are ignored.
func NewFrame(id uint16, data []byte) Frame {
	f := Frame{ID: id}
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// Validate reports whether the identifier and length are in range.
func (f Frame) Validate() error {
	if f.ID > MaxID {
		return ErrInvalidID
	}
	if f.Len > MaxLen {
		return ErrInvalidLen
	}
	return nil
}

// Payload returns the valid portion of Data, clamped to 8 bytes.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

const hexDigits = "0123456789ABCDEF"

// String renders the frame in candump compact form, e.g. "123#010203".
// Built without fmt so firmware images stay small.
func (f Frame) String() string {
	buf := make([]byte, 0, 4+2*MaxLen)
	buf = append(buf, hexDigits[(f.ID>>8)&0xF], hexDigits[(f.ID>>4)&0xF], hexDigits[f.ID&0xF], '#')
	for _, b := range f.Payload() {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return string(buf)
}
