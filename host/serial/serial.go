package serial

import (
	"io"
	"time"
)

// Port represents a serial port interface.
// Native ports use github.com/tarm/serial; tests substitute an in-memory port.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate (the Bus Pirate binary mode runs at 115200)
	Baud int

	// Read timeout (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultBaud is the Bus Pirate console and binary mode rate.
const DefaultBaud = 115200

// DefaultConfig returns a configuration for a Bus Pirate on device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}
