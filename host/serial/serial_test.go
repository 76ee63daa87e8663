package serial

import (
	"errors"
	"testing"
	"time"

	"github.com/tarm/serial"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB0")
	if cfg.Device != "/dev/ttyUSB0" {
		t.Errorf("Expected device /dev/ttyUSB0, got %s", cfg.Device)
	}
	if cfg.Baud != 115200 {
		t.Errorf("Expected baud 115200, got %d", cfg.Baud)
	}
	if cfg.ReadTimeout != 100*time.Millisecond {
		t.Errorf("Expected 100ms read timeout, got %v", cfg.ReadTimeout)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	if _, err := Open(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := Open(&Config{Baud: 115200}); err == nil {
		t.Error("Expected error for empty device")
	}
}

func TestOpenPassesConfig(t *testing.T) {
	orig := openPort
	t.Cleanup(func() { openPort = orig })

	var got *serial.Config
	openPort = func(c *serial.Config) (*serial.Port, error) {
		got = c
		return nil, errors.New("no such device")
	}

	_, err := Open(&Config{Device: "/dev/ttyACM3", Baud: 9600, ReadTimeout: time.Second})
	if err == nil {
		t.Fatal("Expected open error")
	}
	if got == nil || got.Name != "/dev/ttyACM3" || got.Baud != 9600 || got.ReadTimeout != time.Second {
		t.Errorf("Unexpected tarm config %+v", got)
	}
}
