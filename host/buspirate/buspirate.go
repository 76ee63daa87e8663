// Package buspirate drives a Bus Pirate in binary SPI mode so the MCP2515
// driver can run on a PC. The Bridge is both the SPI byte-transfer
// primitive and the GPIO driver for the chip select line.
package buspirate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"mcpcan/core"
	"mcpcan/host/serial"
)

// Binary mode commands
const (
	cmdBitbang   = 0x00 // Enter raw bitbang mode, replies "BBIO1"
	cmdSPI       = 0x01 // Enter SPI mode from bitbang, replies "SPI1"
	cmdCSLow     = 0x02
	cmdCSHigh    = 0x03
	cmdBulk      = 0x10 // 0x10 | (n-1), 1..16 bytes
	cmdPeriph    = 0x40 // 0x40 | power<<3 | pullups<<2 | aux<<1 | cs
	cmdSpeed     = 0x60 // 0x60 | speed index
	cmdConfig    = 0x80 // 0x80 | hiz<<3 | ckp<<2 | cke<<1 | smp
	cmdResetBP   = 0x0F // Leave binary mode, back to the console
	replyOK      = 0x01
	maxBulk      = 16
	enterRetries = 20
)

// Mode 0 with 3.3V push-pull outputs: CKP idle low, CKE active to idle
const spiConfigMode0 = cmdConfig | 0x08 | 0x02

// Power supplies on, chip select high
const periphPowerOn = cmdPeriph | 0x08 | 0x01

// Pins exposed through the core.GPIODriver interface
const (
	PinCS  core.GPIOPin = 0 // Bus Pirate CS
	PinINT core.GPIOPin = 1 // Not wired; see ReadPin
)

// Speed is the SPI clock selection.
type Speed byte

const (
	Speed30kHz Speed = iota
	Speed125kHz
	Speed250kHz
	Speed1MHz
	Speed2MHz
	Speed2600kHz
	Speed4MHz
	Speed8MHz
)

var (
	ErrNoBinaryMode = errors.New("buspirate: no BBIO1 reply")
	ErrNoSPIMode    = errors.New("buspirate: no SPI1 reply")
	ErrNack         = errors.New("buspirate: command not acknowledged")
	ErrUnknownPin   = errors.New("buspirate: unknown pin")
)

// Bridge is a Bus Pirate switched into binary SPI mode.
type Bridge struct {
	mu   sync.Mutex
	port serial.Port
	buf  [1 + maxBulk]byte
}

// sleepFn is replaced in tests.
var sleepFn = time.Sleep

// Open enters binary SPI mode on port and configures mode 0 at speed.
func Open(port serial.Port, speed Speed) (*Bridge, error) {
	b := &Bridge{port: port}
	if err := b.enterBitbang(); err != nil {
		return nil, err
	}
	if err := b.expect([]byte{cmdSPI}, "SPI1", ErrNoSPIMode); err != nil {
		return nil, err
	}
	for _, c := range []byte{cmdSpeed | byte(speed&0x07), spiConfigMode0, periphPowerOn} {
		if err := b.command(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// enterBitbang sends zero bytes until the Bus Pirate answers BBIO1.
func (b *Bridge) enterBitbang() error {
	_ = b.port.Flush()
	reply := make([]byte, 5)
	for i := 0; i < enterRetries; i++ {
		if _, err := b.port.Write([]byte{cmdBitbang}); err != nil {
			return fmt.Errorf("buspirate: enter binary mode: %w", err)
		}
		sleepFn(time.Millisecond)
		n, err := io.ReadFull(b.port, reply)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("buspirate: enter binary mode: %w", err)
		}
		if n == len(reply) && string(reply) == "BBIO1" {
			return nil
		}
	}
	return ErrNoBinaryMode
}

func (b *Bridge) expect(cmd []byte, want string, fail error) error {
	if _, err := b.port.Write(cmd); err != nil {
		return err
	}
	reply := make([]byte, len(want))
	if _, err := io.ReadFull(b.port, reply); err != nil {
		return fmt.Errorf("%w: %v", fail, err)
	}
	if !bytes.Equal(reply, []byte(want)) {
		return fail
	}
	return nil
}

// command sends a one-byte command and checks the 0x01 acknowledgement.
func (b *Bridge) command(c byte) error {
	b.buf[0] = c
	if _, err := b.port.Write(b.buf[:1]); err != nil {
		return fmt.Errorf("buspirate: command 0x%02X: %w", c, err)
	}
	if _, err := io.ReadFull(b.port, b.buf[:1]); err != nil {
		return fmt.Errorf("buspirate: command 0x%02X: %w", c, err)
	}
	if b.buf[0] != replyOK {
		return fmt.Errorf("%w: 0x%02X", ErrNack, c)
	}
	return nil
}

// Tx clocks w out and, when r is not nil, the bytes clocked in into r.
// Transfers longer than 16 bytes are split into bulk commands.
func (b *Bridge) Tx(w, r []byte) error {
	if r != nil && len(r) != len(w) {
		return errors.New("buspirate: read and write buffers differ in length")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for off := 0; off < len(w); off += maxBulk {
		end := off + maxBulk
		if end > len(w) {
			end = len(w)
		}
		var dst []byte
		if r != nil {
			dst = r[off:end]
		}
		if err := b.bulk(w[off:end], dst); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) bulk(w, r []byte) error {
	n := len(w)
	b.buf[0] = cmdBulk | byte(n-1)
	copy(b.buf[1:], w)
	if _, err := b.port.Write(b.buf[:1+n]); err != nil {
		return fmt.Errorf("buspirate: bulk transfer: %w", err)
	}
	if _, err := io.ReadFull(b.port, b.buf[:1+n]); err != nil {
		return fmt.Errorf("buspirate: bulk transfer: %w", err)
	}
	if b.buf[0] != replyOK {
		return fmt.Errorf("%w: bulk transfer", ErrNack)
	}
	if r != nil {
		copy(r, b.buf[1:1+n])
	}
	return nil
}

// Transfer clocks a single byte.
func (b *Bridge) Transfer(w byte) (byte, error) {
	var r [1]byte
	err := b.Tx([]byte{w}, r[:])
	return r[0], err
}

// ConfigureOutput accepts the chip select pin, which is always an output.
func (b *Bridge) ConfigureOutput(pin core.GPIOPin) error {
	if pin != PinCS {
		return ErrUnknownPin
	}
	return nil
}

// ConfigureInputPullUp accepts the interrupt pin.
func (b *Bridge) ConfigureInputPullUp(pin core.GPIOPin) error {
	if pin != PinINT {
		return ErrUnknownPin
	}
	return nil
}

// SetPin drives chip select.
func (b *Bridge) SetPin(pin core.GPIOPin, value bool) error {
	if pin != PinCS {
		return ErrUnknownPin
	}
	c := byte(cmdCSLow)
	if value {
		c = cmdCSHigh
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.command(c)
}

// ReadPin reports the interrupt pin as low (asserted). Binary SPI mode has
// no input sampling, so callers fall back to polling RX STATUS.
func (b *Bridge) ReadPin(pin core.GPIOPin) bool {
	return false
}

// Close returns the Bus Pirate to its console and closes the port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	_, werr := b.port.Write([]byte{cmdBitbang, cmdResetBP})
	b.mu.Unlock()
	cerr := b.port.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
