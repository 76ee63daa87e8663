package core

import "errors"

// SPI device flags
const (
	SF_CS_ACTIVE_HIGH = 0x02 // Chip select active high (default is active low)
)

var errNilBus = errors.New("spi: nil bus")

// SPIDevice represents one peripheral on an SPI bus, selected by its own
// chip select pin. Every Transfer is one complete transaction: chip select
// asserted, bytes clocked, chip select released.
type SPIDevice struct {
	Bus   SPIBus     // Shared byte-transfer primitive
	GPIO  GPIODriver // Drives the chip select pin
	Pin   GPIOPin    // Chip select pin
	Flags uint8      // SF_* flags
}

// NewSPIDevice configures the chip select pin as an output and leaves it
// deasserted.
func NewSPIDevice(bus SPIBus, gpio GPIODriver, cs GPIOPin, flags uint8) (*SPIDevice, error) {
	if bus == nil {
		return nil, errNilBus
	}
	dev := &SPIDevice{Bus: bus, GPIO: gpio, Pin: cs, Flags: flags}
	if err := gpio.ConfigureOutput(cs); err != nil {
		return nil, err
	}
	if err := dev.release(); err != nil {
		return nil, err
	}
	return dev, nil
}

// Transfer performs one chip-select bounded transaction.
// rx may be nil when the response is not needed.
func (d *SPIDevice) Transfer(tx, rx []byte) error {
	if err := d.GPIO.SetPin(d.Pin, d.Flags&SF_CS_ACTIVE_HIGH != 0); err != nil {
		return err
	}

	err := d.Bus.Tx(tx, rx)

	// Always release chip select, even after a failed transfer
	if relErr := d.release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}

// Do runs fn with chip select asserted, for transactions whose length is
// only known after the first bytes have been clocked in.
func (d *SPIDevice) Do(fn func(bus SPIBus) error) error {
	if err := d.GPIO.SetPin(d.Pin, d.Flags&SF_CS_ACTIVE_HIGH != 0); err != nil {
		return err
	}

	err := fn(d.Bus)

	if relErr := d.release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}

func (d *SPIDevice) release() error {
	return d.GPIO.SetPin(d.Pin, d.Flags&SF_CS_ACTIVE_HIGH == 0)
}
