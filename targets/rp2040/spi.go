//go:build rp2040

package main

import (
	"errors"
	"machine"
)

// SPI bus pin assignments, named after Klipper's RP2040 bus definitions
type spiBusConfig struct {
	spi  *machine.SPI // SPI controller (SPI0 or SPI1)
	sck  machine.Pin  // Clock pin
	mosi machine.Pin  // Master Out Slave In
	miso machine.Pin  // Master In Slave Out
	name string       // Human-readable name
}

var rp2040SPIBuses = map[string]spiBusConfig{
	"spi0a": {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0, name: "spi0a"},
	"spi0b": {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4, name: "spi0b"},
	"spi0c": {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16, name: "spi0c"},
	"spi1a": {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8, name: "spi1a"},
	"spi1b": {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12, name: "spi1b"},
}

// configureSPI sets up a hardware SPI bus in mode 0 and returns it. The
// MCP2515 accepts up to 10 MHz.
func configureSPI(name string, frequency uint32) (*machine.SPI, error) {
	bus, ok := rp2040SPIBuses[name]
	if !ok {
		return nil, errors.New("invalid SPI bus")
	}
	err := bus.spi.Configure(machine.SPIConfig{
		Frequency: frequency,
		SCK:       bus.sck,
		SDO:       bus.mosi, // SDO = Serial Data Out (MOSI)
		SDI:       bus.miso, // SDI = Serial Data In (MISO)
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}
	return bus.spi, nil
}
