package core

import "tinygo.org/x/drivers"

// SPIBus is the byte-transfer primitive the core drives. TinyGo's
// *machine.SPI satisfies it directly; host bridges implement it in software.
//
// Tx sends w and fills r simultaneously. r may be nil for write-only
// transfers; otherwise len(r) == len(w).
type SPIBus = drivers.SPI
