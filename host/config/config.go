// Package config loads the JSON board profile used by the host tools.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"mcpcan/can"
	"mcpcan/host/buspirate"
	"mcpcan/mcp2515"
)

// Profile describes one MCP2515 board and how to reach it.
type Profile struct {
	Bitrate    int  `json:"bitrate_kbps"`
	SkipReset  bool `json:"skip_reset"`
	BufferSize int  `json:"buffer_size"`
	Silent     bool `json:"silent"`

	// Filtering enables acceptance filtering. Masks and filters are
	// programmed either way.
	Filtering bool           `json:"filtering"`
	Masks     []MaskConfig   `json:"masks,omitempty"`
	Filters   []FilterConfig `json:"filters,omitempty"`

	Bridge BridgeConfig `json:"bridge"`

	// PollIntervalMS is how often the interrupt line is sampled on hosts
	// without a real interrupt.
	PollIntervalMS int `json:"poll_interval_ms"`
}

// MaskConfig is one acceptance mask.
type MaskConfig struct {
	Channel int    `json:"channel"`
	ID      uint16 `json:"id"`
}

// FilterConfig is one acceptance filter.
type FilterConfig struct {
	Channel int    `json:"channel"`
	Index   int    `json:"index"`
	ID      uint16 `json:"id"`
}

// BridgeConfig selects the serial SPI adapter.
type BridgeConfig struct {
	Device   string `json:"device"`
	Baud     int    `json:"baud"`
	SPISpeed string `json:"spi_speed"`
}

var spiSpeeds = map[string]buspirate.Speed{
	"30k":  buspirate.Speed30kHz,
	"125k": buspirate.Speed125kHz,
	"250k": buspirate.Speed250kHz,
	"1M":   buspirate.Speed1MHz,
	"2M":   buspirate.Speed2MHz,
	"2.6M": buspirate.Speed2600kHz,
	"4M":   buspirate.Speed4MHz,
	"8M":   buspirate.Speed8MHz,
}

// LoadConfig parses a JSON profile, fills defaults and validates it.
func LoadConfig(jsonData []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyDefaults(&p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses a profile from disk.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return LoadConfig(data)
}

// applyDefaults fills in missing values
func applyDefaults(p *Profile) {
	if p.Bitrate == 0 {
		p.Bitrate = 500
	}
	if p.BufferSize == 0 {
		p.BufferSize = can.DefaultRingCapacity
	}
	if p.Bridge.Device == "" {
		p.Bridge.Device = "/dev/ttyUSB0"
	}
	if p.Bridge.Baud == 0 {
		p.Bridge.Baud = 115200
	}
	if p.Bridge.SPISpeed == "" {
		p.Bridge.SPISpeed = "1M"
	}
	if p.PollIntervalMS == 0 {
		p.PollIntervalMS = 5
	}
}

// DefaultProfile returns a 500 kbit/s accept-all profile.
func DefaultProfile() *Profile {
	p := &Profile{}
	applyDefaults(p)
	return p
}

// Validate checks values against what the controller supports. It does not
// touch any device.
func (p *Profile) Validate() error {
	if p == nil {
		return errors.New("config: nil profile")
	}
	if _, ok := mcp2515.LookupTiming(p.Bitrate); !ok {
		return fmt.Errorf("config: %w: %d kbit/s", mcp2515.ErrUnsupportedBitrate, p.Bitrate)
	}
	if p.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be > 0 (got %d)", p.BufferSize)
	}
	if p.PollIntervalMS < 1 {
		return fmt.Errorf("config: poll_interval_ms must be > 0 (got %d)", p.PollIntervalMS)
	}
	if p.Bridge.Baud <= 0 {
		return fmt.Errorf("config: baud must be > 0 (got %d)", p.Bridge.Baud)
	}
	if _, ok := spiSpeeds[p.Bridge.SPISpeed]; !ok {
		return fmt.Errorf("config: invalid spi_speed %q", p.Bridge.SPISpeed)
	}
	for _, m := range p.Masks {
		if m.Channel < 1 || m.Channel > 2 {
			return fmt.Errorf("config: mask: %w: %d", mcp2515.ErrInvalidChannel, m.Channel)
		}
		if m.ID > can.MaxID {
			return fmt.Errorf("config: mask 0x%X: %w", m.ID, can.ErrInvalidID)
		}
	}
	for _, f := range p.Filters {
		max := 2
		if f.Channel == 2 {
			max = 4
		}
		if f.Channel < 1 || f.Channel > 2 {
			return fmt.Errorf("config: filter: %w: %d", mcp2515.ErrInvalidChannel, f.Channel)
		}
		if f.Index < 1 || f.Index > max {
			return fmt.Errorf("config: filter %d on channel %d: %w", f.Index, f.Channel, mcp2515.ErrInvalidFilter)
		}
		if f.ID > can.MaxID {
			return fmt.Errorf("config: filter 0x%X: %w", f.ID, can.ErrInvalidID)
		}
	}
	return nil
}

// Speed returns the bridge SPI clock selection.
func (p *Profile) Speed() buspirate.Speed {
	return spiSpeeds[p.Bridge.SPISpeed]
}

// PollInterval returns PollIntervalMS as a duration.
func (p *Profile) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// Apply initializes dev and programs masks, filters and the operating mode.
// Masks and filters are written in configuration mode.
func (p *Profile) Apply(dev *mcp2515.Device) error {
	if err := dev.Initialize(p.Bitrate, !p.SkipReset); err != nil {
		return err
	}
	if len(p.Masks) > 0 || len(p.Filters) > 0 {
		if err := dev.SetConfigMode(true); err != nil {
			return err
		}
		for _, m := range p.Masks {
			if err := dev.SetMask(m.Channel, m.ID); err != nil {
				return err
			}
		}
		for _, f := range p.Filters {
			if err := dev.SetFilter(f.Channel, f.Index, f.ID); err != nil {
				return err
			}
		}
	}
	var err error
	if p.Filtering {
		err = dev.EnableFiltering()
	} else {
		err = dev.DisableFiltering()
	}
	if err != nil {
		return err
	}
	if p.Silent {
		return dev.SetSilentMode(true)
	}
	return dev.SetConfigMode(false)
}
