//go:build !linux

package hal

import (
	"errors"
	"time"

	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
)

// GPIO is unavailable outside Linux; the character-device GPIO ABI this
// backend needs is Linux-specific. Use Mock on other platforms.
type GPIO struct{}

// Pins mirrors the Linux backend's pin configuration so callers can
// reference hal.Pins regardless of build target.
type Pins struct {
	Ready  uint32
	Red    uint32
	Green  uint32
	Yellow uint32
	Buzzer uint32
}

// NewGPIO always fails on non-Linux builds.
func NewGPIO(chipPath string, pins Pins, log *logging.Logger) (*GPIO, error) {
	return nil, errors.New("hal(gpio): real GPIO backend requires linux")
}

func (g *GPIO) SetReady(ready bool) error                { return errUnsupported }
func (g *GPIO) Indicator(color Color, d time.Duration)    {}
func (g *GPIO) Buzz(d time.Duration)                      {}
func (g *GPIO) Errors() <-chan error                      { return nil }
func (g *GPIO) Close() error                              { return nil }

var errUnsupported = errors.New("hal(gpio): unsupported platform")
