//go:build linux

package hal

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
)

// GPIO drives real hardware through the Linux GPIO character-device ABI
// (/dev/gpiochipN), requesting output lines with GPIO_V2_GET_LINE_IOCTL
// and toggling them with GPIO_V2_LINE_SET_VALUES_IOCTL.
//
// This is the same raw-ioctl-over-golang.org/x/sys/unix technique the
// BigBossBoolingB-VDATABPro tap device driver uses for TUNSETIFF
// (core_engine/network/tap_device.go), generalized from a network TAP
// line-request ioctl to a GPIO line-request ioctl. No cgo and no RPi.GPIO
// sysfs shim (the chardev ABI replaces both the legacy sysfs tree and the
// Python project's RPi.GPIO dependency).
type GPIO struct {
	mu   sync.Mutex
	chip int // gpiochip fd
	req  int // line-request fd returned by GPIO_V2_GET_LINE_IOCTL

	readyOffset int
	log         *logging.Logger
	errs        *errorThrottle

	// offsets for the indicator/buzzer lines, aligned with req's line
	// order (index 0 is the ready line).
	offsets []uint32
}

// Pins configures the GPIO line offsets for the handshake and indicator
// outputs, per the hardware.pins.* configuration surface (spec 6.4).
type Pins struct {
	Ready  uint32
	Red    uint32
	Green  uint32
	Yellow uint32
	Buzzer uint32
}

const (
	gpioV2LineFlagOutput = 1 << 3

	// ioctl request numbers from <linux/gpio.h>, computed the same way the
	// kernel header does: _IOWR(0xB4, nr, type).
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocNRShift  = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
	iocWrite     = 1
	iocRead      = 2

	gpioMagic = 0xB4
)

func iowr(nr, size uintptr) uintptr {
	return (uintptr(iocRead|iocWrite) << iocDirShift) |
		(uintptr(gpioMagic) << iocTypeShift) |
		(nr << iocNRShift) |
		(size << iocSizeShift)
}

// gpioV2LineRequest and gpioV2LineValues mirror the kernel uapi structs
// (struct gpio_v2_line_request / struct gpio_v2_line_values), trimmed to
// the fields this driver actually uses. Field layout must match the kernel
// ABI exactly; unused padding is kept for that reason.
type gpioV2LineConfigAttr struct {
	id    uint32
	_     uint32
	flags uint64
	mask  uint64
}

type gpioV2LineConfig struct {
	flags      uint64
	numAttrs   uint32
	_          [5]uint32
	attrs      [10]gpioV2LineConfigAttr
}

type gpioV2LineRequest struct {
	offsets     [64]uint32
	consumer    [32]byte
	config      gpioV2LineConfig
	numLines    uint32
	eventBuffer uint32
	_           [5]uint32
	fd          int32
}

type gpioV2LineValues struct {
	bits uint64
	mask uint64
}

var (
	gpioV2GetLineIoctl      = iowr(0x07, unsafe.Sizeof(gpioV2LineRequest{}))
	gpioV2LineSetValuesIoctl = iowr(0x0F, unsafe.Sizeof(gpioV2LineValues{}))
)

// NewGPIO opens chipPath (e.g. "/dev/gpiochip0") and requests the
// configured pins as outputs, driving the ready line LOW before returning,
// per the spec 4.1 startup policy ("the handshake line MUST be driven LOW
// before the serial port is opened").
func NewGPIO(chipPath string, pins Pins, log *logging.Logger) (*GPIO, error) {
	chip, err := unix.Open(chipPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hal(gpio): open %s: %w", chipPath, err)
	}

	offsets := []uint32{pins.Ready, pins.Red, pins.Green, pins.Yellow, pins.Buzzer}

	var req gpioV2LineRequest
	copy(req.consumer[:], "cartridge-scan-supervisor")
	req.numLines = uint32(len(offsets))
	for i, off := range offsets {
		req.offsets[i] = off
	}
	req.config.flags = gpioV2LineFlagOutput
	req.config.numAttrs = 0

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(chip), gpioV2GetLineIoctl, uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = unix.Close(chip)
		return nil, fmt.Errorf("hal(gpio): line request ioctl: %w", errno)
	}

	g := &GPIO{
		chip:        chip,
		req:         int(req.fd),
		readyOffset: 0,
		log:         log,
		errs:        newErrorThrottle(5 * time.Second),
		offsets:     offsets,
	}

	if err := g.setLine(0, false); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("hal(gpio): initial busy assert: %w", err)
	}
	return g, nil
}

// setLine sets the value of the line at index idx in g.offsets.
func (g *GPIO) setLine(idx int, high bool) error {
	var vals gpioV2LineValues
	vals.mask = 1 << uint(idx)
	if high {
		vals.bits = 1 << uint(idx)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(g.req), gpioV2LineSetValuesIoctl, uintptr(unsafe.Pointer(&vals))); errno != 0 {
		return fmt.Errorf("hal(gpio): set line %d: %w", idx, errno)
	}
	return nil
}

func (g *GPIO) SetReady(ready bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.setLine(0, ready); err != nil {
		g.errs.report(err)
		return err
	}
	return nil
}

func (g *GPIO) Indicator(color Color, duration time.Duration) {
	idx := 1
	switch color {
	case Red:
		idx = 1
	case Green:
		idx = 2
	case Yellow:
		idx = 3
	}
	g.pulse(idx, duration)
}

func (g *GPIO) Buzz(duration time.Duration) {
	g.pulse(4, duration)
}

// pulse asserts the line at idx HIGH for duration, then releases it, on a
// helper goroutine so callers never block on indicator/buzzer timing (spec
// 4.1: "non-blocking or at most the requested duration").
func (g *GPIO) pulse(idx int, duration time.Duration) {
	go func() {
		g.mu.Lock()
		err := g.setLine(idx, true)
		if err != nil {
			g.errs.report(err)
			g.mu.Unlock()
			return
		}
		g.mu.Unlock()
		time.Sleep(duration)
		g.mu.Lock()
		if err := g.setLine(idx, false); err != nil {
			g.errs.report(err)
		}
		g.mu.Unlock()
	}()
}

func (g *GPIO) Errors() <-chan error { return g.errs.out }

func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.req != 0 {
		_ = unix.Close(g.req)
	}
	return unix.Close(g.chip)
}
