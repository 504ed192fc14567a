// Command supervisorctl is the CLI operator console from spec section 9:
// a minimal, non-graphical front end over the supervisor's arm/stop/reset
// operations plus a scrolling feed of its events. It runs the supervisor
// in-process (rather than attaching to a remote one) so it can be used on
// a development host with the mock HAL and a fixture QR source, without
// real PLC hardware attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/CK6170/cartridge-scan-supervisor/internal/config"
	"github.com/CK6170/cartridge-scan-supervisor/internal/console"
	"github.com/CK6170/cartridge-scan-supervisor/internal/control"
	"github.com/CK6170/cartridge-scan-supervisor/internal/dupstore"
	"github.com/CK6170/cartridge-scan-supervisor/internal/events"
	"github.com/CK6170/cartridge-scan-supervisor/internal/hal"
	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
	"github.com/CK6170/cartridge-scan-supervisor/internal/plclink"
	"github.com/CK6170/cartridge-scan-supervisor/internal/qrsource"
	"github.com/CK6170/cartridge-scan-supervisor/internal/supervisor"
)

func main() {
	var (
		configPath = flag.String("config", "./supervisor.yaml", "path to config file")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log := logging.New(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed: %v\n", err)
		os.Exit(1)
	}

	if err := applyBatchFormat(cfg); err != nil {
		log.Error("config: %v\n", err)
		os.Exit(1)
	}

	dup, err := dupstore.Open(cfg.Duplicates.Path)
	if err != nil {
		log.Error("duplicate store open failed: %v\n", err)
		os.Exit(1)
	}
	defer dup.Close()

	var h hal.HAL = hal.NewMock(log)
	defer h.Close()

	portName := cfg.Serial.Port
	var source supervisor.Source
	var link *plclink.Link
	bus := events.NewBus()
	busySettle := time.Duration(cfg.Timeouts.BusySettleMs) * time.Millisecond
	if portName != "" {
		responseTimeout := time.Duration(cfg.Timeouts.ResponseMs) * time.Millisecond
		link, err = plclink.Open(portName, cfg.Serial.Baud, h, log, responseTimeout, busySettle)
		if err != nil {
			log.Error("PLC link open failed: %v\n", err)
			os.Exit(1)
		}
		defer link.Close()
		registerFrameListener := func(fn func(tag, body string)) {
			link.OnFrame(func(fr plclink.Frame) { fn(fr.Tag, fr.Body) })
		}
		source = qrsource.NewFramed(registerFrameListener, "QR")
		events.ForwardDeviceFrames(registerFrameListener, bus)
	} else {
		log.Warn("no serial.port configured; running against a fixture QR source with no PLC attached\n")
		source = qrsource.NewFixture()
	}
	sup := supervisor.New(consoleLink{link}, h, dup, source, bus, log, supervisor.Config{
		BatchLogDir:  cfg.Log.BatchDir,
		SetupLogDir:  cfg.Log.SetupDir,
		RecoveryPath: cfg.Log.RecoveryFile,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if link != nil {
		go sup.Run(ctx)
	}

	console.Run(control.New(sup), bus)
}

// applyBatchFormat installs the operator-configurable batch_format.qr_length
// and batch_format.batch_regex (spec 6.4) into the models package before
// anything is armed or validated.
func applyBatchFormat(cfg config.Config) error {
	if cfg.BatchFormat.QRLength > 0 {
		models.SetQRLength(cfg.BatchFormat.QRLength)
	}
	if cfg.BatchFormat.BatchRegex != "" {
		re, err := regexp.Compile(cfg.BatchFormat.BatchRegex)
		if err != nil {
			return fmt.Errorf("invalid batch_format.batch_regex %q: %w", cfg.BatchFormat.BatchRegex, err)
		}
		models.SetBatchIDPattern(re)
	}
	return nil
}

// consoleLink adapts a possibly-nil *plclink.Link to supervisor.Link so the
// console can run entirely off the fixture QR source with no PLC attached;
// Run simply never receives an event in that mode.
type consoleLink struct{ l *plclink.Link }

func (c consoleLink) NextEvent(ctx context.Context) (plclink.Event, bool) {
	if c.l == nil {
		<-ctx.Done()
		return plclink.Event{}, false
	}
	return c.l.NextEvent(ctx)
}

func (c consoleLink) SendResult(b byte) error {
	if c.l == nil {
		return nil
	}
	return c.l.SendResult(b)
}

func (c consoleLink) SendOOB(b byte) error {
	if c.l == nil {
		return nil
	}
	return c.l.SendOOB(b)
}

func (c consoleLink) CancelPending() {
	if c.l != nil {
		c.l.CancelPending()
	}
}
