// Command supervisor runs the cartridge-scan supervisor: it owns the PLC
// link, the HAL, the duplicate store, and the top-level state machine, and
// optionally serves a WebSocket event feed for an external dashboard.
//
// Flags:
//
//	-config: path to a YAML config file (see internal/config)
//	-debug:  enable verbose [DEBUG] logging
//	-http:   address to serve the WebSocket event feed on (empty disables it)
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/CK6170/cartridge-scan-supervisor/internal/config"
	"github.com/CK6170/cartridge-scan-supervisor/internal/dupstore"
	"github.com/CK6170/cartridge-scan-supervisor/internal/events"
	"github.com/CK6170/cartridge-scan-supervisor/internal/events/wshub"
	"github.com/CK6170/cartridge-scan-supervisor/internal/hal"
	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
	"github.com/CK6170/cartridge-scan-supervisor/internal/plclink"
	"github.com/CK6170/cartridge-scan-supervisor/internal/qrsource"
	"github.com/CK6170/cartridge-scan-supervisor/internal/supervisor"
)

var (
	appVersion = "dev"
	appBuild   = "local"
)

func main() {
	var (
		configPath = flag.String("config", "./supervisor.yaml", "path to config file")
		debug      = flag.Bool("debug", false, "enable debug logging")
		httpAddr   = flag.String("http", "", "address to serve the WebSocket event feed on (empty disables it)")
	)
	flag.Parse()

	log := logging.New(*debug)
	log.Info("cartridge-scan-supervisor %s [build %s]\n", appVersion, appBuild)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed: %v\n", err)
		os.Exit(1)
	}
	log.Debug("loaded config from %s\n", *configPath)

	if err := applyBatchFormat(cfg); err != nil {
		log.Error("config: %v\n", err)
		os.Exit(1)
	}

	h, err := buildHAL(cfg, log)
	if err != nil {
		log.Error("HAL init failed: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	dup, err := dupstore.Open(cfg.Duplicates.Path)
	if err != nil {
		log.Error("duplicate store open failed: %v\n", err)
		os.Exit(1)
	}
	defer dup.Close()

	portName := cfg.Serial.Port
	if portName == "" {
		log.Warn("no configured serial.port; probing for PLC link...\n")
		portName = plclink.AutoDetectPort("", cfg.Serial.Baud, 3*time.Second)
		if portName == "" {
			log.Error("could not auto-detect a PLC serial port\n")
			os.Exit(1)
		}
		log.Info("detected PLC link on %s\n", portName)
	}

	responseTimeout := time.Duration(cfg.Timeouts.ResponseMs) * time.Millisecond
	busySettle := time.Duration(cfg.Timeouts.BusySettleMs) * time.Millisecond
	link, err := plclink.Open(portName, cfg.Serial.Baud, h, log, responseTimeout, busySettle)
	if err != nil {
		log.Error("PLC link open failed: %v\n", err)
		os.Exit(1)
	}
	defer link.Close()

	registerFrameListener := func(fn func(tag, body string)) {
		link.OnFrame(func(fr plclink.Frame) { fn(fr.Tag, fr.Body) })
	}
	source := qrsource.NewFramed(registerFrameListener, "QR")

	bus := events.NewBus()
	events.ForwardDeviceFrames(registerFrameListener, bus)
	sup := supervisor.New(link, h, dup, source, bus, log, supervisor.Config{
		BatchLogDir:  cfg.Log.BatchDir,
		SetupLogDir:  cfg.Log.SetupDir,
		RecoveryPath: cfg.Log.RecoveryFile,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go forwardHardwareErrors(ctx, h, sup)

	if *httpAddr != "" {
		hub := wshub.NewHub()
		stop := make(chan struct{})
		go hub.Run(bus, stop)
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		mux := http.NewServeMux()
		mux.HandleFunc("/events", hub.ServeHTTP)
		srv := &http.Server{Addr: *httpAddr, Handler: mux}
		go func() {
			log.Info("event feed listening on %s\n", *httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("event feed server error: %v\n", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("supervisor running on %s (IDLE)\n", portName)
	sup.Run(ctx)
	fmt.Println()
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

func buildHAL(cfg config.Config, log *logging.Logger) (hal.HAL, error) {
	switch cfg.Hardware.Backend {
	case "gpio":
		pins := hal.Pins{
			Ready:  cfg.Hardware.Pins.Ready,
			Red:    cfg.Hardware.Pins.Red,
			Green:  cfg.Hardware.Pins.Green,
			Yellow: cfg.Hardware.Pins.Yellow,
			Buzzer: cfg.Hardware.Pins.Buzzer,
		}
		return hal.NewGPIO(cfg.Hardware.Chip, pins, log)
	default:
		return hal.NewMock(log), nil
	}
}

// forwardHardwareErrors relays the HAL's throttled error channel to the
// supervisor, which decides whether a pending scan needs an 'H' response
// (spec section 7).
func forwardHardwareErrors(ctx context.Context, h hal.HAL, sup *supervisor.Supervisor) {
	for {
		select {
		case err, ok := <-h.Errors():
			if !ok {
				return
			}
			sup.HandleHardwareError(err)
		case <-ctx.Done():
			return
		}
	}
}
