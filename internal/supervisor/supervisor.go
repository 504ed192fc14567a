// Package supervisor implements the top-level state machine from spec
// section 4.6: it glues the PLC Link's scan requests to the QR validator,
// the duplicate store, the QR source, and the outbound response byte, and
// emits typed events to the UI collaborator (spec section 9).
package supervisor

import (
	"context"
	"time"

	"github.com/CK6170/cartridge-scan-supervisor/internal/dupstore"
	"github.com/CK6170/cartridge-scan-supervisor/internal/events"
	"github.com/CK6170/cartridge-scan-supervisor/internal/hal"
	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
	"github.com/CK6170/cartridge-scan-supervisor/internal/plclink"
	"github.com/CK6170/cartridge-scan-supervisor/internal/validator"
)

// State is one of the supervisor's top-level states.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateScanning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateScanning:
		return "SCANNING"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// responseMargin is reserved out of the link's response deadline for the
// supervisor's own decision and transmission time, per spec 4.6: "call QR
// source with the link deadline minus a small margin (>=1s reserved for
// response transmission)."
const responseMargin = 1 * time.Second

// Source is the QR-acquisition contract the supervisor drives (spec 4.4).
type Source interface {
	Acquire(ctx context.Context, deadline time.Time) (qr string, ok bool, err error)
}

// Link is the subset of *plclink.Link the supervisor drives; expressed as
// an interface so tests can substitute a fake link.
type Link interface {
	NextEvent(ctx context.Context) (plclink.Event, bool)
	SendResult(b byte) error
	SendOOB(b byte) error
	CancelPending()
}

// Counters are soft state derived from the log; spec 4.6: "may be lost
// without violating correctness."
type Counters struct {
	Accepted  int
	Duplicate int
	Rejected  int
	Total     int
}

// Supervisor owns the current batch, the PendingScan, and the HAL, per the
// spec's ownership rule in section 3. All mutation happens on Run's
// goroutine (single-writer discipline, spec section 5).
type Supervisor struct {
	link   Link
	h      hal.HAL
	dup    *dupstore.Store
	source Source
	bus    *events.Bus
	log    *logging.Logger

	batchLogDir   string
	setupLogDir   string
	recoveryPath  string
	batch         *models.Batch
	batchLog      *BatchLog
	state         State
	counters      Counters
	lastQR        string
	lastOutcome   string
}

// Config groups the directories the supervisor writes its ambient,
// advisory logs to (spec section 6.3); the duplicate store and HAL are
// passed separately since they are owned resources, not paths.
type Config struct {
	BatchLogDir  string
	SetupLogDir  string
	RecoveryPath string
}

// New constructs an IDLE supervisor wired to its collaborators.
func New(link Link, h hal.HAL, dup *dupstore.Store, source Source, bus *events.Bus, log *logging.Logger, cfg Config) *Supervisor {
	return &Supervisor{
		link:         link,
		h:            h,
		dup:          dup,
		source:       source,
		bus:          bus,
		log:          log,
		batchLogDir:  cfg.BatchLogDir,
		setupLogDir:  cfg.SetupLogDir,
		recoveryPath: cfg.RecoveryPath,
		state:        StateIdle,
	}
}

// State returns the current top-level state.
func (s *Supervisor) State() State { return s.state }

// Counters returns a copy of the current soft counters.
func (s *Supervisor) Counters() Counters { return s.counters }

// Arm installs batch, transitions IDLE -> ARMED, optionally resets the
// duplicate store for the batch, and sends the 'G' out-of-band byte, per
// spec 4.6.
func (s *Supervisor) Arm(batch *models.Batch, resetDuplicates bool) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if resetDuplicates {
		if err := s.dup.Reset(string(batch.ID)); err != nil {
			return err
		}
	}
	if err := WriteSetupLog(s.setupLogDir, batch); err != nil {
		s.log.Warn("supervisor: setup log write failed: %v\n", err)
	}
	bl, err := OpenBatchLog(s.batchLogDir, batch.ID)
	if err != nil {
		return err
	}
	if s.batchLog != nil {
		_ = s.batchLog.Close()
	}

	s.batch = batch
	s.batchLog = bl
	s.counters = Counters{}
	s.lastQR = ""
	s.lastOutcome = ""
	s.state = StateArmed

	if err := s.h.SetReady(true); err != nil {
		s.log.Warn("supervisor: set_ready(true) on arm failed: %v\n", err)
	}
	if err := s.link.SendOOB('G'); err != nil {
		s.log.Warn("supervisor: send 'G' failed: %v\n", err)
	}

	s.bus.Publish(events.Event{
		Kind:    events.KindBatchArmed,
		Time:    time.Now(),
		BatchId: string(batch.ID),
		Line:    batch.Line.String(),
	})
	return nil
}

// Stop is the operator "stop" operation: any -> HALTED, cancelling any
// pending scan (link sends 'S'), tearing down the batch, dropping
// set_ready to busy, and sending 'H' out-of-band, per spec 4.6.
func (s *Supervisor) Stop() {
	if s.state == StateScanning {
		if err := s.link.SendResult('S'); err != nil {
			s.log.Warn("supervisor: send 'S' on stop failed: %v\n", err)
		}
		s.link.CancelPending()
	}
	s.haltBatch()
	if err := s.link.SendOOB('H'); err != nil {
		s.log.Warn("supervisor: send 'H' on stop failed: %v\n", err)
	}
}

// haltBatch tears the current batch down, drops set_ready to busy, moves to
// StateHalted, and publishes the halt event. It is the common landing spot
// for every HALTED transition (operator Stop, and any in-scan failure spec
// section 7's error table says must halt the batch) minus whatever
// PLC-facing response byte the caller already sent for its own reason.
func (s *Supervisor) haltBatch() {
	s.teardownBatch()
	if err := s.h.SetReady(false); err != nil {
		s.log.Warn("supervisor: set_ready(false) on halt failed: %v\n", err)
	}
	s.state = StateHalted

	s.bus.Publish(events.Event{Kind: events.KindBatchHalted, Time: time.Now()})
	_ = RemoveRecoverySnapshot(s.recoveryPath)
}

// ResetCounters clears the soft counters without touching the duplicate
// store, per spec 4.6's edge case policy.
func (s *Supervisor) ResetCounters() { s.counters = Counters{} }

// ResetBatch clears the duplicate store for batchId, the separate
// operator operation spec 4.6 distinguishes from ResetCounters ("a
// separate 'reset batch' operation" clears duplicates).
func (s *Supervisor) ResetBatch(batchId string) error {
	return s.dup.Reset(batchId)
}

// Batch returns the currently armed batch, or nil if none is armed.
func (s *Supervisor) Batch() *models.Batch { return s.batch }

func (s *Supervisor) teardownBatch() {
	if s.batchLog != nil {
		_ = s.batchLog.Close()
		s.batchLog = nil
	}
	s.batch = nil
}

// Run drives the supervisor's application task: it consumes link events
// until ctx is cancelled or the link reports it is done. This is the
// single goroutine that ever mutates Supervisor state (spec section 5).
func (s *Supervisor) Run(ctx context.Context) {
	for {
		ev, ok := s.link.NextEvent(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case plclink.EventScanRequest:
			s.handleScanRequest(ctx, ev)
		case plclink.EventLinkDown:
			s.handleLinkDown(ev)
		case plclink.EventFrame:
			// Frame routing (SNS/BTN/LCD) is handled by listeners
			// registered directly on the link (qrsource.Framed and any UI
			// forwarder); the scan state machine ignores them, per spec
			// 4.5: "do not alter the scan state machine."
		}
	}
}

func (s *Supervisor) handleScanRequest(ctx context.Context, ev plclink.Event) {
	if s.state != StateArmed {
		// "A scan request received before a batch is armed" (spec 4.6)
		// also covers one received while already SCANNING, which cannot
		// happen given the link's own nested-command handling, and while
		// HALTED, which the operator controls explicitly.
		if err := s.link.SendResult('S'); err != nil {
			s.log.Warn("supervisor: send 'S' for unarmed scan failed: %v\n", err)
		}
		return
	}

	s.state = StateScanning
	acquireDeadline := ev.Deadline.Add(-responseMargin)

	qr, found, err := s.source.Acquire(ctx, acquireDeadline)
	if err != nil {
		s.log.Warn("supervisor: QR source error: %v\n", err)
	}
	if !found {
		if err := s.link.SendResult('Q'); err != nil {
			s.log.Warn("supervisor: send 'Q' failed: %v\n", err)
		}
		s.state = StateArmed
		return
	}

	result, signals := validator.Validate(qr, s.batch, s.dupCheck)
	s.applySignals(signals)

	if result.Outcome == models.OutcomePass {
		if err := s.recordPass(qr); err != nil {
			s.log.Warn("supervisor: duplicate store record failed: %v\n", err)
			if err2 := s.link.SendResult('B'); err2 != nil {
				s.log.Warn("supervisor: send 'B' failed: %v\n", err2)
			}
			s.haltBatch()
			return
		}
	}

	s.counters.Total++
	switch result.Outcome {
	case models.OutcomePass:
		s.counters.Accepted++
	case models.OutcomeDuplicate:
		s.counters.Duplicate++
	default:
		s.counters.Rejected++
	}
	s.lastQR = qr
	s.lastOutcome = result.Outcome.String()

	if s.batchLog != nil {
		if err := s.batchLog.Append(s.batch.ID, result.Mould, qr, result.Outcome); err != nil {
			s.log.Warn("supervisor: batch log append failed: %v\n", err)
		}
	}
	s.writeRecovery()

	if err := s.link.SendResult(result.Outcome.ResponseByte()); err != nil {
		s.log.Warn("supervisor: send result byte failed: %v\n", err)
	}
	s.state = StateArmed

	s.bus.Publish(events.Event{
		Kind:      events.KindScanCompleted,
		Time:      time.Now(),
		BatchId:   string(s.batch.ID),
		QR:        qr,
		Mould:     result.Mould,
		Outcome:   result.Outcome.String(),
		Accepted:  s.counters.Accepted,
		Duplicate: s.counters.Duplicate,
		Rejected:  s.counters.Rejected,
		Total:     s.counters.Total,
	})
}

// recordPass persists qr in the duplicate store, retrying once per spec
// section 7's "Duplicate store write" policy before the caller escalates
// to a 'B' response and halts the batch.
func (s *Supervisor) recordPass(qr string) error {
	err := s.dup.Record(string(s.batch.ID), qr)
	if err == nil {
		return nil
	}
	return s.dup.Record(string(s.batch.ID), qr)
}

func (s *Supervisor) dupCheck(qr string) bool {
	if s.batch == nil {
		return false
	}
	seen, err := s.dup.Seen(string(s.batch.ID), qr)
	if err != nil {
		s.log.Warn("supervisor: duplicate store lookup failed: %v\n", err)
		return false
	}
	return seen
}

func (s *Supervisor) applySignals(sig validator.Signals) {
	const flash = 150 * time.Millisecond
	if sig.Green {
		s.h.Indicator(hal.Green, flash)
	}
	if sig.Yellow {
		s.h.Indicator(hal.Yellow, flash)
	}
	if sig.Red {
		s.h.Indicator(hal.Red, flash)
	}
	if sig.Buzz {
		s.h.Buzz(flash)
	}
}

// handleLinkDown is the ARMED|SCANNING -> HALTED transition on link-down
// from spec 4.6: the link has already left its awaiting-scan state before
// this event is emitted, so no response byte is sent. The supervisor drops
// the handshake line to busy and moves to HALTED; the batch stays
// installed (paused, not ended).
func (s *Supervisor) handleLinkDown(ev plclink.Event) {
	s.state = StateHalted
	if err := s.h.SetReady(false); err != nil {
		s.log.Warn("supervisor: set_ready(false) on link-down failed: %v\n", err)
	}

	s.bus.Publish(events.Event{Kind: events.KindLinkDown, Time: time.Now(), Err: ev.Err})
}

// HandleHardwareError forwards a throttled HAL error report to the event
// bus and, if a scan is pending, sends the 'H' hardware-error response
// byte instead of leaving the PLC waiting, per spec section 7's "repeated
// failures over 5s escalate to a surfaced hardware error and 'H' to PLC."
func (s *Supervisor) HandleHardwareError(err error) {
	s.bus.Publish(events.Event{Kind: events.KindHardwareError, Time: time.Now(), Err: err})
	if s.state == StateScanning {
		if sendErr := s.link.SendResult('H'); sendErr != nil {
			s.log.Warn("supervisor: send 'H' for hardware error failed: %v\n", sendErr)
		}
		s.state = StateArmed
	}
}

func (s *Supervisor) writeRecovery() {
	if s.batch == nil {
		return
	}
	snap := RecoverySnapshot{
		BatchId:   string(s.batch.ID),
		Line:      s.batch.Line.String(),
		Accepted:  s.counters.Accepted,
		Duplicate: s.counters.Duplicate,
		Rejected:  s.counters.Rejected,
		Total:     s.counters.Total,
		LastQR:    s.lastQR,
		LastState: s.lastOutcome,
		UpdatedAt: time.Now(),
	}
	if err := WriteRecoverySnapshot(s.recoveryPath, snap); err != nil {
		s.log.Warn("supervisor: recovery snapshot write failed: %v\n", err)
	}
}
