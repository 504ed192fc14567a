package plclink

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/CK6170/cartridge-scan-supervisor/internal/hal"
	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
)

// Byte-level protocol constants from spec section 6.1.
const (
	cmdScanRetry byte = 0x14
	cmdScanFinal byte = 0x13
	cmdStop      byte = 0x00
)

// DefaultResponseTimeout is CONTROLLER_RESPONSE_TIMEOUT_MS's documented
// default (spec 6.4), used when Open is passed a zero responseTimeout.
const DefaultResponseTimeout = 12 * time.Second

// DefaultBusySettle is BUSY_SETTLE_MS's documented default (spec 6.4), used
// when Open is passed a zero busySettle.
const DefaultBusySettle = 20 * time.Millisecond

// EventKind distinguishes the event types carried on the link's event
// queue. Link itself queues only EventScanRequest and EventLinkDown;
// framed messages are delivered to OnFrame listeners instead, so Link never
// queues an EventFrame.
type EventKind int

const (
	EventScanRequest EventKind = iota
	EventFrame
	EventLinkDown
)

// Event is one message handed from the link's reader task to the
// supervisor's application task.
type Event struct {
	Kind     EventKind
	Final    bool      // EventScanRequest: true for a 0x13 final attempt
	Deadline time.Time // EventScanRequest: absolute response deadline
	Frame    Frame     // EventFrame
	Err      error     // EventLinkDown
}

// linkState is the link-side state machine from spec section 4.5.
type linkState int

const (
	stateIdle linkState = iota
	stateAwaitingScan
	stateDown
)

// Link owns the UART and the handshake GPIO line on the PLC's behalf (spec
// section 5: "the UART is owned solely by the PLC Link"). It runs a
// dedicated reader goroutine that never blocks the application task,
// forwarding events through an eventQueue (see queue.go).
type Link struct {
	port io.ReadWriteCloser
	h    hal.HAL
	log  *logging.Logger

	mu             sync.Mutex
	state          linkState
	deadline       time.Time
	final          bool
	responseSent   bool
	events         *eventQueue
	tok            *Tokenizer
	frameListeners []func(Frame)

	responseTimeout time.Duration
	busySettle      time.Duration
}

// Open opens portName at baud 8N1 and returns a Link ready to read. The
// handshake line is driven LOW/busy by h before this returns, regardless of
// the GPIO backend's own startup policy, to guarantee the ordering spec 4.1
// requires ("driven LOW before the serial port is opened"). responseTimeout
// and busySettle are the operator-configurable CONTROLLER_RESPONSE_TIMEOUT_MS
// and BUSY_SETTLE_MS (spec 6.4); a zero value falls back to its documented
// default.
func Open(portName string, baud int, h hal.HAL, log *logging.Logger, responseTimeout, busySettle time.Duration) (*Link, error) {
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	if busySettle <= 0 {
		busySettle = DefaultBusySettle
	}

	if err := h.SetReady(false); err != nil {
		log.Warn("plclink: initial busy assert failed: %v\n", err)
	}

	cfg := &serial.Config{
		Name:        portName,
		Baud:        baud,
		Parity:      serial.ParityNone,
		Size:        8,
		StopBits:    serial.Stop1,
		ReadTimeout: 100 * time.Millisecond,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("plclink: open %s: %w", portName, err)
	}

	l := &Link{
		port:            port,
		h:               h,
		log:             log,
		state:           stateIdle,
		events:          newEventQueue(64),
		tok:             NewTokenizer(),
		responseTimeout: responseTimeout,
		busySettle:      busySettle,
	}
	go l.readLoop()
	return l, nil
}

// OnFrame registers a listener invoked (on the reader goroutine) for every
// framed <TAG:BODY> message, independent of the scan-command state machine,
// per spec 4.5: "do not alter the scan state machine." Every registered
// listener sees every frame and is expected to filter by Frame.Tag; this
// lets the QR source (filtering on its own tag) and the sensor/button/LCD
// forwarder (spec 6.1: SNS/BTN/LCD frames "MUST be forwarded to listeners")
// both observe the same stream without one registration clobbering the
// other.
func (l *Link) OnFrame(fn func(Frame)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frameListeners = append(l.frameListeners, fn)
}

// NextEvent blocks until the supervisor has an event to act on, or ctx is
// cancelled.
func (l *Link) NextEvent(ctx context.Context) (Event, bool) {
	return l.events.next(ctx)
}

// readLoop is the link's sole UART reader; it never blocks the supervisor.
// It queues ScanRequest and LinkDown events; frames go to the OnFrame
// listeners and are not queued.
func (l *Link) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		for i := 0; i < n; i++ {
			l.feed(buf[i])
		}
		if err != nil {
			if err == io.EOF {
				continue
			}
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				l.checkDeadline()
				continue
			}
			l.goDown(err)
			return
		}
		l.checkDeadline()
	}
}

func (l *Link) feed(b byte) {
	for _, tok := range l.tok.Feed(b) {
		switch tok.Kind {
		case TokenFrame:
			l.mu.Lock()
			listeners := append([]func(Frame){}, l.frameListeners...)
			l.mu.Unlock()
			for _, listener := range listeners {
				listener(tok.Frame)
			}
		case TokenByte:
			l.handleCommandByte(tok.Byte)
		}
	}
}

func (l *Link) handleCommandByte(b byte) {
	switch b {
	case cmdScanRetry, cmdScanFinal:
		l.beginScan(b == cmdScanFinal)
	case cmdStop:
		// Informational only per spec 6.1.
	default:
		// Unrecognized stray byte outside a frame; ignored.
	}
}

func (l *Link) beginScan(final bool) {
	l.mu.Lock()
	wasAwaiting := l.state == stateAwaitingScan
	if wasAwaiting {
		// Nested scan command: protocol error per spec 4.5. Discard the
		// pending scan and send 'S' before processing the new command.
		l.state = stateIdle
	}
	l.mu.Unlock()

	if wasAwaiting {
		l.writeByte('S')
	}

	if err := l.h.SetReady(false); err != nil {
		l.log.Warn("plclink: busy assert failed: %v\n", err)
	}

	// busySettle/responseTimeout are set once by Open and never mutated
	// afterward, so they are safe to read without holding mu. Sleeping here,
	// before the ScanRequest event reaches the supervisor, is what makes the
	// supervisor's QR source trigger only after the PLC has had time to
	// sample the busy line (spec 6.1's timing contract).
	busySettle := l.busySettle
	if busySettle <= 0 {
		busySettle = DefaultBusySettle
	}
	time.Sleep(busySettle)

	responseTimeout := l.responseTimeout
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	deadline := time.Now().Add(responseTimeout)

	l.mu.Lock()
	l.state = stateAwaitingScan
	l.deadline = deadline
	l.final = final
	l.responseSent = false
	l.mu.Unlock()

	l.events.push(Event{Kind: EventScanRequest, Final: final, Deadline: deadline})
}

// checkDeadline transmits 'Q' and releases busy if the pending scan's
// deadline has passed without a SendResult call, per spec 4.5's
// "AWAITING_SCAN + deadline passed" transition. Called from the reader
// goroutine after every read, so a deadline is never missed by more than
// one read-timeout interval.
func (l *Link) checkDeadline() {
	l.mu.Lock()
	expired := l.state == stateAwaitingScan && !l.responseSent && time.Now().After(l.deadline)
	if expired {
		l.state = stateIdle
		l.responseSent = true
	}
	l.mu.Unlock()

	if expired {
		l.writeByte('Q')
		if err := l.h.SetReady(true); err != nil {
			l.log.Warn("plclink: ready release failed: %v\n", err)
		}
	}
}

func (l *Link) goDown(err error) {
	l.mu.Lock()
	l.state = stateDown
	l.mu.Unlock()
	if setErr := l.h.SetReady(false); setErr != nil {
		l.log.Warn("plclink: busy assert on link-down failed: %v\n", setErr)
	}
	l.events.push(Event{Kind: EventLinkDown, Err: err})
}

// SendResult transmits the single ASCII response byte mapped from a
// validator outcome (or a protocol/timeout byte) and releases busy,
// completing the AWAITING_SCAN -> IDLE transition. It is a no-op (but not
// an error) if the pending scan already timed out or the link is down.
func (l *Link) SendResult(b byte) error {
	l.mu.Lock()
	if l.state != stateAwaitingScan || l.responseSent {
		l.mu.Unlock()
		return nil
	}
	l.state = stateIdle
	l.responseSent = true
	l.mu.Unlock()

	l.writeByte(b)
	return l.h.SetReady(true)
}

// SendOOB transmits an out-of-band byte not sent in response to a scan
// (e.g. 'G' on arm, 'H' on halt), per spec 6.1.
func (l *Link) SendOOB(b byte) error {
	l.writeByte(b)
	return nil
}

// CancelPending discards any in-flight scan without sending a byte; a later
// SendResult for that scan is a no-op. The supervisor's Stop calls it after
// sending its 'S' response.
func (l *Link) CancelPending() {
	l.mu.Lock()
	l.state = stateIdle
	l.responseSent = true
	l.mu.Unlock()
}

func (l *Link) writeByte(b byte) {
	if _, err := l.port.Write([]byte{b}); err != nil {
		l.log.Warn("plclink: write %q failed: %v\n", b, err)
	}
}

// Close releases the underlying serial port.
func (l *Link) Close() error {
	return l.port.Close()
}
