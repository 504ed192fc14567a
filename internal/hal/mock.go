package hal

import (
	"sync"
	"time"

	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
)

// Mock is the mandatory development-host HAL backend. It logs every
// transition instead of touching real pins, and starts with the handshake
// line LOW (busy), matching the startup policy in spec section 4.1.
type Mock struct {
	mu      sync.Mutex
	ready   bool
	log     *logging.Logger
	errs    *errorThrottle
	failing bool // test hook: force SetReady to report an error
}

// NewMock constructs a Mock HAL. The handshake line starts LOW/busy.
func NewMock(log *logging.Logger) *Mock {
	m := &Mock{log: log, errs: newErrorThrottle(5 * time.Second)}
	return m
}

func (m *Mock) SetReady(ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		err := errMockWriteFailed
		m.errs.report(err)
		return err
	}
	m.ready = ready
	if m.log != nil {
		state := "BUSY"
		if ready {
			state = "READY"
		}
		m.log.Debug("hal(mock): READY -> %s\n", state)
	}
	return nil
}

// Ready reports the last level asserted, for tests.
func (m *Mock) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// SetFailing is a test hook: while true, SetReady fails and reports an
// error (subject to the usual 5-second throttle).
func (m *Mock) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *Mock) Indicator(color Color, duration time.Duration) {
	if m.log != nil {
		m.log.Debug("hal(mock): indicator %s for %s\n", color, duration)
	}
}

func (m *Mock) Buzz(duration time.Duration) {
	if m.log != nil {
		m.log.Debug("hal(mock): buzz for %s\n", duration)
	}
}

func (m *Mock) Errors() <-chan error { return m.errs.out }

func (m *Mock) Close() error { return nil }

var errMockWriteFailed = mockWriteError{}

type mockWriteError struct{}

func (mockWriteError) Error() string { return "hal(mock): simulated pin write failure" }
