package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CK6170/cartridge-scan-supervisor/internal/dupstore"
	"github.com/CK6170/cartridge-scan-supervisor/internal/events"
	"github.com/CK6170/cartridge-scan-supervisor/internal/hal"
	"github.com/CK6170/cartridge-scan-supervisor/internal/logging"
	"github.com/CK6170/cartridge-scan-supervisor/internal/models"
	"github.com/CK6170/cartridge-scan-supervisor/internal/plclink"
)

// fakeLink is a test double for the supervisor.Link contract: it lets a
// test push scan-request/link-down events on demand and records every byte
// the supervisor sends back.
type fakeLink struct {
	events chan plclink.Event

	mu        sync.Mutex
	sent      []byte
	oob       []byte
	cancelled int
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan plclink.Event, 8)}
}

func (f *fakeLink) push(ev plclink.Event) { f.events <- ev }

func (f *fakeLink) NextEvent(ctx context.Context) (plclink.Event, bool) {
	select {
	case ev := <-f.events:
		return ev, true
	case <-ctx.Done():
		return plclink.Event{}, false
	}
}

func (f *fakeLink) SendResult(b byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeLink) SendOOB(b byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oob = append(f.oob, b)
	return nil
}

func (f *fakeLink) CancelPending() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeLink) lastSent() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return 0
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeLink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeSource hands back the same prepared (qr, ok) pair on every Acquire
// call, optionally after a delay. Unlike qrsource.Fixture it has no queue,
// so a value is not consumed by being delivered.
type fakeSource struct {
	qr    string
	ok    bool
	delay time.Duration
}

func (s *fakeSource) Acquire(ctx context.Context, deadline time.Time) (string, bool, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", false, nil
		case <-time.After(time.Until(deadline)):
			return "", false, nil
		}
	}
	select {
	case <-time.After(time.Until(deadline)):
		return "", false, nil
	default:
	}
	return s.qr, s.ok, nil
}

type harness struct {
	sup    *Supervisor
	link   *fakeLink
	source *fakeSource
	dup    *dupstore.Store
	h      *hal.Mock
	bus    *events.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	dup, err := dupstore.Open(filepath.Join(dir, "dup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dup.Close() })

	link := newFakeLink()
	source := &fakeSource{}
	log := logging.New(false)
	mockHAL := hal.NewMock(log)
	bus := events.NewBus()

	sup := New(link, mockHAL, dup, source, bus, log, Config{
		BatchLogDir:  filepath.Join(dir, "batches"),
		SetupLogDir:  filepath.Join(dir, "setup"),
		RecoveryPath: filepath.Join(dir, "recovery.json"),
	})

	return &harness{sup: sup, link: link, source: source, dup: dup, h: mockHAL, bus: bus}
}

func armedBatch(t *testing.T) *models.Batch {
	t.Helper()
	b := models.NewBatch("MVANC00001", models.Line('A'))
	mr, err := models.NewMouldRange("ANC", "1AANC000000001", "1AANC000099999", models.Line('A'))
	require.NoError(t, err)
	require.NoError(t, b.AddMould(mr))
	return b
}

// runOneEvent runs the supervisor loop just long enough to process events
// already queued on the link, then cancels it.
func runOneEvent(t *testing.T, h *harness) {
	t.Helper()
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	go func() {
		h.sup.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return h.link.sentCount() > 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestScenarioS1HappyPathPass(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))

	h.source.qr, h.source.ok = "1AANC000012345", true
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})

	runOneEvent(t, h)

	assert.Equal(t, byte('A'), h.link.lastSent())
	assert.Equal(t, 1, h.sup.Counters().Accepted)
	assert.Equal(t, StateArmed, h.sup.State())

	seen, err := h.dup.Seen("MVANC00001", "1AANC000012345")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, h.h.Ready(), "handshake line must end HIGH")
}

func TestScenarioS2Duplicate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))
	require.NoError(t, h.dup.Record("MVANC00001", "1AANC000012345"))

	h.source.qr, h.source.ok = "1AANC000012345", true
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})

	runOneEvent(t, h)

	assert.Equal(t, byte('D'), h.link.lastSent())
	assert.Equal(t, 1, h.sup.Counters().Duplicate)
}

func TestScenarioS3LineMismatch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))

	h.source.qr, h.source.ok = "1BANC000012345", true
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})

	runOneEvent(t, h)

	assert.Equal(t, byte('L'), h.link.lastSent())
	assert.Equal(t, 1, h.sup.Counters().Rejected)
}

func TestScenarioS4NoRead(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))

	h.source.ok = false // QR source never produces a value
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})

	runOneEvent(t, h)

	assert.Equal(t, byte('Q'), h.link.lastSent())
	assert.Equal(t, Counters{}, h.sup.Counters())
	assert.True(t, h.h.Ready())
}

func TestScenarioS5ScanBeforeArm(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateIdle, h.sup.State())

	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})

	runOneEvent(t, h)

	assert.Equal(t, byte('S'), h.link.lastSent())
	assert.Equal(t, StateIdle, h.sup.State())
}

func TestScenarioS6LinkFailureMidScan(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))

	// Drive the supervisor into SCANNING directly: the link itself would
	// have already cancelled the pending scan by the time LinkDown fires
	// (spec 4.6), so the fake only needs to model the event, not the race.
	h.sup.state = StateScanning

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	h.link.push(plclink.Event{Kind: plclink.EventLinkDown, Err: assertErr{}})
	h.sup.Run(ctx)

	assert.Equal(t, StateHalted, h.sup.State())
	assert.Equal(t, 0, h.link.sentCount(), "no response byte is ever sent for a failed link")
	assert.False(t, h.h.Ready(), "handshake line must be driven LOW")
}

type assertErr struct{}

func (assertErr) Error() string { return "serial port error" }

func TestLinkDownEventPublishedExactlyOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))

	ch, token := h.bus.Subscribe(8)
	defer h.bus.Unsubscribe(token)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	h.link.push(plclink.Event{Kind: plclink.EventLinkDown, Err: assertErr{}})
	h.sup.Run(ctx)
	cancel()

	count := 0
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindLinkDown {
				count++
			}
		default:
			assert.Equal(t, 1, count)
			return
		}
	}
}

func TestDuplicateDetectionPersistsAcrossRearm(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))

	h.source.qr, h.source.ok = "1AANC000012345", true
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})
	runOneEvent(t, h)
	assert.Equal(t, byte('A'), h.link.lastSent())

	// Second identical QR in the same batch must now read back DUPLICATE.
	h.link = newFakeLink()
	h.sup = New(h.link, h.h, h.dup, h.source, h.bus, logging.New(false), Config{
		BatchLogDir:  t.TempDir(),
		SetupLogDir:  t.TempDir(),
		RecoveryPath: filepath.Join(t.TempDir(), "recovery.json"),
	})
	require.NoError(t, h.sup.Arm(armedBatch(t), false))
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})
	runOneEvent(t, h)
	assert.Equal(t, byte('D'), h.link.lastSent())
}

func TestDuplicateStoreRecordFailureHaltsBatch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))
	require.NoError(t, h.dup.Close()) // every subsequent Record call now errors

	h.source.qr, h.source.ok = "1AANC000012345", true
	h.link.push(plclink.Event{Kind: plclink.EventScanRequest, Final: true, Deadline: time.Now().Add(2 * time.Second)})

	runOneEvent(t, h)

	assert.Equal(t, byte('B'), h.link.lastSent())
	assert.Equal(t, StateHalted, h.sup.State())
	assert.Nil(t, h.sup.Batch())
	assert.False(t, h.h.Ready(), "handshake line must be driven LOW on halt")
}

func TestResetCountersLeavesDuplicateStoreIntact(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))
	require.NoError(t, h.dup.Record("MVANC00001", "1AANC000012345"))

	h.sup.counters = Counters{Accepted: 3}
	h.sup.ResetCounters()
	assert.Equal(t, Counters{}, h.sup.Counters())

	seen, err := h.dup.Seen("MVANC00001", "1AANC000012345")
	require.NoError(t, err)
	assert.True(t, seen, "ResetCounters must not touch the duplicate store")
}

func TestResetBatchClearsDuplicatesForThatBatchOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dup.Record("MVANC00001", "1AANC000012345"))
	require.NoError(t, h.dup.Record("MVANC00002", "1AANC000099999"))

	require.NoError(t, h.sup.ResetBatch("MVANC00001"))

	seen, err := h.dup.Seen("MVANC00001", "1AANC000012345")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = h.dup.Seen("MVANC00002", "1AANC000099999")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestStopCancelsPendingScanAndHalts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Arm(armedBatch(t), true))
	h.sup.state = StateScanning

	h.sup.Stop()

	assert.Equal(t, StateHalted, h.sup.State())
	assert.Equal(t, 1, h.link.cancelled)
	assert.False(t, h.h.Ready())
	assert.Nil(t, h.sup.Batch())
}
