package plclink

import (
	"context"
	"errors"
	"runtime"

	"code.hybscloud.com/lfq"
)

// eventQueue pairs an lfq SPSC queue with a 1-buffered wake channel so the
// single consumer (the supervisor's application task) can block in a
// select instead of polling. The single producer (the link's reader
// goroutine) never blocks on a channel send; if the queue is full, push
// retries, yielding the processor between attempts, until the consumer
// frees a slot.
//
// This realizes spec section 5's "they communicate by message passing"
// between the serial reader and the application task using the pack's
// lock-free queue package (hayabusa-cloud-lfq) rather than a plain Go
// channel: an SPSC Enqueue on a queue with free space is wait-free.
type eventQueue struct {
	q    *lfq.SPSC[Event]
	wake chan struct{}
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{
		q:    lfq.NewSPSC[Event](capacity),
		wake: make(chan struct{}, 1),
	}
}

// push enqueues ev and wakes the consumer. Called only from the reader
// goroutine (single producer).
func (eq *eventQueue) push(ev Event) {
	for {
		if err := eq.q.Enqueue(&ev); err == nil {
			break
		}
		// Queue briefly full (consumer lagging): yield and retry. The
		// link only ever has a handful of events in flight, so this loop
		// is not expected to spin for long.
		runtime.Gosched()
	}
	select {
	case eq.wake <- struct{}{}:
	default:
	}
}

// next blocks until an event is available or ctx is cancelled; it also
// returns false if Dequeue fails with an error other than ErrWouldBlock.
// Called only from the consumer (single consumer).
func (eq *eventQueue) next(ctx context.Context) (Event, bool) {
	for {
		if ev, err := eq.q.Dequeue(); err == nil {
			return ev, true
		} else if !errors.Is(err, lfq.ErrWouldBlock) {
			var zero Event
			return zero, false
		}

		select {
		case <-eq.wake:
			continue
		case <-ctx.Done():
			var zero Event
			return zero, false
		}
	}
}
