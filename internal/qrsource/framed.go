package qrsource

import (
	"context"
	"time"
)

// Framed adapts an in-band serial-framed scanner (spec 4.4(a): QR text
// delivered as a <TAG:BODY> frame sharing the PLC's own UART) into the
// Source contract. It filters frames by tag so unrelated frames (e.g.
// <LCD:...>, <BTN:...>) pass through untouched to other listeners.
type Framed struct {
	tag string

	pending chan string
}

// NewFramed reports frames tagged tag (for example "QR") as QR
// acquisitions. register is the link's OnFrame registration call, passed
// as a closure so this package need not import plclink.
func NewFramed(register func(fn func(tag, body string)), tag string) *Framed {
	f := &Framed{
		tag:     tag,
		pending: make(chan string, 1),
	}
	register(f.onFrame)
	return f
}

func (f *Framed) onFrame(tag, body string) {
	if tag != f.tag {
		return
	}
	select {
	case <-f.pending:
	default:
	}
	select {
	case f.pending <- body:
	default:
	}
}

// Acquire waits for the next matching frame, the deadline, or ctx
// cancellation.
func (f *Framed) Acquire(ctx context.Context, deadline time.Time) (string, bool, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case qr := <-f.pending:
		return qr, true, nil
	case <-ctx.Done():
		return "", false, nil
	case <-timer.C:
		return "", false, nil
	}
}
