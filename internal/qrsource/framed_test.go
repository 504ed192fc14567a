package qrsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFramedFiltersByTag(t *testing.T) {
	var onFrame func(tag, body string)
	f := NewFramed(func(fn func(tag, body string)) { onFrame = fn }, "SNS")

	onFrame("LCD", "ignored")
	onFrame("SNS", "1AANC000012345")

	qr, ok, err := f.Acquire(context.Background(), time.Now().Add(time.Second))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1AANC000012345", qr)
}

func TestFramedOnlyLatestFrameIsDelivered(t *testing.T) {
	var onFrame func(tag, body string)
	f := NewFramed(func(fn func(tag, body string)) { onFrame = fn }, "SNS")

	onFrame("SNS", "stale")
	onFrame("SNS", "fresh")

	qr, ok, _ := f.Acquire(context.Background(), time.Now().Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, "fresh", qr)
}

func TestFramedAcquireHonorsDeadline(t *testing.T) {
	var onFrame func(tag, body string)
	f := NewFramed(func(fn func(tag, body string)) { onFrame = fn }, "SNS")
	_ = onFrame

	_, ok, _ := f.Acquire(context.Background(), time.Now().Add(20*time.Millisecond))
	assert.False(t, ok)
}

func TestFramedAcquireHonorsContextCancellation(t *testing.T) {
	var onFrame func(tag, body string)
	f := NewFramed(func(fn func(tag, body string)) { onFrame = fn }, "SNS")
	_ = onFrame

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, ok, err := f.Acquire(ctx, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	assert.False(t, ok)
}
