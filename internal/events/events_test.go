package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusZeroValueIsUsable(t *testing.T) {
	var b Bus
	ch, token := b.Subscribe(1)
	b.Publish(Event{Kind: KindBatchArmed})
	ev := <-ch
	assert.Equal(t, KindBatchArmed, ev.Kind)
	b.Unsubscribe(token)
}

func TestSubscribePublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, t1 := b.Subscribe(1)
	ch2, t2 := b.Subscribe(1)
	defer b.Unsubscribe(t1)
	defer b.Unsubscribe(t2)

	b.Publish(Event{Kind: KindScanCompleted, QR: "1AANC000012345"})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, "1AANC000012345", ev1.QR)
	assert.Equal(t, "1AANC000012345", ev2.QR)
}

func TestPublishDropsOnFullBufferRatherThanBlocking(t *testing.T) {
	b := NewBus()
	ch, token := b.Subscribe(1)
	defer b.Unsubscribe(token)

	b.Publish(Event{Kind: KindBatchArmed})
	b.Publish(Event{Kind: KindBatchHalted}) // buffer full: dropped, not blocked

	ev := <-ch
	assert.Equal(t, KindBatchArmed, ev.Kind)
	select {
	case <-ch:
		t.Fatal("expected the second event to have been dropped")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, token := b.Subscribe(1)
	b.Unsubscribe(token)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishAfterUnsubscribeDoesNotDeliver(t *testing.T) {
	b := NewBus()
	ch, token := b.Subscribe(4)
	b.Unsubscribe(token)

	b.Publish(Event{Kind: KindBatchArmed})

	_, ok := <-ch
	assert.False(t, ok, "channel must already be closed, not still receiving events")
}

func TestKindStringCoversAllKinds(t *testing.T) {
	kinds := []Kind{
		KindBatchArmed, KindBatchHalted, KindScanCompleted,
		KindLinkDown, KindHardwareError, KindSetupModeEntered,
		KindSensorUpdate, KindButtonUpdate, KindLCDText,
	}
	for _, k := range kinds {
		require.NotEqual(t, "Unknown", k.String())
	}
}
