package bus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/bus"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(bus.Offset(42))

	select {
	case msg := <-sub.Recv():
		require.Equal(t, bus.Offset(42), msg.Offset)
		require.Zero(t, msg.Lagged)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()
	require.Equal(t, 1, b.Len())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.Len())
}

func TestOverflowSignalsLag(t *testing.T) {
	b := bus.New(1)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Publish(bus.Offset(i))
	}

	first := <-sub.Recv()
	require.Equal(t, bus.Offset(0), first.Offset)

	b.Publish(bus.Offset(99))
	second := <-sub.Recv()
	require.Greater(t, second.Lagged, uint64(0))
}
