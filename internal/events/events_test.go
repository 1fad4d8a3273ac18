package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)

	bus.Publish(IntentCreated, map[string]string{"intentId": "pi_1"})

	select {
	case ev := <-sub:
		assert.Equal(t, IntentCreated, ev.Type)
		assert.Equal(t, "pi_1", ev.Data["intentId"])
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	_ = bus.Subscribe(1) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(OrderReleased, map[string]string{"orderId": "1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}

func TestNilBusPublishIsSafe(t *testing.T) {
	var bus *Bus
	require.NotPanics(t, func() {
		bus.Publish(IntentSettled, nil)
	})
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	bus.Publish(OrderDisputed, map[string]string{"orderId": "7"})

	for _, sub := range []<-chan Event{a, b} {
		select {
		case ev := <-sub:
			assert.Equal(t, OrderDisputed, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}
