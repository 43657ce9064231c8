package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToMatchingTopic(t *testing.T) {
	bus := New()
	var got []Event
	var mu sync.Mutex

	bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, QueueItemAdded)

	bus.Publish(QueueItemAdded, "payload-a")
	bus.Publish(QueueItemRemoved, "payload-b")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, QueueItemAdded, got[0].Topic)
	assert.Equal(t, "payload-a", got[0].Payload)
}

func TestBus_SubscribeAllTopicsWhenNoneGiven(t *testing.T) {
	bus := New()
	count := 0
	bus.Subscribe(func(Event) { count++ })

	bus.Publish(PlaybackStarted, nil)
	bus.Publish(PlaybackFinished, nil)

	assert.Equal(t, 2, count)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	count := 0
	id := bus.Subscribe(func(Event) { count++ }, EffectsChanged)

	bus.Publish(EffectsChanged, nil)
	bus.Unsubscribe(id)
	bus.Publish(EffectsChanged, nil)

	assert.Equal(t, 1, count)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := New()
	calledSecond := false

	bus.Subscribe(func(Event) { panic("boom") }, PlaybackError)
	bus.Subscribe(func(Event) { calledSecond = true }, PlaybackError)

	assert.NotPanics(t, func() {
		bus.Publish(PlaybackError, nil)
	})
	assert.True(t, calledSecond)
}
