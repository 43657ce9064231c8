package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryffel.net/go/airwave/internal/eventbus"
)

func TestBroadcaster_PendingClientReceivesNothingUntilActivated(t *testing.T) {
	bus := eventbus.New()
	b := New(bus, func() interface{} { return "doc" }, func() bool { return false })
	b.startedAt = time.Now().Add(-2 * time.Second) // skip startup grace
	require.NoError(t, b.Start())

	ch, activate, unsubscribe := b.Subscribe()
	defer unsubscribe()

	bus.Publish(eventbus.QueueUpdated, nil)
	time.Sleep(300 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("pending client should not receive a broadcast")
	default:
	}

	activate()
}

func TestBroadcaster_DebounceCoalescesBurst(t *testing.T) {
	bus := eventbus.New()
	calls := 0
	b := New(bus, func() interface{} { calls++; return calls }, func() bool { return false })
	b.startedAt = time.Now().Add(-2 * time.Second) // skip startup grace
	require.NoError(t, b.Start())

	ch, activate, unsubscribe := b.Subscribe()
	activate()
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.QueueUpdated, nil)
	}

	time.Sleep(300 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("expected a coalesced broadcast")
	}
	select {
	case <-ch:
		t.Fatal("expected only one broadcast for a coalesced burst")
	default:
	}
	assert.Equal(t, 1, calls)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	bus := eventbus.New()
	b := New(bus, func() interface{} { return nil }, func() bool { return false })
	require.NoError(t, b.Start())

	ch, activate, unsubscribe := b.Subscribe()
	activate()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}
