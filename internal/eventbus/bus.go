// Package eventbus is the single shared collaborator every other component
// in airwave depends on. It is a synchronous, best-effort, in-process
// publish/subscribe bus over a closed set of topics: components such as
// the queue, the ingress relay and the player adapters call Publish, and
// the orchestrator, the SSE broadcaster and the composition root call
// Subscribe.
package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Topic is one of the closed set of event names airwave ever publishes.
type Topic string

const (
	QueueItemAdded   Topic = "QUEUE_ITEM_ADDED"
	QueueItemRemoved Topic = "QUEUE_ITEM_REMOVED"
	QueueReordered   Topic = "QUEUE_REORDERED"
	QueueCleared     Topic = "QUEUE_CLEARED"
	QueueUpdated     Topic = "QUEUE_UPDATED"

	PlaybackRequested Topic = "PLAYBACK_REQUESTED"
	PlaybackStarted   Topic = "PLAYBACK_STARTED"
	PlaybackFinished  Topic = "PLAYBACK_FINISHED"
	PlaybackPaused    Topic = "PLAYBACK_PAUSED"
	PlaybackResumed   Topic = "PLAYBACK_RESUMED"
	PlaybackSeek      Topic = "PLAYBACK_SEEK"
	PlaybackSkip      Topic = "PLAYBACK_SKIP"
	PlaybackPause     Topic = "PLAYBACK_PAUSE"
	PlaybackResume    Topic = "PLAYBACK_RESUME"
	PlaybackError     Topic = "PLAYBACK_ERROR"

	EffectsChanged    Topic = "EFFECTS_CHANGED"
	ConnectionChanged Topic = "CONNECTION_CHANGED"
)

// Event is one published occurrence. Payload's concrete type depends on
// Topic; subscribers type-assert according to which topics they asked for.
type Event struct {
	Topic   Topic
	Payload interface{}
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block. A handler may itself call
// Publish: the bus lock is released before dispatch, so the nested
// delivery completes before the outer Publish moves on, and a handler that
// republishes its own topic receives that event again.
type Handler func(Event)

type subscription struct {
	id      uint64
	topics  map[Topic]bool
	handler Handler
}

// Bus fans out published events to subscribed handlers. The zero value is
// not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers handler for the given topics. An empty topics list
// subscribes to everything. The returned id is passed to Unsubscribe.
func (b *Bus) Subscribe(handler Handler, topics ...Topic) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	set := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	b.subs[id] = &subscription{id: id, topics: set, handler: handler}
	return id
}

// Unsubscribe removes a previously registered handler. It is a no-op if id
// is unknown or already removed.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers event to every subscriber interested in its topic. A
// handler that panics is logged and isolated; it never takes down the
// publisher or other subscribers.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if len(sub.topics) == 0 || sub.topics[topic] {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(h, event)
	}
}

func dispatch(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("eventbus: handler for %s panicked: %v", event.Topic, r)
		}
	}()
	handler(event)
}
