// Package sse delivers a JSON status document to every subscribed client
// on state change, debounced into a single delivery per burst, plus a 1 Hz
// progress tick while a track is playing.
package sse

import (
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/eventbus"
)

const (
	debounceWindow = 200 * time.Millisecond
	startupGrace   = 1 * time.Second
	periodicTick   = 1 * time.Second
	heartbeatEvery = 30 * time.Second
)

// StatusProvider builds the current status document. The broadcaster
// doesn't know the document's shape; it only knows when to ask for one.
type StatusProvider func() interface{}

type client struct {
	id     uint64
	ch     chan interface{}
	active bool
}

// Broadcaster fans status documents out to subscribed clients. Clients
// are added in a pending state and skipped by every broadcast until the
// caller activates them after writing its own first frame, so a concurrent
// debounced broadcast can never interleave with a client's own setup. No
// status document is sent at subscribe time; an activated client's first
// status document is the next broadcast.
type Broadcaster struct {
	status StatusProvider
	bus    *eventbus.Bus

	mu      sync.Mutex
	clients map[uint64]*client
	nextID  uint64

	startedAt      time.Time
	debounce       *time.Timer
	periodic       *time.Timer
	phaseIsPlaying func() bool
}

// New returns a Broadcaster that asks status for a fresh document and
// decides whether the periodic 1 Hz tick should run via phaseIsPlaying.
func New(bus *eventbus.Bus, status StatusProvider, phaseIsPlaying func() bool) *Broadcaster {
	return &Broadcaster{
		status:         status,
		bus:            bus,
		clients:        make(map[uint64]*client),
		startedAt:      time.Now(),
		phaseIsPlaying: phaseIsPlaying,
	}
}

// Start subscribes to every bus topic that should trigger a broadcast.
func (b *Broadcaster) Start() error {
	b.bus.Subscribe(func(eventbus.Event) {
		b.scheduleDebounced()
	},
		eventbus.QueueUpdated, eventbus.PlaybackStarted, eventbus.PlaybackFinished,
		eventbus.PlaybackPause, eventbus.PlaybackResume, eventbus.PlaybackSeek,
		eventbus.EffectsChanged, eventbus.ConnectionChanged,
	)
	return nil
}

// Subscribe registers a new client in the pending state and returns its
// event channel plus an activation function the caller must invoke after
// successfully writing its initial frame (the HTTP handler writes a
// "connected" frame, not a status document).
func (b *Broadcaster) Subscribe() (ch <-chan interface{}, activate func(), unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	c := &client{id: id, ch: make(chan interface{}, 8)}
	b.clients[id] = c
	b.mu.Unlock()

	activate = func() {
		b.mu.Lock()
		if cl, ok := b.clients[id]; ok {
			cl.active = true
		}
		b.mu.Unlock()
	}
	unsubscribe = func() {
		b.mu.Lock()
		if cl, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(cl.ch)
		}
		activeCount := len(b.clients)
		b.mu.Unlock()
		if activeCount == 0 {
			b.stopPeriodic()
		}
	}
	return c.ch, activate, unsubscribe
}

func (b *Broadcaster) scheduleDebounced() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.startedAt) < startupGrace {
		return
	}
	if b.debounce != nil {
		b.debounce.Stop()
	}
	b.debounce = time.AfterFunc(debounceWindow, b.broadcastNow)

	if b.phaseIsPlaying != nil && b.phaseIsPlaying() {
		b.ensurePeriodicLocked()
	} else {
		b.stopPeriodicLocked()
	}
}

func (b *Broadcaster) ensurePeriodicLocked() {
	if b.periodic != nil {
		return
	}
	b.periodic = time.AfterFunc(periodicTick, b.periodicTick)
}

func (b *Broadcaster) periodicTick() {
	b.broadcastNow()

	b.mu.Lock()
	stillPlaying := b.phaseIsPlaying != nil && b.phaseIsPlaying() && len(b.clients) > 0
	if stillPlaying {
		b.periodic = time.AfterFunc(periodicTick, b.periodicTick)
	} else {
		b.periodic = nil
	}
	b.mu.Unlock()
}

func (b *Broadcaster) stopPeriodic() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopPeriodicLocked()
}

func (b *Broadcaster) stopPeriodicLocked() {
	if b.periodic != nil {
		b.periodic.Stop()
		b.periodic = nil
	}
}

func (b *Broadcaster) broadcastNow() {
	doc := b.status()

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		if c.active {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		select {
		case c.ch <- doc:
		default:
			logrus.Warnf("sse: client %d channel full, dropping status frame", c.id)
		}
	}
}

// Event wraps a status document as a named gin-contrib/sse event for
// handlers that write directly to an http.ResponseWriter via sse.Encode.
func Event(doc interface{}) sse.Event {
	return sse.Event{Event: "status", Data: doc}
}

// HeartbeatInterval is exported so the HTTP handler can drive the
// comment-only keepalive ticker at the same cadence the design specifies.
const HeartbeatInterval = heartbeatEvery
