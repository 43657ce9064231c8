// Package wsrelay is the transport edge for the external chat messenger
// adapter: a websocket listener that accepts connections from the
// adapter process and translates their frames into Queue Manager
// and Event Bus calls. The adapter itself (talking to Discord, IRC, or
// whatever chat platform) lives entirely outside this process; this
// package only speaks the relay's own small JSON frame protocol.
package wsrelay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/resolver"
)

const (
	writeTimeout = 15 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is one relay request from the chat adapter: either a track
// request ("add") or a transport command ("command") mapped onto the
// event bus's playback topics.
type inboundFrame struct {
	Type      string `json:"type"`
	Input     string `json:"input"`
	Requester string `json:"requester"`
	Channel   string `json:"channel"`
	Command   string `json:"command"`
}

// outboundFrame is a reply the relay pushes back to the adapter, which
// forwards Text to the originating chat channel.
type outboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var commandTopics = map[string]eventbus.Topic{
	"pause":  eventbus.PlaybackPause,
	"resume": eventbus.PlaybackResume,
	"skip":   eventbus.PlaybackSkip,
}

// Relay upgrades HTTP connections to websockets and serves the chat
// adapter protocol on each until it closes. Every open connection keeps
// being served; replies go to the most recently opened one, and earlier
// connections are not closed when a new one arrives.
type Relay struct {
	q        *queue.Manager
	bus      *eventbus.Bus
	resolver resolver.Resolver

	mu   sync.Mutex
	conn *websocket.Conn
}

// New returns a Relay that resolves "add" frames through res and enqueues
// at normal priority every descriptor resolution yields.
func New(q *queue.Manager, bus *eventbus.Bus, res resolver.Resolver) *Relay {
	return &Relay{q: q, bus: bus, resolver: res}
}

// ServeHTTP upgrades the request and blocks, relaying frames until the
// connection closes or errors.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.Errorf("wsrelay: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stopPing := r.startPing(conn)
	defer stopPing()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logrus.Debugf("wsrelay: connection closed: %v", err)
			return
		}
		r.handleFrame(raw)
	}
}

func (r *Relay) startPing(conn *websocket.Conn) func() {
	ticker := time.NewTicker(pingInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				r.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				r.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func (r *Relay) handleFrame(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logrus.Warnf("wsrelay: malformed frame: %v", err)
		return
	}

	switch frame.Type {
	case "add":
		r.handleAdd(frame)
	case "command":
		r.handleCommand(frame)
	default:
		logrus.Warnf("wsrelay: unknown frame type %q", frame.Type)
	}
}

func (r *Relay) handleAdd(frame inboundFrame) {
	requesterKey := frame.Requester
	descriptor, err := r.resolver.Resolve(frame.Input, func(d model.TrackDescriptor) {
		r.enqueue(d, frame, requesterKey)
	})
	if err != nil {
		r.reply(outboundFrame{Type: "error", Text: "could not resolve: " + err.Error()})
		return
	}
	if err := r.enqueue(descriptor, frame, requesterKey); err != nil {
		r.reply(outboundFrame{Type: "error", Text: err.Error()})
		return
	}
	r.reply(outboundFrame{Type: "added", Text: descriptor.Title})
}

func (r *Relay) enqueue(d model.TrackDescriptor, frame inboundFrame, requesterKey string) error {
	return r.q.Add(model.QueueItem{
		Descriptor:    d,
		Requester:     frame.Requester,
		RequesterKey:  &requesterKey,
		OriginChannel: frame.Channel,
		Priority:      model.PriorityNormal,
		DownloadState: model.PendingState(),
	})
}

func (r *Relay) handleCommand(frame inboundFrame) {
	topic, ok := commandTopics[frame.Command]
	if !ok {
		r.reply(outboundFrame{Type: "error", Text: "unknown command: " + frame.Command})
		return
	}
	r.bus.Publish(topic, nil)
	r.reply(outboundFrame{Type: "ack", Text: frame.Command})
}

func (r *Relay) reply(frame outboundFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := r.conn.WriteJSON(frame); err != nil {
		logrus.Warnf("wsrelay: write failed: %v", err)
	}
}
