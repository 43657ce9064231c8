package wsrelay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/repository"
	"tryffel.net/go/airwave/internal/resolver"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(input string, yield resolver.Iterator) (model.TrackDescriptor, error) {
	return model.TrackDescriptor{Id: "id:" + input, Title: "title:" + input}, nil
}
func (fakeResolver) FetchArtifact(d model.TrackDescriptor, sink resolver.ProgressSink) (string, error) {
	return "/tmp/" + d.Id, nil
}

func dialRelay(t *testing.T, relay *Relay) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRelay_AddFrameEnqueuesAndReplies(t *testing.T) {
	bus := eventbus.New()
	q := queue.NewManager(bus, repository.NewMemory())
	relay := New(q, bus, fakeResolver{})
	conn := dialRelay(t, relay)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "add", Input: "song1", Requester: "alice"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp outboundFrame
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "added", resp.Type)

	items := q.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "id:song1", items[0].Id())
	assert.Equal(t, "alice", items[0].Requester)
}

func TestRelay_CommandPublishesOnBus(t *testing.T) {
	bus := eventbus.New()
	q := queue.NewManager(bus, repository.NewMemory())
	relay := New(q, bus, fakeResolver{})
	conn := dialRelay(t, relay)

	received := make(chan eventbus.Event, 1)
	bus.Subscribe(func(e eventbus.Event) { received <- e }, eventbus.PlaybackSkip)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "command", Command: "skip"}))

	select {
	case e := <-received:
		assert.Equal(t, eventbus.PlaybackSkip, e.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for skip to be published")
	}
}

func TestRelay_UnknownCommandRepliesError(t *testing.T) {
	bus := eventbus.New()
	q := queue.NewManager(bus, repository.NewMemory())
	relay := New(q, bus, fakeResolver{})
	conn := dialRelay(t, relay)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "command", Command: "nonsense"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp outboundFrame
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
}
