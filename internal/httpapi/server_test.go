package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryffel.net/go/airwave/internal/downloader"
	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/orchestrator"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/repository"
	"tryffel.net/go/airwave/internal/resolver"
	"tryffel.net/go/airwave/internal/sse"
)

type stubResolver struct{}

func (stubResolver) Resolve(input string, yield resolver.Iterator) (model.TrackDescriptor, error) {
	return model.TrackDescriptor{Id: "track:" + input, Title: input}, nil
}
func (stubResolver) FetchArtifact(d model.TrackDescriptor, sink resolver.ProgressSink) (string, error) {
	return "/tmp/" + d.Id, nil
}

// nullAdapter is a playerctl.Adapter that blocks in Play until its context
// is canceled, so tests never actually observe a natural finish.
type nullAdapter struct{ volume int }

func newNullAdapter() *nullAdapter { return &nullAdapter{volume: 100} }

func (a *nullAdapter) Play(ctx context.Context, filePath string, startOffsetMs int64) error {
	<-ctx.Done()
	return nil
}
func (a *nullAdapter) Stop() error                { return nil }
func (a *nullAdapter) Pause() error                { return nil }
func (a *nullAdapter) Resume() error               { return nil }
func (a *nullAdapter) Seek(int64) error            { return nil }
func (a *nullAdapter) GetPosition() (int64, error) { return 0, nil }
func (a *nullAdapter) SetVolume(percent int) error { a.volume = percent; return nil }
func (a *nullAdapter) GetVolume() (int, error)     { return a.volume, nil }
func (a *nullAdapter) UpdateFilters(string) error  { return nil }
func (a *nullAdapter) IsPlaying() bool             { return false }
func (a *nullAdapter) Name() string                { return "null" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := eventbus.New()
	repo := repository.NewMemory()
	q := queue.NewManager(bus, repo)
	res := stubResolver{}
	dl := downloader.New(res, bus, downloader.Config{LookAhead: 1, MaxConcurrent: 2})
	adapter := newNullAdapter()
	orch := orchestrator.New(bus, q, repo, dl, adapter, false)
	require.NoError(t, orch.LoadSnapshot())
	require.NoError(t, orch.Start())
	bcast := sse.New(bus, func() interface{} { return statusDoc(q, orch) }, func() bool {
		phase, _, _, _ := orch.Snapshot()
		return phase == orchestrator.PhasePlaying
	})
	require.NoError(t, bcast.Start())
	return New(q, orch, res, dl, adapter, bus, bcast)
}

func statusDoc(q *queue.Manager, orch *orchestrator.Orchestrator) map[string]interface{} {
	phase, _, played, _ := orch.Snapshot()
	return map[string]interface{}{"phase": phase, "songsPlayed": played, "queue": q.Snapshot()}
}

func TestAddToQueue_Succeeds(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(addRequest{URL: "http://example.com/a", Requester: "alice"})
	req := httptest.NewRequest("POST", "/api/queue/add", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestAddToQueue_DuplicateReturnsConflict(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(addRequest{URL: "http://example.com/dup", Requester: "alice"})

	req1 := httptest.NewRequest("POST", "/api/queue/add", bytes.NewReader(body))
	req1.Header.Set("Content-Type", "application/json")
	w1 := httptest.NewRecorder()
	s.Engine().ServeHTTP(w1, req1)
	require.Equal(t, 200, w1.Code)

	req2 := httptest.NewRequest("POST", "/api/queue/add", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	s.Engine().ServeHTTP(w2, req2)
	assert.Equal(t, 409, w2.Code)
}

func TestSkip_RejectedWhenNothingPlaying(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/queue/skip", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}

func TestSetVolume_RejectsOutOfRange(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(volumeRequest{Volume: 150})
	req := httptest.NewRequest("PUT", "/api/volume", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}

func TestReorder_InvalidIndexRejected(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(reorderRequest{FromIndex: 0, ToIndex: 1})
	req := httptest.NewRequest("POST", "/api/queue/reorder", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}
