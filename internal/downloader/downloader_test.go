package downloader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/resolver"
)

type fakeResolver struct {
	calls    int64
	fetchErr error
	delay    time.Duration
}

func (f *fakeResolver) Resolve(string, resolver.Iterator) (model.TrackDescriptor, error) {
	return model.TrackDescriptor{}, nil
}

func (f *fakeResolver) FetchArtifact(d model.TrackDescriptor, sink resolver.ProgressSink) (string, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	if sink != nil {
		sink(resolver.Progress{Phase: resolver.PhaseComplete, Percent: 100})
	}
	return "/tmp/" + d.Id, nil
}

func TestPipeline_FetchDeduplicatesConcurrentCalls(t *testing.T) {
	fr := &fakeResolver{delay: 20 * time.Millisecond}
	p := New(fr, eventbus.New(), Config{LookAhead: 1, MaxConcurrent: 2})
	item := model.QueueItem{Descriptor: model.TrackDescriptor{Id: "x"}}

	results := make(chan string, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			path, err := p.Fetch(context.Background(), item, false)
			results <- path
			errs <- err
		}()
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, "/tmp/x", <-results)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&fr.calls))
}

func TestPipeline_ToolUnavailableDoesNotRetry(t *testing.T) {
	fr := &fakeResolver{fetchErr: model.ErrToolUnavailable}
	p := New(fr, eventbus.New(), Config{LookAhead: 1, MaxConcurrent: 2})
	item := model.QueueItem{Descriptor: model.TrackDescriptor{Id: "y"}}

	_, err := p.Fetch(context.Background(), item, true)
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fr.calls))
}
