package orchestrator_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tryffel.net/go/airwave/internal/downloader"
	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/orchestrator"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/repository"
	"tryffel.net/go/airwave/internal/resolver"
)

// fakeAdapter is a minimal playerctl.Adapter that finishes immediately
// when told to, letting tests control exactly when PLAYBACK_FINISHED is
// published without waiting on a real subprocess.
type fakeAdapter struct {
	mu      sync.Mutex
	playing bool
	endCh   chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{endCh: make(chan struct{}, 8)} }

func (f *fakeAdapter) Play(ctx context.Context, filePath string, startOffsetMs int64) error {
	f.mu.Lock()
	f.playing = true
	f.mu.Unlock()
	<-f.endCh
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	return nil
}
func (f *fakeAdapter) Stop() error                 { return nil }
func (f *fakeAdapter) Pause() error                { return nil }
func (f *fakeAdapter) Resume() error               { return nil }
func (f *fakeAdapter) Seek(int64) error            { return nil }
func (f *fakeAdapter) GetPosition() (int64, error) { return 0, nil }
func (f *fakeAdapter) SetVolume(int) error         { return nil }
func (f *fakeAdapter) GetVolume() (int, error)     { return 100, nil }
func (f *fakeAdapter) UpdateFilters(string) error  { return nil }
func (f *fakeAdapter) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}
func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) end()         { f.endCh <- struct{}{} }

type instantResolver struct{}

func (instantResolver) Resolve(string, resolver.Iterator) (model.TrackDescriptor, error) {
	return model.TrackDescriptor{}, nil
}
func (instantResolver) FetchArtifact(d model.TrackDescriptor, sink resolver.ProgressSink) (string, error) {
	return "/tmp/" + d.Id, nil
}

func newHarness() (*orchestrator.Orchestrator, *queue.Manager, *fakeAdapter, *eventbus.Bus) {
	bus := eventbus.New()
	repo := repository.NewMemory()
	q := queue.NewManager(bus, repo)
	dl := downloader.New(instantResolver{}, bus, downloader.Config{LookAhead: 1, MaxConcurrent: 2})
	adapter := newFakeAdapter()
	orch := orchestrator.New(bus, q, repo, dl, adapter, false)
	Expect(orch.LoadSnapshot()).To(Succeed())
	Expect(orch.Start()).To(Succeed())
	return orch, q, adapter, bus
}

var _ = Describe("Orchestrator", func() {
	It("transitions Idle -> Preparing -> Playing when an item is added to an empty queue", func() {
		orch, q, adapter, _ := newHarness()

		Expect(q.Add(model.QueueItem{Descriptor: model.TrackDescriptor{Id: "a"}, Priority: model.PriorityNormal})).To(Succeed())

		Eventually(func() bool { return adapter.IsPlaying() }, time.Second).Should(BeTrue())
		phase, current, _, _ := orch.Snapshot()
		Expect(phase).To(Equal(orchestrator.PhasePlaying))
		Expect(current.Item.Id()).To(Equal("a"))
	})

	It("advances to the next item and increments songsPlayed on PLAYBACK_FINISHED", func() {
		orch, q, adapter, bus := newHarness()

		Expect(q.Add(model.QueueItem{Descriptor: model.TrackDescriptor{Id: "a"}, Priority: model.PriorityNormal})).To(Succeed())
		Expect(q.Add(model.QueueItem{Descriptor: model.TrackDescriptor{Id: "b"}, Priority: model.PriorityNormal})).To(Succeed())

		Eventually(func() bool { return adapter.IsPlaying() }, time.Second).Should(BeTrue())
		adapter.end()
		bus.Publish(eventbus.PlaybackFinished, nil)

		Eventually(func() int64 {
			_, _, played, _ := orch.Snapshot()
			return played
		}, time.Second).Should(Equal(int64(1)))

		Eventually(func() string {
			_, current, _, _ := orch.Snapshot()
			if current == nil {
				return ""
			}
			return current.Item.Id()
		}, time.Second).Should(Equal("b"))
	})

	It("pauses and resumes, moving Playing -> Paused -> Playing", func() {
		orch, q, adapter, bus := newHarness()
		Expect(q.Add(model.QueueItem{Descriptor: model.TrackDescriptor{Id: "a"}, Priority: model.PriorityNormal})).To(Succeed())
		Eventually(func() bool { return adapter.IsPlaying() }, time.Second).Should(BeTrue())

		bus.Publish(eventbus.PlaybackPause, nil)
		Eventually(func() orchestrator.Phase {
			phase, _, _, _ := orch.Snapshot()
			return phase
		}, time.Second).Should(Equal(orchestrator.PhasePaused))

		time.Sleep(20 * time.Millisecond)
		bus.Publish(eventbus.PlaybackResume, nil)
		Eventually(func() orchestrator.Phase {
			phase, _, _, _ := orch.Snapshot()
			return phase
		}, time.Second).Should(Equal(orchestrator.PhasePlaying))
	})

	It("returns to Idle when the queue is empty after the last item finishes", func() {
		orch, q, adapter, bus := newHarness()
		Expect(q.Add(model.QueueItem{Descriptor: model.TrackDescriptor{Id: "only"}, Priority: model.PriorityNormal})).To(Succeed())
		Eventually(func() bool { return adapter.IsPlaying() }, time.Second).Should(BeTrue())

		adapter.end()
		bus.Publish(eventbus.PlaybackFinished, nil)

		Eventually(func() orchestrator.Phase {
			phase, _, _, _ := orch.Snapshot()
			return phase
		}, time.Second).Should(Equal(orchestrator.PhaseIdle))
	})
})
