package repository

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tryffel.net/go/airwave/internal/model"
)

func TestMemory_PersistQueueRoundTrip(t *testing.T) {
	repo := NewMemory()

	dur := int64(60000)
	items := []model.QueueItem{
		{
			Descriptor: model.TrackDescriptor{Id: "a", SourceUri: "https://example/a", Title: "A", DurationMs: &dur},
			Requester:  "alice",
			Priority:   model.PriorityVip,
			AddedAt:    1,
		},
		{
			Descriptor: model.TrackDescriptor{Id: "b", SourceUri: "https://example/b", Title: "B"},
			Requester:  "bob",
			Priority:   model.PriorityNormal,
			AddedAt:    2,
		},
	}

	if err := repo.PersistQueue(items); err != nil {
		t.Fatalf("PersistQueue: %v", err)
	}

	got, err := repo.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}

	if diff := cmp.Diff(items, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMemory_PlaybackSnapshotRoundTrip(t *testing.T) {
	repo := NewMemory()

	if _, ok, err := repo.LoadPlaybackSnapshot(); err != nil || ok {
		t.Fatalf("expected no snapshot initially, got ok=%v err=%v", ok, err)
	}

	id := "a"
	want := model.PlaybackSnapshot{
		CurrentDescriptorId: &id,
		Phase:                model.PhasePlaying,
		SeekOffsetMs:         1500,
		SongsPlayedCounter:   3,
	}
	if err := repo.PersistPlaybackSnapshot(want); err != nil {
		t.Fatalf("PersistPlaybackSnapshot: %v", err)
	}

	got, ok, err := repo.LoadPlaybackSnapshot()
	if err != nil || !ok {
		t.Fatalf("expected snapshot present, got ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}
