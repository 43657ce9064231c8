package repository

import (
	"sync"

	"tryffel.net/go/airwave/internal/model"
)

// Memory is an in-memory Repository used by tests that need a real
// PersistQueue/LoadQueue round trip without touching disk.
type Memory struct {
	mu       sync.Mutex
	songs    map[string]model.TrackDescriptor
	queue    []model.QueueItem
	snapshot *model.PlaybackSnapshot
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{songs: make(map[string]model.TrackDescriptor)}
}

func (m *Memory) UpsertSong(d model.TrackDescriptor) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.songs[d.Id] = d
	return d.Id, nil
}

func (m *Memory) GetSong(id string) (model.TrackDescriptor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.songs[id]
	return d, ok, nil
}

func (m *Memory) LoadQueue() ([]model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.QueueItem, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

func (m *Memory) PersistQueue(items []model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = make([]model.QueueItem, len(items))
	copy(m.queue, items)
	for _, it := range items {
		m.songs[it.Descriptor.Id] = it.Descriptor
	}
	return nil
}

func (m *Memory) LoadPlaybackSnapshot() (model.PlaybackSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return model.PlaybackSnapshot{}, false, nil
	}
	return *m.snapshot, true, nil
}

func (m *Memory) PersistPlaybackSnapshot(snap model.PlaybackSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snap
	return nil
}

func (m *Memory) Close() error { return nil }
