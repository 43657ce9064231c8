// Package repository is the narrow persistence boundary the core consumes
// but does not implement: songs, the ordered queue, and the singleton
// playback snapshot. All writes must be durable before returning, and
// PersistQueue must be atomic with respect to concurrent reads.
package repository

import "tryffel.net/go/airwave/internal/model"

// Repository is the collaborator interface the orchestrator and queue
// manager depend on. Two implementations exist: sqlite-backed (Store) for
// production, and an in-memory one for tests.
type Repository interface {
	// UpsertSong persists descriptor, returning its stable id.
	UpsertSong(descriptor model.TrackDescriptor) (string, error)

	// GetSong returns the song with the given id, or ok=false if absent.
	GetSong(id string) (model.TrackDescriptor, bool, error)

	// LoadQueue returns the persisted queue in position order.
	LoadQueue() ([]model.QueueItem, error)

	// PersistQueue atomically replaces the persisted queue rows with
	// items, in order. Concurrent readers never observe a partial
	// replacement.
	PersistQueue(items []model.QueueItem) error

	// LoadPlaybackSnapshot returns the persisted snapshot, or ok=false if
	// none has ever been written.
	LoadPlaybackSnapshot() (model.PlaybackSnapshot, bool, error)

	// PersistPlaybackSnapshot overwrites the singleton snapshot row.
	PersistPlaybackSnapshot(snapshot model.PlaybackSnapshot) error

	// Close releases any underlying resources (e.g. the database handle).
	Close() error
}
