// Package resolver defines the external collaborator contract that turns
// user input (a URL, a search string, or a playlist reference) into one or
// more TrackDescriptors, and fetches the playable artifact for a
// descriptor onto local disk.
package resolver

import "tryffel.net/go/airwave/internal/model"

// ProgressPhase is the phase reported to a ProgressSink while an artifact
// is being fetched.
type ProgressPhase string

const (
	PhaseDownloading ProgressPhase = "downloading"
	PhaseConverting  ProgressPhase = "converting"
	PhaseComplete    ProgressPhase = "complete"
)

// Progress is one update emitted while fetching an artifact.
type Progress struct {
	Phase   ProgressPhase
	Percent int // 0-100, meaningful only while Phase == PhaseDownloading
}

// ProgressSink receives Progress updates. Implementations must not block.
type ProgressSink func(Progress)

// Iterator receives descriptors yielded by a playlist resolution beyond
// the first. The core treats each yielded descriptor as an independent
// queue add.
type Iterator func(model.TrackDescriptor)

// Resolver turns raw input into descriptors and materializes their
// artifacts on disk. Implementations must distinguish the four failure
// kinds (model.KindNotResolvable, KindTransientNetwork,
// KindPermanentRejected, KindToolUnavailable) via model.Error so the core
// can react appropriately
// (retry, surface to the requester, or disable a capability).
type Resolver interface {
	// Resolve interprets input (a URL, a search string, or a playlist
	// reference). For a single track it returns that track's descriptor.
	// For a playlist it returns the first descriptor and invokes yield
	// for every subsequent one.
	Resolve(input string, yield Iterator) (model.TrackDescriptor, error)

	// FetchArtifact downloads descriptor's media onto local disk,
	// reporting progress through sink, and returns the resulting file
	// path. It is idempotent: if the artifact already exists locally and
	// passes an integrity check, it returns immediately without
	// re-downloading.
	FetchArtifact(descriptor model.TrackDescriptor, sink ProgressSink) (string, error)
}
