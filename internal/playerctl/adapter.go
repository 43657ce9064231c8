// Package playerctl defines the uniform contract the orchestrator drives
// regardless of which external subprocess backend is actually doing the
// playing, plus the probe logic that picks one at startup.
package playerctl

import (
	"context"
	"time"

	"tryffel.net/go/airwave/internal/eventbus"
)

// Adapter drives one external playback backend. Exactly one subprocess
// exists per adapter instance; Play always stops any prior one first.
type Adapter interface {
	// Play begins playback of filePath from startOffsetMs and blocks
	// until playback ends for any reason (natural end, skip, error,
	// effects-driven restart). It emits PLAYBACK_STARTED on the bus
	// before blocking and PLAYBACK_FINISHED (or PLAYBACK_ERROR) before
	// returning.
	Play(ctx context.Context, filePath string, startOffsetMs int64) error

	// Stop terminates the subprocess and releases IPC resources. It is
	// idempotent.
	Stop() error

	Pause() error
	Resume() error
	Seek(positionMs int64) error

	GetPosition() (int64, error)

	SetVolume(percent int) error
	GetVolume() (int, error)

	// UpdateFilters instructs the backend to apply the current
	// externally supplied filter-chain string.
	UpdateFilters(chain string) error

	IsPlaying() bool

	// Name identifies the backend: "primary" or "fallback".
	Name() string
}

// Deps bundles the event bus an adapter reacts to while a Play call is in
// flight. The ipc and restart constructors take the bus directly rather
// than a Deps value.
type Deps struct {
	Bus *eventbus.Bus
}

// Timeouts shared by both backend implementations.
const (
	IPCRequestTimeout = 5 * time.Second
	KillGracePeriod   = 100 * time.Millisecond
)

// FinishedReason is why a backend published PLAYBACK_FINISHED.
type FinishedReason string

const (
	ReasonEnded   FinishedReason = "ended"
	ReasonSkipped FinishedReason = "skipped"
	ReasonError   FinishedReason = "error"
	ReasonSeek    FinishedReason = "seek"
	ReasonEffects FinishedReason = "effects"
	ReasonPaused  FinishedReason = "paused"
)

// Terminal reports whether reason means the track is actually over. Seek,
// effects, and paused are fallback-backend internal respawns: the same
// track resumes immediately after, so the queue must not advance and
// songsPlayed must not increment.
func (r FinishedReason) Terminal() bool {
	switch r {
	case ReasonSeek, ReasonEffects, ReasonPaused:
		return false
	default:
		return true
	}
}

// FinishedPayload is the payload both backends publish alongside
// PLAYBACK_FINISHED.
type FinishedPayload struct {
	FilePath string
	Reason   FinishedReason
}
