// Package orchestrator is the playback state machine: Idle, Preparing,
// Playing, Paused. It is the single writer of current-track and phase
// state; every transition is taken under one lock so the invariants in
// the design (at most one processNext in flight, monotonic songsPlayed,
// debounced persistence) hold regardless of which goroutine triggered it.
package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/downloader"
	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/playerctl"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/repository"
)

// Phase mirrors model.Phase plus the in-flight Preparing state, which the
// persisted snapshot never needs to represent (Idle/Playing/Paused are persisted;
// Preparing is not, since a crash mid-prepare simply re-derives it from
// the queue on restart).
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhasePlaying   Phase = "playing"
	PhasePaused    Phase = "paused"
)

const persistDebounce = 500 * time.Millisecond

// CurrentTrack is the orchestrator's view of the item presently playing
// or being prepared.
type CurrentTrack struct {
	Item     model.QueueItem
	FilePath string
}

// Orchestrator owns phase, the current track, and the persisted
// playback snapshot. It calls the queue, repository, downloader and
// adapter directly through the references passed to New, and exchanges
// everything else with the rest of the system over bus.
type Orchestrator struct {
	bus        *eventbus.Bus
	q          *queue.Manager
	repo       repository.Repository
	downloader *downloader.Pipeline
	adapter    playerctl.Adapter

	mu                sync.Mutex
	phase             Phase
	current           *CurrentTrack
	startedAt         time.Time
	pausedAt          time.Time
	seekOffsetMs      int64
	songsPlayed       int64
	processing        bool
	adapterIsFallback bool

	persistTimer *time.Timer
}

// New builds an idle orchestrator. Call LoadSnapshot once at startup
// before Start.
func New(bus *eventbus.Bus, q *queue.Manager, repo repository.Repository, dl *downloader.Pipeline, adapter playerctl.Adapter, adapterIsFallback bool) *Orchestrator {
	o := &Orchestrator{
		bus:               bus,
		q:                 q,
		repo:              repo,
		downloader:        dl,
		adapter:           adapter,
		phase:             PhaseIdle,
		adapterIsFallback: adapterIsFallback,
	}
	return o
}

// LoadSnapshot restores the songsPlayed counter and seek offset from the
// repository. If the snapshot names no file, or a file that no longer
// exists, the phase resets to idle; if the file still exists the phase is
// set to paused, so playback never resumes on its own. The current track
// itself is not restored.
func (o *Orchestrator) LoadSnapshot() error {
	snap, ok, err := o.repo.LoadPlaybackSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.songsPlayed = snap.SongsPlayedCounter
	o.seekOffsetMs = snap.SeekOffsetMs

	if snap.CurrentFilePath == nil {
		o.phase = PhaseIdle
		return nil
	}
	if _, statErr := os.Stat(*snap.CurrentFilePath); statErr != nil {
		logrus.Warnf("orchestrator: snapshot file %s missing, resetting to idle", *snap.CurrentFilePath)
		o.phase = PhaseIdle
		return nil
	}

	o.phase = PhasePaused // never auto-resume; require explicit resume or new enqueue
	return nil
}

// Start subscribes to the bus and begins reacting to queue and playback
// events. It does not itself start playback; the first QUEUE_ITEM_ADDED
// (or a non-empty queue already present) triggers processNext.
func (o *Orchestrator) Start() error {
	o.bus.Subscribe(o.onEvent,
		eventbus.QueueItemAdded, eventbus.PlaybackPause, eventbus.PlaybackResume,
		eventbus.PlaybackSeek, eventbus.PlaybackSkip, eventbus.PlaybackFinished,
		eventbus.PlaybackError, eventbus.EffectsChanged,
	)

	if len(o.q.Snapshot()) > 0 && o.currentPhase() == PhaseIdle {
		o.maybeProcessNext()
	}
	return nil
}

// Stop clears the queue, stops the adapter, and resets to idle.
func (o *Orchestrator) Stop() error {
	o.q.Clear()
	_ = o.adapter.Stop()

	o.mu.Lock()
	o.phase = PhaseIdle
	o.current = nil
	o.songsPlayed = 0
	o.seekOffsetMs = 0
	o.mu.Unlock()

	return o.persistNow()
}

func (o *Orchestrator) currentPhase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) onEvent(e eventbus.Event) {
	switch e.Topic {
	case eventbus.QueueItemAdded:
		o.maybeProcessNext()
	case eventbus.PlaybackPause:
		o.handlePause()
	case eventbus.PlaybackResume:
		o.handleResume()
	case eventbus.PlaybackSeek:
		if ms, ok := e.Payload.(int64); ok {
			o.handleSeek(ms)
		}
	case eventbus.PlaybackSkip:
		o.handleSkip()
	case eventbus.PlaybackFinished:
		if fp, ok := e.Payload.(playerctl.FinishedPayload); ok && !fp.Reason.Terminal() {
			// Fallback backend's internal respawn (seek/effects/paused):
			// the same track resumes momentarily, so the queue must not
			// advance.
			return
		}
		o.handleFinished()
	case eventbus.PlaybackError:
		logrus.Errorf("orchestrator: playback error: %v", e.Payload)
		o.handleFinished()
	case eventbus.EffectsChanged:
		if o.adapterIsFallback {
			// the fallback adapter handles its own restart-at-offset
			// internally via its own bus subscription; nothing to do.
			return
		}
		if chain, ok := e.Payload.(string); ok {
			_ = o.adapter.UpdateFilters(chain)
		}
	}
}

// maybeProcessNext starts processNext only if idle and not already
// processing; re-entrant triggers are coalesced by the processing flag.
func (o *Orchestrator) maybeProcessNext() {
	o.mu.Lock()
	if o.processing || o.phase != PhaseIdle {
		o.mu.Unlock()
		return
	}
	o.processing = true
	o.phase = PhasePreparing
	o.mu.Unlock()

	go o.processNext()
}

// processNext pulls the head of the queue, ensures its artifact is
// ready (preempting the download pipeline in the foreground), then hands
// off to the adapter. Failed items are skipped in a loop until a ready
// item is found or the queue empties.
func (o *Orchestrator) processNext() {
	defer func() {
		o.mu.Lock()
		o.processing = false
		o.mu.Unlock()
	}()

	for {
		item, ok := o.q.Peek()
		if !ok {
			o.mu.Lock()
			o.phase = PhaseIdle
			o.mu.Unlock()
			return
		}

		if item.DownloadState.Failed() {
			_, _ = o.q.Pop()
			continue
		}

		path := item.DownloadState.FilePath
		if !item.DownloadState.Ready() {
			fetched, err := o.downloader.Fetch(context.Background(), item, true)
			if err != nil {
				o.q.UpdateDownloadState(item.Id(), model.DownloadState{Phase: model.DownloadFailed, Reason: err.Error()})
				_, _ = o.q.Pop()
				continue
			}
			path = fetched
		}

		o.beginPlaying(item, path)
		return
	}
}

func (o *Orchestrator) beginPlaying(item model.QueueItem, path string) {
	o.mu.Lock()
	o.current = &CurrentTrack{Item: item, FilePath: path}
	o.phase = PhasePlaying
	o.startedAt = time.Now()
	o.seekOffsetMs = 0
	o.mu.Unlock()

	o.bus.Publish(eventbus.PlaybackRequested, item)
	if err := o.persistNow(); err != nil {
		logrus.Errorf("orchestrator: persist snapshot: %v", err)
	}

	go func() {
		if err := o.adapter.Play(context.Background(), path, 0); err != nil {
			logrus.Errorf("orchestrator: adapter play error: %v", err)
			o.bus.Publish(eventbus.PlaybackError, err)
		}
	}()
}

func (o *Orchestrator) handlePause() {
	o.mu.Lock()
	if o.phase != PhasePlaying {
		o.mu.Unlock()
		return
	}
	o.phase = PhasePaused
	o.pausedAt = time.Now()
	o.mu.Unlock()

	o.bus.Publish(eventbus.PlaybackPause, nil)
	o.schedulePersist()
}

func (o *Orchestrator) handleResume() {
	o.mu.Lock()
	if o.phase != PhasePaused {
		o.mu.Unlock()
		return
	}
	pausedDuration := time.Since(o.pausedAt)
	o.startedAt = o.startedAt.Add(pausedDuration)
	o.phase = PhasePlaying
	o.mu.Unlock()

	o.bus.Publish(eventbus.PlaybackResume, nil)
	o.schedulePersist()
}

func (o *Orchestrator) handleSeek(positionMs int64) {
	o.mu.Lock()
	if o.phase != PhasePlaying && o.phase != PhasePaused {
		o.mu.Unlock()
		return
	}
	changed := o.seekOffsetMs != positionMs
	o.seekOffsetMs = positionMs
	o.startedAt = time.Now()
	if o.phase == PhasePaused {
		o.pausedAt = o.startedAt
	}
	o.mu.Unlock()

	if changed {
		o.bus.Publish(eventbus.PlaybackSeek, positionMs)
	}
	o.schedulePersist()
}

func (o *Orchestrator) handleSkip() {
	o.mu.Lock()
	if o.current == nil || o.phase == PhasePreparing {
		o.mu.Unlock()
		return
	}
	o.phase = PhasePreparing
	o.mu.Unlock()

	o.bus.Publish(eventbus.PlaybackSkip, nil)
}

func (o *Orchestrator) handleFinished() {
	o.mu.Lock()
	o.songsPlayed++
	o.current = nil
	o.phase = PhaseIdle
	o.mu.Unlock()

	_, _ = o.q.Pop()
	_ = o.persistNow()

	o.maybeProcessNext()
}

// Elapsed reports the current track's elapsed playback time in
// milliseconds, per the phase-dependent formula: while playing it is
// now-startedAt; while paused it is pausedAt-startedAt; both are offset
// by the last seek position.
func (o *Orchestrator) Elapsed() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.phase {
	case PhasePlaying:
		return o.seekOffsetMs + time.Since(o.startedAt).Milliseconds()
	case PhasePaused:
		return o.seekOffsetMs + o.pausedAt.Sub(o.startedAt).Milliseconds()
	default:
		return 0
	}
}

// Snapshot returns the orchestrator's externally observable state.
func (o *Orchestrator) Snapshot() (phase Phase, current *CurrentTrack, songsPlayed int64, elapsedMs int64) {
	o.mu.Lock()
	phase = o.phase
	current = o.current
	songsPlayed = o.songsPlayed
	o.mu.Unlock()
	return phase, current, songsPlayed, o.Elapsed()
}

func (o *Orchestrator) schedulePersist() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.persistTimer != nil {
		o.persistTimer.Stop()
	}
	o.persistTimer = time.AfterFunc(persistDebounce, func() {
		if err := o.persistNow(); err != nil {
			logrus.Errorf("orchestrator: persist snapshot: %v", err)
		}
	})
}

func (o *Orchestrator) persistNow() error {
	o.mu.Lock()
	snap := o.toSnapshotLocked()
	o.mu.Unlock()
	return o.repo.PersistPlaybackSnapshot(snap)
}

func (o *Orchestrator) toSnapshotLocked() model.PlaybackSnapshot {
	snap := model.PlaybackSnapshot{
		SeekOffsetMs:       o.seekOffsetMs,
		SongsPlayedCounter: o.songsPlayed,
	}
	switch o.phase {
	case PhasePlaying:
		snap.Phase = model.PhasePlaying
	case PhasePaused:
		snap.Phase = model.PhasePaused
	default:
		snap.Phase = model.PhaseIdle
	}
	if o.current != nil {
		id := o.current.Item.Id()
		path := o.current.FilePath
		snap.CurrentDescriptorId = &id
		snap.CurrentFilePath = &path
	}
	return snap
}
